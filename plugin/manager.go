package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wasmforge/kernel/metrics"
	"github.com/wasmforge/kernel/sandbox"
)

// Manager is the lifecycle manager (C5): it owns the name -> instance
// table, holds the shared sandbox engine, and drives discovery,
// resolution, load, dispatch, and unload.
type Manager struct {
	engine  *sandbox.Engine
	cfg     sandbox.Config
	metrics *metrics.Registry

	mu        sync.RWMutex
	instances map[string]*sandbox.Instance
	infos     map[string]Info
}

// NewManager constructs a lifecycle manager bound to engine, the host ABI
// capability table already wired by the caller. reg may be nil, in which
// case plugin load timing is not recorded.
func NewManager(engine *sandbox.Engine, cfg sandbox.Config, reg *metrics.Registry) *Manager {
	return &Manager{
		engine:    engine,
		cfg:       cfg,
		metrics:   reg,
		instances: make(map[string]*sandbox.Instance),
		infos:     make(map[string]Info),
	}
}

// Load loads every name in order (as produced by Resolve) that is not
// already loaded. Instance construction is fatal per-plugin but the batch
// continues on to the next name (best-effort per SPEC_FULL.md §4.5.3).
func (m *Manager) Load(graph map[string]Info, order []string) []error {
	var errs []error

	for _, name := range order {
		if m.IsLoaded(name) {
			continue
		}
		info, ok := graph[name]
		if !ok {
			continue
		}

		info.State = Loading
		m.setInfo(name, info)

		wasmBytes, err := os.ReadFile(info.Path)
		if err != nil {
			info.State = Error
			m.setInfo(name, info)
			errs = append(errs, fmt.Errorf("plugin %s: read binary: %w", name, err))
			continue
		}

		loadStart := time.Now()
		inst, err := m.engine.Load(name, wasmBytes, name, m.cfg)
		if m.metrics != nil {
			m.metrics.PluginLoadTime.Observe(time.Since(loadStart).Seconds())
		}
		if err != nil {
			info.State = Error
			m.setInfo(name, info)
			errs = append(errs, fmt.Errorf("plugin %s: %w", name, err))
			continue
		}

		info.State = Loaded
		info.Loaded = true
		m.setInfo(name, info)

		m.mu.Lock()
		m.instances[name] = inst
		m.mu.Unlock()
	}

	return errs
}

// Call dispatches a function invocation to name's sandbox instance,
// marshalling input to JSON and unmarshalling the result into output.
func (m *Manager) Call(ctx context.Context, name, function string, input any, output any) error {
	m.mu.RLock()
	inst, ok := m.instances[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	argJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("plugin %s: marshal input: %w", name, err)
	}

	resultJSON, err := inst.Call(ctx, function, string(argJSON))
	if err != nil {
		return err
	}

	if output == nil {
		return nil
	}
	return json.Unmarshal([]byte(resultJSON), output)
}

// Unload removes name from the instance table. Per SPEC_FULL.md §4.5.5,
// the manager does not unregister the plugin from the bus itself; the
// orchestrator must drain the plugin's mailbox and call the bus handle's
// UnregisterPlugin before or after this, as its draining strategy
// requires.
func (m *Manager) Unload(name string) error {
	info, ok := m.getInfo(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if info.State != Loaded {
		return fmt.Errorf("%w: %s is %s, not loaded", ErrInvalidState, name, info.State)
	}

	info.State = Unloading
	m.setInfo(name, info)

	m.mu.Lock()
	inst, ok := m.instances[name]
	delete(m.instances, name)
	m.mu.Unlock()
	if ok {
		inst.Close()
	}

	info.State = Unloaded
	info.Loaded = false
	m.setInfo(name, info)
	return nil
}

// IsLoaded reports whether name currently has a live instance.
func (m *Manager) IsLoaded(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.instances[name]
	return ok
}

// Info returns the current descriptor for name.
func (m *Manager) Info(name string) (Info, bool) {
	return m.getInfo(name)
}

func (m *Manager) setInfo(name string, info Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos[name] = info
}

func (m *Manager) getInfo(name string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.infos[name]
	return info, ok
}
