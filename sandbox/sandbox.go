// Package sandbox wraps a WebAssembly engine (SPEC_FULL.md §4.4, §6) and
// binds the fixed host capability table to each instantiated plugin
// module. It isolates the rest of the kernel from the wasmtime-go API
// surface: callers only see Instance.Call and the HostFunctions table.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v3"
)

// HostFunc is a single host capability bound into a plugin's sandbox. It
// receives the calling plugin's declared identity and the raw JSON
// argument string, and returns the raw JSON result string (already
// wrapped in the {success,data?,error?} envelope by the caller).
type HostFunc func(pluginID string, argJSON string) string

// Config bounds a single plugin instance's resource usage.
type Config struct {
	// MemoryPages caps linear memory, in 64KiB pages. Zero means the
	// engine default (no explicit cap beyond the module's own limits).
	MemoryPages uint32
	// CallTimeout bounds every exported function invocation.
	CallTimeout time.Duration
}

// Engine owns the wasmtime compilation engine shared across every plugin
// instance in the process; compiled modules and the engine are safe for
// concurrent use once built.
type Engine struct {
	engine *wasmtime.Engine
	hostFn map[string]HostFunc
}

// NewEngine constructs an Engine and binds host, the fixed capability
// table every plugin's sandbox will see under the "host" import module.
func NewEngine(host map[string]HostFunc) *Engine {
	cfg := wasmtime.NewConfig()
	cfg.SetConsumeFuel(false)
	return &Engine{engine: wasmtime.NewEngineWithConfig(cfg), hostFn: host}
}

// Instance is one loaded plugin's sandbox: its own Store (wasmtime state
// is not shareable across concurrent callers) bound to the shared
// compiled Module.
type Instance struct {
	name    string
	store   *wasmtime.Store
	inst    *wasmtime.Instance
	memory  *wasmtime.Memory
	alloc   *wasmtime.Func
	dealloc *wasmtime.Func
	timeout time.Duration
}

// Load compiles wasmBytes and instantiates it, binding every entry of the
// engine's host capability table under the "host" import namespace.
// Construction is fatal on failure; the caller decides whether to
// continue loading the rest of a batch.
func (e *Engine) Load(name string, wasmBytes []byte, pluginID string, cfg Config) (*Instance, error) {
	module, err := wasmtime.NewModule(e.engine, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile %s: %w", name, err)
	}

	store := wasmtime.NewStore(e.engine)
	if cfg.MemoryPages > 0 {
		store.Limiter(0, int64(cfg.MemoryPages)*wasmPageSize, -1, -1, -1)
	}

	linker := wasmtime.NewLinker(e.engine)
	if err := linker.DefineWasi(); err != nil {
		return nil, fmt.Errorf("sandbox: define wasi: %w", err)
	}
	wasiCfg := wasmtime.NewWasiConfig()
	wasiCfg.InheritStdout()
	wasiCfg.InheritStderr()
	store.SetWasi(wasiCfg)

	for capName, fn := range e.hostFn {
		bound := fn
		hostCap := capName
		err := linker.DefineFunc(store, "host", capName, func(caller *wasmtime.Caller, argPtr, argLen int32) int64 {
			mem := caller.GetExport("memory").Memory()
			data := mem.UnsafeData(store)
			if int(argPtr)+int(argLen) > len(data) {
				return 0
			}
			arg := string(data[argPtr : argPtr+argLen])
			result := bound(pluginID, arg)
			return writeResult(store, caller, result, hostCap)
		})
		if err != nil {
			return nil, fmt.Errorf("sandbox: bind host.%s: %w", capName, err)
		}
	}

	inst, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, fmt.Errorf("sandbox: instantiate %s: %w", name, err)
	}

	memExport := inst.GetExport(store, "memory")
	if memExport == nil || memExport.Memory() == nil {
		return nil, fmt.Errorf("sandbox: %s does not export linear memory", name)
	}

	si := &Instance{
		name:    name,
		store:   store,
		inst:    inst,
		memory:  memExport.Memory(),
		timeout: cfg.CallTimeout,
	}
	if allocFn := inst.GetFunc(store, "allocate"); allocFn != nil {
		si.alloc = allocFn
	}
	if deallocFn := inst.GetFunc(store, "deallocate"); deallocFn != nil {
		si.dealloc = deallocFn
	}
	return si, nil
}

const wasmPageSize = 64 * 1024

// writeResult packs a response string into the calling module's linear
// memory (via its exported allocate function, if present) and returns the
// pointer and length packed into a single i64 as (ptr<<32 | len), the
// convention every guest-side SDK wrapper expects.
func writeResult(store *wasmtime.Store, caller *wasmtime.Caller, s string, hostCap string) int64 {
	allocExport := caller.GetExport("allocate")
	memExport := caller.GetExport("memory")
	if allocExport == nil || allocExport.Func() == nil || memExport == nil || memExport.Memory() == nil {
		return 0
	}
	mem := memExport.Memory()
	alloc := allocExport.Func()

	raw, err := alloc.Call(store, int32(len(s)))
	if err != nil {
		return 0
	}
	ptr, ok := raw.(int32)
	if !ok {
		return 0
	}

	data := mem.UnsafeData(store)
	if int(ptr)+len(s) > len(data) {
		return 0
	}
	copy(data[ptr:], s)

	return packPtrLen(ptr, int32(len(s)))
}

func packPtrLen(ptr, length int32) int64 {
	return int64(uint32(ptr))<<32 | int64(uint32(length))
}

// Call invokes a guest export by name with a JSON argument string and
// returns the raw JSON envelope the guest produced. Sandbox errors (traps,
// missing exports) are returned unchanged rather than swallowed.
func (si *Instance) Call(ctx context.Context, export string, argJSON string) (string, error) {
	fn := si.inst.GetFunc(si.store, export)
	if fn == nil {
		return "", fmt.Errorf("sandbox: %s: no export %q", si.name, export)
	}

	if si.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, si.timeout)
		defer cancel()
	}

	ptr, length, err := si.writeArg(argJSON)
	if err != nil {
		return "", fmt.Errorf("sandbox: %s: writing argument: %w", si.name, err)
	}

	done := make(chan struct {
		val interface{}
		err error
	}, 1)
	go func() {
		val, err := fn.Call(si.store, ptr, length)
		done <- struct {
			val interface{}
			err error
		}{val, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("sandbox: %s: %s: %w", si.name, export, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("sandbox: %s: %s: %w", si.name, export, r.err)
		}
		return si.readResult(r.val)
	}
}

func (si *Instance) writeArg(s string) (int32, int32, error) {
	if si.alloc == nil {
		return 0, 0, fmt.Errorf("module does not export allocate")
	}
	raw, err := si.alloc.Call(si.store, int32(len(s)))
	if err != nil {
		return 0, 0, err
	}
	ptr, ok := raw.(int32)
	if !ok {
		return 0, 0, fmt.Errorf("allocate did not return an i32 pointer")
	}
	data := si.memory.UnsafeData(si.store)
	if int(ptr)+len(s) > len(data) {
		return 0, 0, fmt.Errorf("allocation out of bounds")
	}
	copy(data[ptr:], s)
	return ptr, int32(len(s)), nil
}

func (si *Instance) readResult(raw interface{}) (string, error) {
	packed, ok := raw.(int64)
	if !ok {
		return "", fmt.Errorf("export did not return a packed (ptr,len) i64")
	}
	ptr := int32(packed >> 32)
	length := int32(packed & 0xffffffff)
	data := si.memory.UnsafeData(si.store)
	if ptr < 0 || length < 0 || int(ptr)+int(length) > len(data) {
		return "", fmt.Errorf("export returned out-of-bounds result")
	}
	out := string(data[ptr : ptr+length])
	if si.dealloc != nil {
		_, _ = si.dealloc.Call(si.store, ptr, length)
	}
	return out, nil
}

// Close releases the instance's store. Safe to call once; the wasmtime
// store is not reused afterward.
func (si *Instance) Close() {
	// wasmtime-go stores are reclaimed by the Go garbage collector; there
	// is no explicit Close on Store, but we drop our references so
	// nothing in the kernel can keep calling into a retired instance.
	si.inst = nil
	si.memory = nil
	si.alloc = nil
	si.dealloc = nil
}
