// Package runtime wires the five core components (identity, storage, bus,
// host ABI, lifecycle manager) plus the ambient config/logging/metrics
// stack into a single runnable process.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/wasmforge/kernel/abi"
	"github.com/wasmforge/kernel/bus"
	"github.com/wasmforge/kernel/config"
	"github.com/wasmforge/kernel/identity"
	"github.com/wasmforge/kernel/logging"
	"github.com/wasmforge/kernel/metrics"
	"github.com/wasmforge/kernel/plugin"
	"github.com/wasmforge/kernel/sandbox"
	"github.com/wasmforge/kernel/storage"
)

// Runtime is the assembled runtime: every component from SPEC_FULL.md §2
// constructed and wired together.
type Runtime struct {
	Config  *config.Config
	Logger  logging.Logger
	Metrics *metrics.Registry

	Identity *identity.Manager
	Storage  *storage.Store
	Handle   *bus.Handle
	Router   *bus.Router
	ABI      *abi.Surface
	Plugins  *plugin.Manager

	cancel context.CancelFunc
}

// New constructs every component from cfg but does not yet start the
// router or load any plugins; call Run for that.
func New(cfg *config.Config) (*Runtime, error) {
	logger := logging.New()
	if cfg.Log.Format == "json" {
		logger = logging.NewJSON()
	}
	logger.SetLevel(parseLevel(cfg.Log.Level))

	reg := metrics.New()

	idMgr, err := identity.LoadOrCreate(identity.Config{
		AllowEnv:           cfg.Identity.AllowEnv,
		PrivateKeyFile:     cfg.Identity.PrivateKeyFile,
		UseCredentialStore: cfg.Identity.UseCredentialStore,
		StoreTimeout:       time.Duration(cfg.Identity.StoreTimeoutSecs) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: identity: %w", err)
	}

	store, err := storage.Open(storage.Config{
		URL:            cfg.Database.URL,
		MaxConnections: cfg.Database.MaxConnections,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		Metrics:        reg,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: storage: %w", err)
	}

	handle, router := bus.New(bus.WithLogger(logger), bus.WithMetrics(reg))

	surface := abi.New(idMgr, store, handle, logger, 32, cfg.Plugins.CallTimeout)

	engine := sandbox.NewEngine(surface.HostFunctions())
	plugins := plugin.NewManager(engine, sandbox.Config{
		MemoryPages: uint32(cfg.Plugins.MemoryCapMB) * 16, // 64KiB pages per MiB
		CallTimeout: cfg.Plugins.CallTimeout,
	}, reg)

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Metrics:  reg,
		Identity: idMgr,
		Storage:  store,
		Handle:   handle,
		Router:   router,
		ABI:      surface,
		Plugins:  plugins,
	}, nil
}

// Run starts the router and, if AutoLoad is set, discovers and loads
// every plugin under the configured directory. It blocks until ctx is
// cancelled or Shutdown is called.
func (k *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	k.cancel = cancel

	if k.Config.Plugins.AutoLoad {
		if err := k.loadAll(); err != nil {
			k.Logger.Error("kernel: initial plugin load: %v", err)
		}
	}

	if k.Config.Plugins.HotReload {
		watcher := plugin.NewWatcher(k.Config.Plugins.Directory, func(ctx context.Context) {
			k.Logger.Info("kernel: plugin directory changed, re-discovering")
			if err := k.loadAll(); err != nil {
				k.Logger.Error("kernel: hot reload: %v", err)
			}
		}, k.Logger)
		if err := watcher.Start(ctx); err != nil {
			k.Logger.Error("kernel: hot reload watcher: %v", err)
		}
	}

	return k.Router.Run(ctx)
}

func (k *Runtime) loadAll() error {
	infos, err := plugin.Discover(k.Config.Plugins.Directory)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	graph := make(map[string]plugin.Info, len(infos))
	targets := make([]string, 0, len(infos))
	for _, info := range infos {
		if len(k.Config.Plugins.Enable) > 0 && !contains(k.Config.Plugins.Enable, info.Name) {
			continue
		}
		graph[info.Name] = info
		targets = append(targets, info.Name)
	}

	res, err := plugin.Resolve(graph, targets)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		k.Logger.Warn("kernel: %s", w)
	}

	var fresh []string
	for _, name := range res.Order {
		if !k.Plugins.IsLoaded(name) {
			fresh = append(fresh, name)
		}
	}
	for _, loadErr := range k.Plugins.Load(graph, res.Order) {
		k.Logger.Error("kernel: %v", loadErr)
	}
	for _, name := range fresh {
		if k.Plugins.IsLoaded(name) {
			k.Handle.RegisterPlugin(name)
			k.Metrics.PluginsLoaded.Inc()
		}
	}
	return nil
}

// Shutdown signals the bus and stops the router loop.
func (k *Runtime) Shutdown() {
	k.Handle.Shutdown()
	if k.cancel != nil {
		k.cancel()
	}
	k.Storage.Close()
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func parseLevel(s string) logging.Level {
	switch s {
	case "error":
		return logging.Error
	case "warn":
		return logging.Warn
	case "debug":
		return logging.Debug
	default:
		return logging.Info
	}
}
