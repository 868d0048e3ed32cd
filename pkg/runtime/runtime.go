// Package runtime assembles a hook manager, its capabilities and its
// observers from a configuration document.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kadirpekel/hookd"
	"github.com/kadirpekel/hookd/pkg/capability/database"
	"github.com/kadirpekel/hookd/pkg/capability/filesystem"
	"github.com/kadirpekel/hookd/pkg/capability/mcp"
	"github.com/kadirpekel/hookd/pkg/capability/plugin"
	"github.com/kadirpekel/hookd/pkg/capability/queue"
	"github.com/kadirpekel/hookd/pkg/capability/script"
	"github.com/kadirpekel/hookd/pkg/capability/webhook"
	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/history"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
	"github.com/kadirpekel/hookd/pkg/hooks/manager"
	"github.com/kadirpekel/hookd/pkg/observability"
)

const managerTracer = "hookd.manager"

// Runtime owns everything built from one configuration.
type Runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	manager *manager.Manager
	pool    *config.DBPool
	obs     *observability.Manager
	history history.Store
	closers []io.Closer
}

// Option configures a Runtime.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	capabilities []executor.Capability
	noHistory    bool
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCapability registers an additional capability. It replaces a
// built-in capability with the same label.
func WithCapability(c executor.Capability) Option {
	return func(o *options) { o.capabilities = append(o.capabilities, c) }
}

// WithoutHistory skips the history store even when the config enables it.
func WithoutHistory() Option {
	return func(o *options) { o.noHistory = true }
}

// New builds a runtime. cfg must already carry defaults and be valid.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Runtime{cfg: cfg, logger: o.logger, pool: config.NewDBPool()}
	ok := false
	defer func() {
		if !ok {
			_ = r.Close(context.WithoutCancel(ctx))
		}
	}()

	obsCfg := cfg.Observability
	if obsCfg.Tracing.ServiceVersion == "" {
		obsCfg.Tracing.ServiceVersion = hookd.GetVersion().Version
	}
	r.obs = observability.NewManager(obsCfg)
	if err := r.obs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if cfg.History.Enabled && !o.noHistory {
		store, err := history.New(ctx, cfg.History, r.pool, cfg.Capabilities.Databases)
		if err != nil {
			return nil, fmt.Errorf("failed to create history store: %w", err)
		}
		r.history = store
		r.logger.Info("Execution history enabled", "backend", cfg.History.Backend)
	}

	workingDir := cfg.Hooks.WorkingDir
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		workingDir = wd
	}

	mopts := []manager.Option{
		manager.WithLogger(r.logger),
		manager.WithWorkingDir(workingDir),
		manager.WithEnvironment(cfg.Hooks.Environment),
		manager.WithMaxWorkers(cfg.Hooks.MaxWorkers),
		manager.WithDefaults(cfg.Hooks.Defaults.ExecutorConfig()),
		manager.WithEnabled(cfg.Hooks.IsEnabled()),
		manager.WithTracer(r.obs.Tracer(managerTracer)),
	}
	if m := r.obs.Metrics(); m != nil {
		mopts = append(mopts, manager.WithObserver(m))
	}
	if r.history != nil {
		mopts = append(mopts, manager.WithObserver(history.NewRecorder(r.history, r.logger)))
	}
	r.manager = manager.New(mopts...)

	caps, err := r.builtins()
	if err != nil {
		return nil, err
	}
	caps = append(caps, o.capabilities...)
	for _, c := range caps {
		if _, exists := r.manager.Registry().Get(c.Type()); exists {
			_ = r.manager.Registry().Remove(c.Type())
		}
		if err := r.manager.RegisterCapability(c); err != nil {
			return nil, fmt.Errorf("failed to register capability %s: %w", c.Type(), err)
		}
	}

	if err := r.loadHooks(cfg); err != nil {
		return nil, err
	}
	ok = true
	return r, nil
}

func (r *Runtime) builtins() ([]executor.Capability, error) {
	caps := r.cfg.Capabilities

	wh, err := webhook.New(caps.Webhook)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook capability: %w", err)
	}
	db := database.New(r.pool, caps.Databases)
	mc := mcp.New(caps.MCP)
	q := queue.New(queue.NewRedisPublisher(caps.Queue.Redis))
	pl := plugin.New(caps.Plugins)
	r.closers = append(r.closers, mc, q, pl)

	return []executor.Capability{
		script.New(caps.Script),
		wh,
		db,
		filesystem.New(caps.Filesystem),
		mc,
		q,
		pl,
	}, nil
}

func (r *Runtime) loadHooks(cfg *config.Config) error {
	defs, err := cfg.Hooks.HookDefinitions()
	if err != nil {
		return err
	}
	if err := r.manager.ReplaceHooks(defs); err != nil {
		return fmt.Errorf("invalid hook set: %w", err)
	}
	r.logger.Info("Hooks loaded", "count", len(defs), "enabled", cfg.Hooks.IsEnabled())
	return nil
}

// Reload swaps in the hooks of a new configuration. Capability,
// history and observability settings apply on restart only.
func (r *Runtime) Reload(cfg *config.Config) error {
	if err := r.loadHooks(cfg); err != nil {
		return err
	}
	r.manager.SetEnabled(cfg.Hooks.IsEnabled())
	r.cfg = cfg
	return nil
}

func (r *Runtime) Config() *config.Config                { return r.cfg }
func (r *Runtime) Manager() *manager.Manager             { return r.manager }
func (r *Runtime) History() history.Store                { return r.history }
func (r *Runtime) Observability() *observability.Manager { return r.obs }

// Close waits for running hooks and releases every resource.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.manager != nil {
		if err := r.manager.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("manager: %w", err))
		}
	}
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.history != nil {
		errs = append(errs, r.history.Close())
	}
	errs = append(errs, r.pool.Close())
	if r.obs != nil {
		errs = append(errs, r.obs.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
