package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/dependency"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
	"github.com/kadirpekel/hookd/pkg/hooks/manager"
)

// Report summarizes a checked configuration.
type Report struct {
	Graph        dependency.Stats
	Capabilities []string
	Hooks        int
}

// Check builds the hook graph of cfg against the built-in capabilities
// and runs every hook's settings validation. Nothing is connected or
// executed.
func Check(ctx context.Context, cfg *config.Config) (Report, error) {
	r := &Runtime{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil)), pool: config.NewDBPool()}
	defer r.pool.Close()

	r.manager = manager.New(manager.WithLogger(r.logger))
	caps, err := r.builtins()
	if err != nil {
		return Report{}, err
	}
	defer func() {
		for _, c := range r.closers {
			_ = c.Close()
		}
	}()
	for _, c := range caps {
		if err := r.manager.RegisterCapability(c); err != nil {
			return Report{}, err
		}
	}

	defs, err := cfg.Hooks.HookDefinitions()
	if err != nil {
		return Report{}, err
	}
	if err := r.manager.ReplaceHooks(defs); err != nil {
		return Report{}, err
	}

	workingDir := cfg.Hooks.WorkingDir
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}

	var errs []error
	for _, def := range r.manager.Hooks() {
		c, err := r.manager.Registry().Resolve(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p, ok := c.(executor.Preparer)
		if !ok {
			continue
		}
		hc := hooks.NewSnapshot(hooks.NewEvent(def.Event, nil), workingDir, cfg.Hooks.Environment).For(def)
		if err := p.Prepare(ctx, hc); err != nil {
			errs = append(errs, fmt.Errorf("hook %s: %w", def.ID, err))
		}
	}

	stats := r.manager.Stats()
	return Report{
		Graph:        stats.Graph,
		Capabilities: stats.Capabilities,
		Hooks:        len(defs),
	}, errors.Join(errs...)
}
