package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/hookd/pkg/auth"
	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/runtime"
	"github.com/kadirpekel/hookd/pkg/server"
)

// ServeCmd starts the HTTP control API.
type ServeCmd struct {
	Address string `short:"a" help:"Address to listen on (overrides server.address)."`
	Watch   bool   `help:"Watch the config source and reload hooks on change."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rt *runtime.Runtime
	cfg, loader, err := cli.loadConfig(ctx, config.WithOnChange(func(next *config.Config) {
		if err := rt.Reload(next); err != nil {
			slog.Error("Config reload rejected", "error", err)
			return
		}
		slog.Info("Hooks reloaded", "count", len(rt.Manager().Hooks()))
	}))
	if err != nil {
		return err
	}
	defer loader.Close()

	if c.Address != "" {
		cfg.Server.Address = c.Address
	}

	rt, err = runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			slog.Warn("Runtime shutdown incomplete", "error", err)
		}
	}()

	var validator *auth.Validator
	if cfg.Server.Auth.IsEnabled() {
		validator, err = auth.NewValidator(ctx, cfg.Server.Auth)
		if err != nil {
			return fmt.Errorf("failed to create auth validator: %w", err)
		}
		defer validator.Close()
		slog.Info("Authentication enabled", "issuer", cfg.Server.Auth.Issuer)
	}

	srv, err := server.New(server.Options{
		Config:        cfg.Server,
		Engine:        rt.Manager(),
		History:       rt.History(),
		Observability: rt.Observability(),
		Auth:          validator,
		Logger:        slog.Default(),
	})
	if err != nil {
		return err
	}

	if c.Watch {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	fmt.Fprintf(cli.stdout(), "hookd listening on %s (%d hooks)\n", cfg.Server.Address, len(rt.Manager().Hooks()))
	return srv.Run(ctx)
}
