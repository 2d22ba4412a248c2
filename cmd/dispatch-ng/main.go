//go:build linux

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	hcversion "github.com/hashicorp/go-version"

	"github.com/hewenhao2008/dispatch-ng/internal/config"
	"github.com/hewenhao2008/dispatch-ng/internal/logging"
	"github.com/hewenhao2008/dispatch-ng/internal/server"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// resolveVersion guards against a malformed -ldflags injected version string: if version
// doesn't parse as a semantic version, cobra still gets something to print, but it's
// visibly marked invalid rather than silently shown as if it were trustworthy.
func resolveVersion(raw string) string {
	if raw == "dev" {
		return raw
	}
	if _, err := hcversion.NewSemver(raw); err != nil {
		return raw + " (unparseable build version)"
	}
	return raw
}

func main() {
	root := config.NewRootCommand("dispatch-ng", resolveVersion(version), runDispatcher)
	root.AddCommand(listAddrsCommand())

	if err := root.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDispatcher(cfg config.Config) error {
	// Two separate logrus instances: the reactor's trace-level readiness churn would
	// otherwise drown session-level logs at the same level.
	appLog := logging.New(cfg.LogLevel, !cfg.LogJSON, cfg.LogJSON)
	reactorLog := logging.New(cfg.LogLevel, !cfg.LogJSON, cfg.LogJSON)

	srv, err := server.New(cfg, logging.NewHCLogBridge(appLog), logging.NewHCLogBridge(reactorLog))
	if err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		appLog.WithField("live_sessions", srv.LiveSessions()).Info("shutdown signal received, closing listeners")
	}()

	return srv.Run(ctx)
}
