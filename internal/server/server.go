//go:build linux

// Package server wires the reactor, the interface balancer, one listener per configured
// bind address, and the optional metrics endpoint into a single running dispatcher
// process.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hewenhao2008/dispatch-ng/internal/balancer"
	"github.com/hewenhao2008/dispatch-ng/internal/config"
	"github.com/hewenhao2008/dispatch-ng/internal/listener"
	"github.com/hewenhao2008/dispatch-ng/internal/metrics"
	"github.com/hewenhao2008/dispatch-ng/internal/reactor"
	"github.com/hewenhao2008/dispatch-ng/internal/session"
)

// Server owns every long-lived resource a running dispatcher holds: the reactor loop, the
// balancer, the configured listeners, and (if enabled) the metrics HTTP server.
type Server struct {
	log hclog.Logger

	react     *reactor.Reactor
	bal       *balancer.Manager
	listeners []*listener.Listener
	rec       *metrics.Recorder
	metricsH  *http.Server
}

// New builds every component described by cfg but does not start accepting connections;
// call Run to do that. A bind or listen failure here is fatal: the caller should exit
// non-zero on a non-nil error.
func New(cfg config.Config, log hclog.Logger, reactorLog hclog.Logger) (*Server, error) {
	react, err := reactor.New(reactorLog, time.Second)
	if err != nil {
		return nil, fmt.Errorf("create reactor: %w", err)
	}

	bal := balancer.NewManager()
	for _, ifc := range cfg.Interfaces {
		bal.Add(ifc.Host, ifc.Metric)
	}

	rec := metrics.New(bal)

	resolver := session.NewSystemResolver()

	s := &Server{
		log:  log,
		react: react,
		bal:  bal,
		rec:  rec,
	}

	for _, addr := range cfg.Binds {
		l, err := listener.New(addr, react, bal, resolver, rec, cfg.RelayIdle, log)
		if err != nil {
			s.closeListeners()
			_ = react.Close()
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, l)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rec.Handler())
		s.metricsH = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	return s, nil
}

// LiveSessions returns the number of sessions currently open across every listener, for
// reporting at shutdown.
func (s *Server) LiveSessions() int {
	total := 0
	for _, l := range s.listeners {
		total += l.SessionCount()
	}
	return total
}

func (s *Server) closeListeners() {
	for _, l := range s.listeners {
		_ = l.Close()
	}
}

// Run drives the reactor loop until ctx is cancelled, serving metrics concurrently if
// configured. It returns once the reactor loop exits.
func (s *Server) Run(ctx context.Context) error {
	if s.metricsH != nil {
		go func() {
			if err := s.metricsH.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				if s.log != nil {
					s.log.Warn("metrics server stopped", "err", err)
				}
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.metricsH.Shutdown(shutdownCtx)
		}()
	}

	if s.log != nil {
		s.log.Info("dispatcher listening", "binds", len(s.listeners), "interfaces", s.bal.Count())
	}

	err := s.react.Run(ctx)

	s.closeListeners()
	_ = s.react.Close()
	return err
}
