// Package server assembles the HTTP surface shared by every binary: the
// service routes plus health, readiness, and metrics endpoints, with
// graceful drain on shutdown.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/pkg/health"
	"github.com/waddlebot/waddlebot-core/pkg/metricsutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures a Server.
type Options struct {
	Addr        string // service listen address, e.g. ":8000"
	MetricsAddr string // optional separate metrics listener
	ServiceName string
	Version     string
	Grace       time.Duration // shutdown drain budget
	Checker     *health.Checker
	Log         *zap.Logger
	// Register mounts the service's own routes on the shared mux.
	Register func(mux *http.ServeMux)
}

// Server runs the service listener and, when configured, a separate
// metrics listener.
type Server struct {
	opts    Options
	main    *http.Server
	metrics *http.Server
	log     *zap.Logger
}

// New builds the server and mounts the standard endpoints.
func New(opts Options) *Server {
	if opts.Grace <= 0 {
		opts.Grace = 30 * time.Second
	}
	log := opts.Log.With(zap.String("module", "server"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz(opts.ServiceName, opts.Version))
	mux.HandleFunc("GET /ready", ready(opts.Checker))
	if opts.Register != nil {
		opts.Register(mux)
	}

	s := &Server{
		opts: opts,
		main: &http.Server{
			Addr:              opts.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second, // Mitigate Slowloris
		},
		log: log,
	}
	if opts.MetricsAddr != "" {
		mmux := http.NewServeMux()
		mmux.Handle("GET /metrics", metricsutil.Handler())
		s.metrics = &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           mmux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	} else {
		mux.Handle("GET /metrics", metricsutil.Handler())
	}
	return s
}

// Run serves until ctx is cancelled, then drains in-flight requests within
// the grace budget.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		s.log.Info("http server listening", zap.String("address", s.main.Addr))
		if err := s.main.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if s.metrics != nil {
		go func() {
			s.log.Info("metrics server listening", zap.String("address", s.metrics.Addr))
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), s.opts.Grace)
	defer cancel()
	var err error
	if serr := s.main.Shutdown(drainCtx); serr != nil {
		err = serr
	}
	if s.metrics != nil {
		if serr := s.metrics.Shutdown(drainCtx); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

func healthz(name, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"module":  name,
			"version": version,
		})
	}
}

func ready(checker *health.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if checker == nil || checker.Ready(r.Context()) {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
			return
		}
		details := map[string]string{}
		for name, err := range checker.Check(r.Context()) {
			if err != nil {
				details[name] = err.Error()
			} else {
				details[name] = "ok"
			}
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "degraded", "checks": details})
	}
}
