// Package monitor serves the sniffer's live state over HTTP: a JSON API, a
// server-sent event feed of device updates, charts and Prometheus metrics.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/btsniff/internal/metrics"
	"github.com/banshee-data/btsniff/internal/monitoring"
	"github.com/banshee-data/btsniff/internal/sniffer"
	"github.com/banshee-data/btsniff/internal/tracker"
)

// SnifferState is satisfied by *sniffer.Runner.
type SnifferState interface {
	Snapshot() sniffer.Snapshot
}

// DeviceFeed is satisfied by *tracker.Tracker.
type DeviceFeed interface {
	Devices() []tracker.Device
	Subscribe() (string, <-chan tracker.Update)
	Unsubscribe(string)
}

// AdminRoutes mounts debug pages under /debug/.
type AdminRoutes interface {
	AttachAdminRoutes(mux *http.ServeMux) error
}

// Config wires the server to its data sources. Only Sniffer is required.
type Config struct {
	Address string
	Sniffer SnifferState
	Devices DeviceFeed
	Metrics *metrics.Metrics
	Admin   AdminRoutes
}

// Server is the monitoring HTTP server.
type Server struct {
	cfg     Config
	started time.Time
	server  *http.Server
	mux     *http.ServeMux
}

func New(cfg Config) (*Server, error) {
	if cfg.Sniffer == nil {
		return nil, errors.New("monitor: sniffer state is required")
	}
	s := &Server{cfg: cfg, started: time.Now(), mux: http.NewServeMux()}
	if err := s.routes(); err != nil {
		return nil, err
	}
	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() error {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/piconets", s.handlePiconets)
	s.mux.HandleFunc("GET /api/piconets/{lap}", s.handlePiconet)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	if s.cfg.Devices != nil {
		s.mux.HandleFunc("GET /api/devices", s.handleDevices)
		s.mux.HandleFunc("GET /api/events", s.handleEvents)
		s.mux.HandleFunc("GET /charts/laps", s.handleLAPChart)
		s.mux.HandleFunc("GET /charts/packets.png", s.handlePacketHistogram)
	}
	if s.cfg.Metrics != nil {
		s.mux.Handle("GET /metrics", s.cfg.Metrics.Handler())
	}
	if s.cfg.Admin != nil {
		if err := s.cfg.Admin.AttachAdminRoutes(s.mux); err != nil {
			return fmt.Errorf("attach admin routes: %w", err)
		}
	}
	return nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", s.cfg.Address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server routine stopped")
	return nil
}
