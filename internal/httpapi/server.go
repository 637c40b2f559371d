package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"power-agent/internal/agent"
	"power-agent/internal/domain"
)

type ControlHandler interface {
	HandleControl(ctx context.Context, src domain.ControlSource, payload []byte) error
}

type Agent interface {
	ControlHandler
	DeviceID() string
	Snapshot() agent.Snapshot
	Latest() (domain.Telemetry, bool)
}

type LatestStore interface {
	Latest(ctx context.Context, deviceID string) (domain.Telemetry, error)
}

type ControlHistory interface {
	RecentControls(ctx context.Context, deviceID string, limit int) ([]domain.ControlRecord, error)
}

type OnlineIndex interface {
	Online(ctx context.Context, now int64, ttlSeconds int64) ([]string, error)
}

// Deps leaves optional stores nil when the backing sink is disabled.
type Deps struct {
	Agent Agent
	// Latest is consulted in order before the agent's in-memory copy.
	Latest   []LatestStore
	Controls ControlHistory
	Online   OnlineIndex
	// OnlineTTL is how recent a telemetry write must be to count as online.
	OnlineTTL time.Duration
	Hub       *Hub
	Metrics   http.Handler
	Logger    *slog.Logger
}

type Server struct {
	deps Deps
	srv  *http.Server
}

func New(d Deps, addr string) *Server {
	mux := http.NewServeMux()

	h := &handlers{deps: d}
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/status", h.status)
	mux.HandleFunc("/telemetry/latest", h.latest)
	mux.HandleFunc("/control", h.control)
	mux.HandleFunc("/controls", h.controls)
	mux.HandleFunc("/devices/online", h.online)
	if d.Hub != nil {
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			d.Hub.serve(w, r, d.Agent)
		})
	}
	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}

	return &Server{
		deps: d,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 2 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
