package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"power-agent/internal/domain"
)

const (
	maxControlBody  = 4 << 10
	defaultControls = 20
	maxControls     = 200
)

type handlers struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{"ok": true})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, h.deps.Agent.Snapshot())
}

func (h *handlers) latest(w http.ResponseWriter, r *http.Request) {
	id := h.deps.Agent.DeviceID()
	ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
	defer cancel()

	for _, s := range h.deps.Latest {
		t, err := s.Latest(ctx, id)
		if err == nil {
			writeJSON(w, 200, t)
			return
		}
		h.deps.Logger.Debug("latest lookup missed", "err", err)
	}
	if t, ok := h.deps.Agent.Latest(); ok {
		writeJSON(w, 200, t)
		return
	}
	writeJSON(w, 404, map[string]any{"error": "no data"})
}

func (h *handlers) control(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		writeJSON(w, 400, map[string]any{"error": "read body failed"})
		return
	}
	if err := h.deps.Agent.HandleControl(r.Context(), domain.SourceHTTP, body); err != nil {
		writeJSON(w, 400, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, 202, map[string]any{"accepted": true})
}

func (h *handlers) controls(w http.ResponseWriter, r *http.Request) {
	if h.deps.Controls == nil {
		writeJSON(w, 501, map[string]any{"error": "control history disabled"})
		return
	}
	limit := defaultControls
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, 400, map[string]any{"error": "invalid limit"})
			return
		}
		limit = min(n, maxControls)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
	defer cancel()
	recs, err := h.deps.Controls.RecentControls(ctx, h.deps.Agent.DeviceID(), limit)
	if err != nil {
		h.deps.Logger.Warn("control history failed", "err", err)
		writeJSON(w, 500, map[string]any{"error": "history error"})
		return
	}
	writeJSON(w, 200, map[string]any{"controls": recs})
}

func (h *handlers) online(w http.ResponseWriter, r *http.Request) {
	if h.deps.Online == nil {
		writeJSON(w, 501, map[string]any{"error": "online index disabled"})
		return
	}
	ttl := h.deps.OnlineTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
	defer cancel()

	devs, err := h.deps.Online.Online(ctx, time.Now().Unix(), int64(ttl/time.Second))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, 504, map[string]any{"error": "redis timeout"})
			return
		}
		writeJSON(w, 500, map[string]any{"error": "redis error"})
		return
	}
	writeJSON(w, 200, map[string]any{"online_devices": devs})
}
