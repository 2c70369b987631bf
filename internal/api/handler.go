package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/fwtopo/internal/bus"
	"github.com/gyaneshwarpardhi/fwtopo/internal/config"
	"github.com/gyaneshwarpardhi/fwtopo/internal/engine"
	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
	"github.com/gyaneshwarpardhi/fwtopo/internal/metrics"
	"github.com/gyaneshwarpardhi/fwtopo/internal/selfid"
	"github.com/gyaneshwarpardhi/fwtopo/internal/topology"
)

const maxSelfIDs = 4 * topology.MaxNodes // packet 0 plus three extended packets per node

// Reloader applies a freshly loaded config to the running service.
type Reloader func(cfg *config.Config) error

// Handler holds all HTTP handler dependencies.
type Handler struct {
	mgr    *bus.Manager
	disp   *engine.Dispatcher
	loader *config.Loader
	reload Reloader
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(mgr *bus.Manager, disp *engine.Dispatcher, loader *config.Loader, reload Reloader) http.Handler {
	h := &Handler{mgr: mgr, disp: disp, loader: loader, reload: reload, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/bus/reset", h.busReset)
	h.mux.HandleFunc("GET /v1/topology", h.topology)
	h.mux.HandleFunc("GET /v1/topology/map", h.topologyMap)
	h.mux.HandleFunc("GET /v1/events", h.events)
	h.mux.HandleFunc("GET /v1/subscribers", h.subscribers)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// resetRequest carries either raw self-ID quadlets or decoded records.
type resetRequest struct {
	NodeID     *uint16         `json:"node_id"`
	Generation uint32          `json:"generation"`
	SelfIDs    []uint32        `json:"self_ids"`
	Records    []selfid.Record `json:"records"`
}

// POST /v1/bus/reset: report a bus reset and rebuild the topology.
func (h *Handler) busReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.NodeID == nil {
		writeError(w, http.StatusBadRequest, "node_id is required")
		return
	}
	quads := req.SelfIDs
	switch {
	case len(req.SelfIDs) > 0 && len(req.Records) > 0:
		writeError(w, http.StatusBadRequest, "only one of self_ids/records may be set")
		return
	case len(req.Records) > 0:
		var err error
		if quads, err = selfid.EncodeAll(req.Records); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("records: %s", err))
			return
		}
	}
	if len(quads) > maxSelfIDs {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%d self-ID quadlets exceed max %d", len(quads), maxSelfIDs))
		return
	}

	// The reset is processed to completion even if the client goes away.
	ctx := context.WithoutCancel(r.Context())
	out, err := h.mgr.HandleReset(ctx, bus.Reset{NodeID: *req.NodeID, Generation: req.Generation, SelfIDs: quads})
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, resetResponse{Outcome: out, Error: err.Error(), Reason: topology.Reason(err)})
		return
	}
	writeJSON(w, http.StatusOK, resetResponse{Outcome: out})
}

type resetResponse struct {
	*bus.Outcome
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// GET /v1/topology: current tree.
func (h *Handler) topology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Snapshot())
}

// GET /v1/topology/map: topology map image as hex quadlets.
func (h *Handler) topologyMap(w http.ResponseWriter, r *http.Request) {
	m := h.mgr.TopologyMap()
	if m == nil {
		writeError(w, http.StatusNotFound, "no bus reset handled yet")
		return
	}
	quads := make([]string, len(m))
	for i, q := range m {
		quads[i] = fmt.Sprintf("%08x", q)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"generation": h.mgr.Generation(),
		"length":     m[0] >> 16,
		"crc":        fmt.Sprintf("%04x", m[0]&0xffff),
		"quadlets":   quads,
	})
}

// recentEvents is implemented by subscribers that keep history.
type recentEvents interface {
	Recent(n int) []event.Event
}

// GET /v1/events?subscriber=name&limit=n: latest events from a history
// subscriber; the first one configured when no name is given.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", s))
			return
		}
		limit = n
	}

	name := r.URL.Query().Get("subscriber")
	if name == "" {
		for _, info := range h.disp.Subscribers() {
			if s, ok := h.disp.Subscriber(info.Name); ok {
				if _, ok := s.(recentEvents); ok {
					name = info.Name
					break
				}
			}
		}
	}
	s, ok := h.disp.Subscriber(name)
	if !ok {
		writeError(w, http.StatusNotFound, "no history subscriber configured")
		return
	}
	hist, ok := s.(recentEvents)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("subscriber %q keeps no history", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscriber": name,
		"events":     hist.Recent(limit),
	})
}

// GET /v1/subscribers: active subscribers and their queues.
func (h *Handler) subscribers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscribers": h.disp.Subscribers(),
	})
}

// POST /v1/config/reload: hot-reload config from disk.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := config.Validate(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if h.reload != nil {
		if err := h.reload(cfg); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":    true,
		"version":     cfg.Version,
		"subscribers": len(h.disp.Subscribers()),
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if a subscriber queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.disp.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	snap := h.mgr.Snapshot()
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
		"stale":             snap.Stale,
	})
}
