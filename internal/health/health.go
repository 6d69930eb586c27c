// Package health provides health check and readiness probe HTTP handlers.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dskow/tls-hotreload/credstore"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

const readinessCacheTTL = 5 * time.Second

// StoreInfo names one watched store for the readiness probe.
type StoreInfo struct {
	Name  string
	Store *credstore.Store
}

// Handler provides /health and /ready endpoints. Readiness reports, per
// watched store, whether it currently has a loaded generation to serve
// — the cheapest available proxy for "did the most recent reload
// succeed", since a failed reload always leaves the previous generation
// in place (see credstore.Store.ReloadFromDisk) rather than tearing it
// down.
type Handler struct {
	stores []StoreInfo
	logger *slog.Logger

	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a new health check Handler over stores.
func New(stores []StoreInfo, logger *slog.Logger) *Handler {
	return &Handler{stores: stores, logger: logger}
}

// RegisterRoutes adds health check routes to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body := h.cachedResult
		status := h.cachedStatus
		h.cacheMu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
		return
	}
	h.cacheMu.RUnlock()

	results := make(map[string]string, len(h.stores))
	anyStoreUnloaded := false
	for _, s := range h.stores {
		if _, err := s.Store.Size(); err != nil {
			h.logger.Warn("store not ready", "store", s.Name, "error", err)
			results[s.Name] = "unloaded"
			anyStoreUnloaded = true
			continue
		}
		results[s.Name] = "loaded"
	}

	httpStatus := http.StatusOK
	statusStr := "ready"
	if anyStoreUnloaded {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status": statusStr,
		"stores": results,
	})
	body = append(body, '\n')

	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = httpStatus
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body)
}
