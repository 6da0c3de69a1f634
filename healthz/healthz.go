// Package healthz serves the daemon's debug health and status endpoints.
package healthz

import (
	"encoding/json"
	"net/http"

	"github.com/israfil-hossain/mediremind/syncer"
)

// Liveness answers the debug mux's liveness and readiness probes.
func Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

// StatusSource is the slice of the sync coordinator the status endpoint reads.
type StatusSource interface {
	Status() syncer.Status
}

// StatusHandler reports the sync coordinator's state as JSON.
type StatusHandler struct {
	source StatusSource
}

func NewStatusHandler(source StatusSource) *StatusHandler {
	return &StatusHandler{source: source}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.source.Status())
}
