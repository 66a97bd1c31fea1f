// Package httpapi exposes the single /healthz endpoint; the HTTP surface
// is a thin bootstrap collaborator, not part of the durability core.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/vilhelmsaro/car-seeder/internal/breaker"
	"github.com/vilhelmsaro/car-seeder/internal/durable"
	"github.com/vilhelmsaro/car-seeder/internal/state"
)

// Deps is the read-only state the health handler reports on.
type Deps struct {
	State       *state.Manager
	Breaker     *breaker.Breaker
	Durable     *durable.Store
	SessionOpen func() bool
}

// New builds the application HTTP handler.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health(d))
	return mux
}

func health(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		pending, err := d.Durable.PendingCount(r.Context())
		if err != nil {
			pending = -1
		}

		code := http.StatusOK
		if d.Breaker.Get() == breaker.Open {
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, map[string]any{
			"state":           d.State.Get().String(),
			"breaker":         d.Breaker.Get().String(),
			"pendingInStore":  pending,
			"failoverSession": d.SessionOpen(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
