package httpapi

import (
	"net/http"

	"golang.org/x/sync/semaphore"
)

func Router(h *Handlers, maxInFlight int64) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/v1/tenants/", h.PostWebhook)

	return withConcurrencyLimit(mux, maxInFlight)
}

// withConcurrencyLimit bounds in-flight requests with a weighted
// semaphore (§5), generalizing the teacher's buffered-channel limiter
// so the same primitive can later gate worker-pool fan-out too.
func withConcurrencyLimit(next http.Handler, max int64) http.Handler {
	if max <= 0 {
		max = 64
	}
	sem := semaphore.NewWeighted(max)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sem.TryAcquire(1) {
			writeErr(w, http.StatusServiceUnavailable, "server busy")
			return
		}
		defer sem.Release(1)
		next.ServeHTTP(w, r)
	})
}
