package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/sync/semaphore"
)

// LimitConcurrency lets at most n requests run next at once. Others wait
// their turn until their own request context ends.
func LimitConcurrency(n int64) func(http.HandlerFunc) http.HandlerFunc {
	sem := semaphore.NewWeighted(n)

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			err := sem.Acquire(r.Context(), 1)
			if err != nil {
				slog.Debug("request abandoned while queued", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusServiceUnavailable, "busy", "server busy, please retry")
				return
			}
			defer sem.Release(1)

			next(w, r)
		}
	}
}
