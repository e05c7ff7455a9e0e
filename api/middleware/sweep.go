package middleware

import (
	"context"
	"net/http"
)

type sweepFirer interface {
	Fire(ctx context.Context)
}

// SweepTrigger starts the unpaid order sweep in the background on every
// request. The request never waits for it.
func SweepTrigger(trigger sweepFirer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if trigger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			trigger.Fire(r.Context())
			next.ServeHTTP(w, r)
		})
	}
}
