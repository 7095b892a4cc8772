package main

import (
	"log/slog"
	"net/http"
	"strconv"

	fileGate "github.com/MrEthical07/fileGate"
	"github.com/MrEthical07/fileGate/internal/rate"
)

// limitByIP caps unauthenticated form posts per client address. It must run
// inside middleware.ClientMetadata. A limiter outage lets requests through;
// account lockout still applies.
func limitByIP(l *rate.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := fileGate.ClientIPFromContext(r.Context())
			if ip == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := l.Allow(r.Context(), ip)
			if err != nil {
				logger.Warn("rate limiter unavailable", slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				logger.Info("rate limited", slog.String("ip", ip), slog.String("path", r.URL.Path))
				w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())+1))
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests. Try again later."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
