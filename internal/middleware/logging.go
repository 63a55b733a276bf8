package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type householdSinkKey struct{}

func withHouseholdSink(ctx context.Context, id *int64) context.Context {
	return context.WithValue(ctx, householdSinkKey{}, id)
}

// recordHousehold reports the authenticated household to RequestLogger.
func recordHousehold(ctx context.Context, id int64) {
	if p, ok := ctx.Value(householdSinkKey{}).(*int64); ok {
		*p = id
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer so the websocket upgrade can hijack it.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// RequestLogger returns middleware that logs each HTTP request with method,
// path, status code, duration, and remote IP. Requests that passed
// RequireAuth also carry the household.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			var householdID int64
			next.ServeHTTP(rec, r.WithContext(withHouseholdSink(r.Context(), &householdID)))

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", RealIP(r)),
			}
			if householdID != 0 {
				attrs = append(attrs, slog.Int64("household_id", householdID))
			}

			switch {
			case rec.status >= 500:
				logger.LogAttrs(r.Context(), slog.LevelError, "request", attrs...)
			case rec.status >= 400:
				logger.LogAttrs(r.Context(), slog.LevelWarn, "request", attrs...)
			default:
				logger.LogAttrs(r.Context(), slog.LevelInfo, "request", attrs...)
			}
		})
	}
}
