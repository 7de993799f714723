package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/cassiomorais/booking-payments/internal/domain/idempotency"
	"github.com/rs/zerolog"
)

const (
	IdempotencyHeader      = "Idempotency-Key"
	maxIdempotencyBodySize = 1 << 20
	maxIdempotencyKeyLen   = 255
)

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to method and path, so one key cannot replay another
// endpoint's response. Server errors are not stored and may be retried.
func Idempotency(store idempotency.Store, ttl time.Duration, logger zerolog.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				writeJSONError(w, http.StatusBadRequest, "idempotency key too long", "validation_error")
				return
			}
			scoped := r.Method + " " + r.URL.Path + " " + key

			rec, err := store.Get(r.Context(), scoped)
			if err != nil {
				logger.Warn().Err(err).Str("idempotency_key", key).Msg("Idempotency lookup failed")
			}
			if rec != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Replayed", "true")
				w.WriteHeader(rec.ResponseStatus)
				_, _ = w.Write([]byte(rec.ResponseBody))
				return
			}

			rw := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			if rw.statusCode >= 500 || rw.bodyTruncated {
				return
			}
			if err := store.Set(r.Context(), idempotency.NewRecord(scoped, rw.statusCode, rw.body.String(), ttl)); err != nil {
				logger.Warn().Err(err).Str("idempotency_key", key).Msg("Idempotency record not stored")
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
