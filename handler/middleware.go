package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"storefront/auth"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerUserID         = "X-User-Id"
)

// LogRequests writes one access log line per request.
func LogRequests(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"url":        r.URL.String(),
				"remote":     r.RemoteAddr,
				"user_agent": r.UserAgent(),
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Info("request handled")
		})
	}
}

// Identify attaches the caller identity to the request context. A bearer
// token wins over the X-User-Id header; an invalid token is rejected outright.
func (h *Handler) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authz := r.Header.Get("Authorization"); authz != "" {
			token := strings.TrimPrefix(authz, "Bearer ")
			if token == authz || h.verifier == nil {
				writeErr(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
				return
			}
			id, err := h.verifier.Verify(token)
			if err != nil {
				writeErr(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			r = r.WithContext(auth.WithIdentity(r.Context(), id))
		} else if owner := strings.TrimSpace(r.Header.Get(headerUserID)); owner != "" {
			r = r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{OwnerID: owner}))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) owner(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.FromContext(r.Context()); !ok {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "caller identity required")
			return
		}
		fn(w, r)
	}
}

func (h *Handler) admin(fn http.HandlerFunc) http.HandlerFunc {
	return h.owner(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		if !id.IsAdmin() {
			writeErr(w, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		fn(w, r)
	})
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *recorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.body.Write(b)
	return rec.ResponseWriter.Write(b)
}

// idempotent replays the first non-5xx response recorded for a caller's
// Idempotency-Key. Requests without the header pass straight through.
func (h *Handler) idempotent(operation string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerIdempotencyKey)
		if key == "" || h.cache == nil {
			fn(w, r)
			return
		}
		id, _ := auth.FromContext(r.Context())
		cacheKey := h.cache.GenerateKey(operation, id.OwnerID+":"+key)
		log := h.log.WithFields(logrus.Fields{"operation": operation, "idempotency_key": key})

		if raw, ok, err := h.cache.Get(r.Context(), cacheKey); err != nil {
			log.WithError(err).Warn("idempotency lookup failed")
		} else if ok {
			var prev storedResponse
			if err := json.Unmarshal(raw, &prev); err == nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(prev.Status)
				_, _ = w.Write(prev.Body)
				return
			}
			log.Warn("discarding unreadable idempotency record")
		}

		rec := &recorder{ResponseWriter: w}
		fn(rec, r)
		if rec.status >= http.StatusInternalServerError || rec.status == 0 {
			return
		}
		raw, err := json.Marshal(storedResponse{Status: rec.status, Body: bytes.TrimSpace(rec.body.Bytes())})
		if err != nil {
			return
		}
		if err := h.cache.Set(r.Context(), cacheKey, raw, h.idempotencyTTL); err != nil {
			log.WithError(err).Warn("idempotency record not saved")
		}
	}
}
