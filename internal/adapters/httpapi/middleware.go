package httpapi

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := h.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Debug("request")
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.log.WithFields(logrus.Fields{
					"panic":      rec,
					"request_id": middleware.GetReqID(r.Context()),
					"stack":      string(debug.Stack()),
				}).Error("handler panic")
				writeJSON(w, http.StatusInternalServerError, errorResponse{
					Error:      "internal server error",
					Kind:       "internal",
					MessageKey: "errors.internal",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
