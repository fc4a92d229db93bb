// internal/middleware/logging.go

// Package middleware carries the shared HTTP plumbing for the dev services.
package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// websocket upgrade needs for hijacking.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// LogMiddleware logs every request with method, path, status and duration.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Info("HTTP Request")
		})
	}
}

// LogWebSocketConnect notes an accepted relay attachment.
func LogWebSocketConnect(logger *logrus.Logger, remoteAddr, allocationID, peerID string) {
	logger.WithFields(logrus.Fields{
		"remote":     remoteAddr,
		"allocation": allocationID,
		"peer":       peerID,
	}).Info("WebSocket connected")
}

// LogWebSocketDisconnect notes a detached peer, with the closing error if any.
func LogWebSocketDisconnect(logger *logrus.Logger, allocationID, peerID string, err error) {
	fields := logrus.Fields{
		"allocation": allocationID,
		"peer":       peerID,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("WebSocket disconnected")
}
