package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/skadidb/pkg/status"
	"github.com/ssargent/skadidb/pkg/task"
)

type threadKey struct{}

// apiKeyMiddleware validates the X-API-Key header. An empty expected key
// disables the check.
func apiKeyMiddleware(expectedKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expectedKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				sendError(w, "Missing X-API-Key header", http.StatusUnauthorized)
				return
			}
			if apiKey != expectedKey {
				sendError(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// threadMiddleware registers the request with the store's thread registry
// for the lifetime of the handler.
func (s *Server) threadMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		th, err := s.store.RegisterThread()
		if err != nil {
			s.metrics.RecordThreadRejection()
			s.logger.Warn("rejecting request", "path", r.URL.Path, "error", err)
			sendError(w, "Too many concurrent requests", httpStatus(err))
			return
		}
		defer th.Deregister()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), threadKey{}, th)))
	})
}

// threadScratch returns the working memory of the request's registered
// thread, or nil outside threadMiddleware.
func threadScratch(r *http.Request) []byte {
	if th, ok := r.Context().Value(threadKey{}).(*task.Thread); ok {
		return th.Scratch()
	}
	return nil
}

// httpStatus maps a store error category onto a response code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, status.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, status.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, status.ErrBusy), errors.Is(err, status.ErrNoMemory):
		return http.StatusServiceUnavailable
	case errors.Is(err, status.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, status.ErrNoSpace):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// sendSuccess sends a successful JSON response
func sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	response := APIResponse{
		Success: true,
		Data:    data,
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// sendError sends an error JSON response
func sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: false,
		Error:   message,
	}
	_ = json.NewEncoder(w).Encode(response)
}
