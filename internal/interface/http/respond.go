package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alem-hub/shadow-ranch/pkg/logger"
)

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError carries the failure kind in Code.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, body JSONResponse) {
	body.RequestID = getRequestID(r.Context())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	respond(w, r, status, JSONResponse{Success: status >= 200 && status < 300, Data: data})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respond(w, r, status, JSONResponse{Error: &APIError{Code: code, Message: message}})
}

// writeError maps err through statusFor. Server-side failures are logged
// with their cause by the request-scoped logger; the client only sees the
// public message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log := s.logger
		if _, ok := r.Context().Value(stateKey{}).(*requestState); ok {
			log = logger.FromContext(r.Context())
		}
		log.ErrorContext(r.Context(), "request failed",
			logger.Err(err),
			logger.String("code", code),
			logger.String("path", r.URL.Path),
		)
	}
	writeJSONError(w, r, status, code, publicMessage(err, status))
}

// pathUint8 parses a numeric path segment. Anything that does not fit a
// byte yields invalid so the caller reports its own range error.
func pathUint8(r *http.Request, name string, invalid error) (uint8, error) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 8)
	if err != nil {
		return 0, invalid
	}
	return uint8(v), nil
}
