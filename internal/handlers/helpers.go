package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tuyendl123/ComfyUI/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteDomainError maps a typed domain error onto the HTTP surface:
// validation 400, security 400/403, capacity 429, missing 404, no content
// 204, execution failure 503. Anything else is an internal fault, also 503
// so a sync client can distinguish "server broken" from "bad request".
func WriteDomainError(w http.ResponseWriter, err error) {
	var (
		validation *models.ValidationError
		capacity   *models.CapacityError
		security   *models.SecurityError
		execution  *models.ExecutionError
	)
	switch {
	case errors.As(err, &validation):
		WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":       validation.Summary,
			"node_errors": validation.Nodes,
		})
	case errors.As(err, &capacity):
		WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":   capacity.Error(),
			"pending": capacity.Depth,
			"limit":   capacity.Ceiling,
		})
	case errors.As(err, &security):
		if security.Malformed {
			WriteError(w, http.StatusBadRequest, security.Error())
		} else {
			WriteError(w, http.StatusForbidden, security.Error())
		}
	case errors.Is(err, models.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrNoContent):
		w.WriteHeader(http.StatusNoContent)
	case errors.As(err, &execution):
		WriteError(w, http.StatusServiceUnavailable, execution.Error())
	default:
		WriteError(w, http.StatusServiceUnavailable, err.Error())
	}
}
