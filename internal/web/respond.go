// Package web holds small helpers shared by HTTP handlers.
package web

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes a stable user-facing message. The underlying error is only
// exposed when debug is on; production clients get "Server Error".
func Error(w http.ResponseWriter, status int, message string, err error, debug bool) {
	body := errorBody{Message: message}
	if err != nil {
		if debug {
			body.Error = err.Error()
		} else if status >= http.StatusInternalServerError {
			body.Error = "Server Error"
		}
	}
	JSON(w, status, body)
}
