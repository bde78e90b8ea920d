package api

import (
	"encoding/json"
	"net/http"
	"time"

	"dorian/internal/logger"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.GetLogger().Warnf("Failed to encode response: %v", err)
	}
}

// respondJSONError writes {success:false, error, message}. Messages are
// truncated so upstream error bodies are not echoed wholesale.
func respondJSONError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if len(message) > 200 {
		message = message[:200] + "..."
	}
	response := map[string]any{
		"success":   false,
		"error":     errorType,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.GetLogger().Warnf("Failed to encode error response: %v", err)
	}
}
