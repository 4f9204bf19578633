// Package handlers translates HTTP requests into domain service calls
// and maps domain errors onto status codes.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/minjaeko/chatrelay/internal/api/ctxkeys"
)

const headerContentType = "Content-Type"

// getUserID retrieves the authenticated user id injected by the auth
// middleware.
func getUserID(ctx context.Context) (string, error) {
	id := ctxkeys.Value(ctx, ctxkeys.UserID)
	if id == "" {
		return "", fmt.Errorf("user_id not found in context")
	}
	return id, nil
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(headerContentType, "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

// writeError writes a JSON error body: {"error": "..."}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
