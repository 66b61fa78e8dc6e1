// Package api holds the HTTP middleware shared by schedulesync endpoints.
package api

import (
	"encoding/json"
	"net/http"
)

// WriteError writes a JSON error response in the {"error": "..."} shape the
// billing handler uses.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
