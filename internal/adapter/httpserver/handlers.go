package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/speakeasy-api/clerk-gate/internal/core/port"
)

const forbiddenMessage = "You are not authorized to access this resource"

type clerkJWTResponse struct {
	UserID *string `json:"userId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// handleHealth returns a liveness probe handler. Always responds 200 if the
// server process is running.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleClerkJWT echoes the verified subject, or null when the request is
// anonymous (reachable only on soft routes).
func (s *Server) handleClerkJWT() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp clerkJWTResponse
		if id := port.IdentityFromContext(r.Context()); id != nil {
			sub := id.Subject
			resp.UserID = &sub
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleGetGated serves the gated payload to any verified caller and 403
// to everyone else.
func (s *Server) handleGetGated() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if port.IdentityFromContext(r.Context()) == nil {
			writeMessage(w, http.StatusForbidden, forbiddenMessage)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"foo": "bar"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}
