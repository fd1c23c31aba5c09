package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/speakeasy-api/clerk-gate/internal/adapter/auth"
	"github.com/speakeasy-api/clerk-gate/internal/adapter/metrics"
	"github.com/speakeasy-api/clerk-gate/internal/core/domain"
	"github.com/speakeasy-api/clerk-gate/internal/core/port"
	"github.com/speakeasy-api/clerk-gate/internal/core/service"
)

// requestID keeps a caller-supplied X-Request-Id or assigns a UUID. The id is
// stored under chi's key so chimw.GetReqID keeps working.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(chimw.RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(chimw.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), chimw.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger is a chi-compatible middleware that emits structured log lines
// for every HTTP request using slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("remote_addr", r.RemoteAddr),
		)
	})
}

// publishAuth evaluates every request and attaches the AuthState to its
// context without rejecting anything.
func (s *Server) publishAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, _, ok := s.authenticate(r, service.ModeSoft)
		if !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth rejects requests without a verified identity with 401 before
// the handler runs.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, state, ok := s.authenticate(r, service.ModeStrict)
		if !ok {
			return
		}
		if !state.Authenticated() {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			writeMessage(w, http.StatusUnauthorized, state.Reason)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate runs the gate once per request. A state already published
// by an outer middleware is reused. ok is false when the client went away
// during verification; nothing is published or written in that case.
func (s *Server) authenticate(r *http.Request, mode service.Mode) (_ *http.Request, _ domain.AuthState, ok bool) {
	if state, found := port.AuthFromContext(r.Context()); found {
		return r, state, true
	}

	start := time.Now()
	state := s.gate.Evaluate(r.Context(), auth.CredentialFromRequest(r))

	if err := r.Context().Err(); err != nil {
		s.logger.Debug("request cancelled during verification",
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
		return r, domain.AuthState{}, false
	}

	metrics.AuthOutcomesTotal.WithLabelValues(state.Kind(), string(mode)).Inc()
	metrics.VerifyDuration.WithLabelValues(state.Kind()).Observe(time.Since(start).Seconds())

	return r.WithContext(port.ContextWithAuth(r.Context(), state)), state, true
}
