package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/speakeasy-api/clerk-gate/internal/core/domain"
	"github.com/speakeasy-api/clerk-gate/internal/core/port"
)

const (
	// DefaultVerifyTimeout bounds a single verifier call when none is configured.
	DefaultVerifyTimeout = 5 * time.Second

	reasonNotSignedIn = "not signed in"
)

// Mode selects how unauthenticated requests are treated by auth-required routes.
type Mode string

const (
	// ModeStrict rejects unauthenticated requests with 401 before the handler runs.
	ModeStrict Mode = "strict"
	// ModeSoft publishes the auth state and lets each handler decide.
	ModeSoft Mode = "soft"
)

// ParseMode converts a config value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStrict, ModeSoft:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown auth mode %q: must be strict or soft", s)
	}
}

// Gate turns a request credential into exactly one domain.AuthState.
// It holds no per-request state and is safe for concurrent use.
type Gate struct {
	verifier port.TokenVerifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGate creates a Gate around verifier. A non-positive timeout falls back
// to DefaultVerifyTimeout.
func NewGate(verifier port.TokenVerifier, timeout time.Duration, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	return &Gate{
		verifier: verifier,
		timeout:  timeout,
		logger:   logger,
	}
}

// Evaluate verifies cred and classifies the result. It never returns an
// error: every failure is folded into the returned state.
func (g *Gate) Evaluate(ctx context.Context, cred domain.Credential) domain.AuthState {
	if !cred.Present() {
		return domain.Unauthenticated(reasonNotSignedIn)
	}
	if cred.Malformed {
		g.logger.Debug("rejecting non-bearer authorization header")
		return domain.Failed(domain.ErrInvalidCredential,
			"Authentication error: authorization header is not a bearer token")
	}

	vctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	v, err := g.verify(vctx, cred.Token)
	if err != nil {
		state := g.classify(ctx, vctx, err, cred.Token)
		g.logFailure(state, cred, time.Since(start))
		return state
	}

	if v == nil || !v.SignedIn || v.Subject == "" {
		reason := reasonNotSignedIn
		if v != nil && v.Reason != "" {
			reason = scrub(v.Reason, cred.Token)
		}
		g.logger.Debug("token verified but not signed in",
			slog.String("reason", reason),
			slog.String("source", string(cred.Source)),
		)
		return domain.Unauthenticated("Invalid credentials: " + reason)
	}

	g.logger.Debug("token verified",
		slog.String("subject", v.Subject),
		slog.Duration("duration", time.Since(start)),
	)
	return domain.Verified(domain.NewIdentity(v.Subject, v.SessionID))
}

// verify calls the verifier and converts a panic into an error.
func (g *Gate) verify(ctx context.Context, token string) (v *port.Verification, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("token verifier panicked",
				slog.String("panic", scrub(fmt.Sprint(r), token)),
			)
			v = nil
			err = fmt.Errorf("%w: verifier panicked", domain.ErrVerifierUnavailable)
		}
	}()
	return g.verifier.Verify(ctx, token)
}

func (g *Gate) classify(parent, vctx context.Context, err error, token string) domain.AuthState {
	msg := scrub(err.Error(), token)
	switch {
	case parent.Err() != nil:
		return domain.Failed(domain.ErrVerifierUnavailable, "Authentication error: request cancelled")
	case errors.Is(vctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return domain.Failed(domain.ErrVerifierUnavailable, "Authentication error: verification timed out")
	case errors.Is(err, domain.ErrVerifierUnavailable):
		return domain.Failed(domain.ErrVerifierUnavailable, "Authentication error: "+msg)
	default:
		// Unclassified verifier errors are treated as a bad credential.
		return domain.Failed(domain.ErrInvalidCredential, "Authentication error: "+msg)
	}
}

// scrub removes the raw token from text that may reach a client or a log.
func scrub(msg, token string) string {
	if token == "" {
		return msg
	}
	return strings.ReplaceAll(msg, token, "[REDACTED]")
}

func (g *Gate) logFailure(state domain.AuthState, cred domain.Credential, elapsed time.Duration) {
	attrs := []any{
		slog.String("kind", state.Kind()),
		slog.String("reason", state.Reason),
		slog.String("source", string(cred.Source)),
		slog.Duration("duration", elapsed),
	}
	if errors.Is(state.Err, domain.ErrVerifierUnavailable) {
		g.logger.Warn("token verifier unavailable", attrs...)
		return
	}
	g.logger.Info("token verification failed", attrs...)
}
