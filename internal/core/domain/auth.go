package domain

import "errors"

// RoleUser is granted to every verified identity.
const RoleUser = "user"

// Sentinel errors classifying why a request is not authenticated. All of them
// map to HTTP 401; the distinction only shows up in logs and metrics.
var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrVerifierUnavailable = errors.New("verifier unavailable")
)

// Outcome is the terminal state of a single request's authentication.
type Outcome int

const (
	OutcomeUnevaluated Outcome = iota
	OutcomeVerified
	OutcomeUnauthenticated
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeUnauthenticated:
		return "unauthenticated"
	case OutcomeFailed:
		return "failed"
	default:
		return "unevaluated"
	}
}

// Identity is a caller whose token was verified for the current request.
type Identity struct {
	Subject   string
	SessionID string
	Roles     []string
}

// NewIdentity builds an identity for subject carrying the default user role.
func NewIdentity(subject, sessionID string) *Identity {
	return &Identity{
		Subject:   subject,
		SessionID: sessionID,
		Roles:     []string{RoleUser},
	}
}

// HasRole reports whether the identity was granted role.
func (id *Identity) HasRole(role string) bool {
	if id == nil {
		return false
	}
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthState is the per-request authentication fact. Identity is set if and
// only if Outcome is OutcomeVerified; Err is set for every other terminal
// outcome.
type AuthState struct {
	Outcome  Outcome
	Identity *Identity
	Reason   string
	Err      error
}

// Verified returns the state for a successfully verified identity.
func Verified(id *Identity) AuthState {
	return AuthState{Outcome: OutcomeVerified, Identity: id}
}

// Unauthenticated returns the state for a request without a usable session.
func Unauthenticated(reason string) AuthState {
	return AuthState{Outcome: OutcomeUnauthenticated, Reason: reason, Err: ErrUnauthenticated}
}

// Failed returns the state for a verification that errored. kind should be
// ErrInvalidCredential or ErrVerifierUnavailable.
func Failed(kind error, reason string) AuthState {
	return AuthState{Outcome: OutcomeFailed, Reason: reason, Err: kind}
}

// Authenticated reports whether the state carries a usable identity.
func (s AuthState) Authenticated() bool {
	return s.Outcome == OutcomeVerified && s.Identity != nil && s.Identity.Subject != ""
}

// Subject returns the verified subject, or "" when not authenticated.
func (s AuthState) Subject() string {
	if !s.Authenticated() {
		return ""
	}
	return s.Identity.Subject
}

// Kind returns a short label for the failure class, used in logs and metrics.
func (s AuthState) Kind() string {
	switch {
	case s.Outcome == OutcomeVerified:
		return "verified"
	case errors.Is(s.Err, ErrVerifierUnavailable):
		return "verifier_unavailable"
	case errors.Is(s.Err, ErrInvalidCredential):
		return "invalid_credential"
	default:
		return "unauthenticated"
	}
}

// CredentialSource says where a token was found on the request.
type CredentialSource string

const (
	SourceNone   CredentialSource = ""
	SourceHeader CredentialSource = "header"
	SourceCookie CredentialSource = "cookie"
)

// Credential is the token material extracted from a request.
type Credential struct {
	Token  string
	Source CredentialSource
	// Malformed is set when an Authorization header was present but did not
	// carry a Bearer token.
	Malformed bool
}

// Present reports whether the request carried any credential material.
func (c Credential) Present() bool {
	return c.Token != "" || c.Malformed
}
