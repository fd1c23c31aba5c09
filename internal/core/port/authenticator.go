package port

import "context"

// Verification is the result of a completed token check.
// SignedIn with an empty Subject is treated as not signed in.
type Verification struct {
	SignedIn  bool
	Subject   string
	SessionID string
	// Reason explains why SignedIn is false, when the verifier knows.
	Reason string
}

// TokenVerifier checks a session token issued by the identity provider.
// The secret key and authorized parties are bound when the verifier is built.
type TokenVerifier interface {
	// Verify returns an error wrapping domain.ErrInvalidCredential or
	// domain.ErrVerifierUnavailable when the check could not succeed.
	Verify(ctx context.Context, token string) (*Verification, error)
}
