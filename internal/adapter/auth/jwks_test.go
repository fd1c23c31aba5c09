package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/speakeasy-api/clerk-gate/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKID    = "ins_test"
	testIssuer = "https://clerk.example.com"
	testParty  = "http://localhost:3000"
)

func genRSA(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pk, keySetJSON(t, map[string]*rsa.PrivateKey{testKID: pk})
}

// keySetJSON renders the public halves of keys as a JWKS document.
func keySetJSON(t *testing.T, keys map[string]*rsa.PrivateKey) []byte {
	t.Helper()
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{}
	for kid, pk := range keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"})
	}
	b, err := json.Marshal(set)
	require.NoError(t, err)
	return b
}

func newJWKSServer(t *testing.T, keysJSON []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, pk *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	return signTokenKID(t, pk, testKID, claims)
}

func signTokenKID(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	require.NoError(t, err)
	return s
}

func sessionClaims(sub string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": testIssuer,
		"sub": sub,
		"sid": "sess_1",
		"azp": testParty,
		"iat": time.Now().Unix(),
		"exp": exp.Unix(),
	}
}

func newTestJWKSVerifier(t *testing.T) (*JWKSVerifier, *rsa.PrivateKey) {
	t.Helper()
	pk, keys := genRSA(t)
	srv := newJWKSServer(t, keys)
	return newJWKSVerifierFor(t, srv.URL), pk
}

func newJWKSVerifierFor(t *testing.T, url string) *JWKSVerifier {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	v, err := NewJWKSVerifier(ctx, JWKSConfig{
		JWKSURL:           url,
		Issuer:            testIssuer,
		AuthorizedParties: []string{testParty},
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return v
}

func TestJWKSVerifier_HappyPath(t *testing.T) {
	v, pk := newTestJWKSVerifier(t)
	tok := signToken(t, pk, sessionClaims("user_123", time.Now().Add(time.Hour)))

	res, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)

	assert.True(t, res.SignedIn)
	assert.Equal(t, "user_123", res.Subject)
	assert.Equal(t, "sess_1", res.SessionID)
}

func TestJWKSVerifier_Expired(t *testing.T) {
	v, pk := newTestJWKSVerifier(t)
	tok := signToken(t, pk, sessionClaims("user_123", time.Now().Add(-time.Hour)))

	_, err := v.Verify(context.Background(), tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
	assert.NotContains(t, err.Error(), tok)
}

func TestJWKSVerifier_WrongSigningKey(t *testing.T) {
	v, _ := newTestJWKSVerifier(t)
	other, _ := genRSA(t)
	tok := signToken(t, other, sessionClaims("user_123", time.Now().Add(time.Hour)))

	_, err := v.Verify(context.Background(), tok)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestJWKSVerifier_WrongIssuer(t *testing.T) {
	v, pk := newTestJWKSVerifier(t)
	claims := sessionClaims("user_123", time.Now().Add(time.Hour))
	claims["iss"] = "https://someone-else.example.com"
	tok := signToken(t, pk, claims)

	_, err := v.Verify(context.Background(), tok)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestJWKSVerifier_UnauthorizedParty(t *testing.T) {
	v, pk := newTestJWKSVerifier(t)
	claims := sessionClaims("user_123", time.Now().Add(time.Hour))
	claims["azp"] = "https://evil.example.com"
	tok := signToken(t, pk, claims)

	_, err := v.Verify(context.Background(), tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
	assert.Contains(t, err.Error(), "authorized party")
}

func TestJWKSVerifier_MissingSubject(t *testing.T) {
	v, pk := newTestJWKSVerifier(t)
	claims := sessionClaims("", time.Now().Add(time.Hour))
	delete(claims, "sub")
	tok := signToken(t, pk, claims)

	res, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.False(t, res.SignedIn)
	assert.NotEmpty(t, res.Reason)
}

func TestJWKSVerifier_Garbage(t *testing.T) {
	v, _ := newTestJWKSVerifier(t)

	_, err := v.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestJWKSVerifier_CancelledContext(t *testing.T) {
	v, pk := newTestJWKSVerifier(t)
	tok := signToken(t, pk, sessionClaims("user_123", time.Now().Add(time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Verify(ctx, tok)
	assert.ErrorIs(t, err, domain.ErrVerifierUnavailable)
}

// Each call re-validates: an identical verifier accepts one token and then
// rejects the next one once it is expired.
func TestJWKSVerifier_PerRequest(t *testing.T) {
	v, pk := newTestJWKSVerifier(t)
	valid := signToken(t, pk, sessionClaims("user_123", time.Now().Add(time.Hour)))
	expired := signToken(t, pk, sessionClaims("user_123", time.Now().Add(-time.Minute)))

	res, err := v.Verify(context.Background(), valid)
	require.NoError(t, err)
	assert.True(t, res.SignedIn)

	_, err = v.Verify(context.Background(), expired)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestNewJWKSVerifier_Validation(t *testing.T) {
	_, err := NewJWKSVerifier(context.Background(), JWKSConfig{Issuer: testIssuer})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwks url")

	_, err = NewJWKSVerifier(context.Background(), JWKSConfig{JWKSURL: "http://127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer")
}

func TestJWKSVerifier_UnknownKIDWhileEndpointHealthy(t *testing.T) {
	v, _ := newTestJWKSVerifier(t)
	other, _ := genRSA(t)
	tok := signTokenKID(t, other, "rotated_kid", sessionClaims("user_123", time.Now().Add(time.Hour)))

	_, err := v.Verify(context.Background(), tok)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestJWKSVerifier_EndpointDownIsUnavailable(t *testing.T) {
	pk, keys := genRSA(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(keys)
	}))
	v := newJWKSVerifierFor(t, srv.URL)
	srv.Close()

	// The rotated kid forces a refetch, which cannot reach the endpoint.
	tok := signTokenKID(t, pk, "rotated_kid", sessionClaims("user_123", time.Now().Add(time.Hour)))

	_, err := v.Verify(context.Background(), tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVerifierUnavailable)
	assert.NotErrorIs(t, err, domain.ErrInvalidCredential)
	assert.NotContains(t, err.Error(), tok)
}

func TestJWKSVerifier_EndpointDownAtStartup(t *testing.T) {
	pk, _ := genRSA(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	v := newJWKSVerifierFor(t, srv.URL)
	tok := signToken(t, pk, sessionClaims("user_123", time.Now().Add(time.Hour)))

	_, err := v.Verify(context.Background(), tok)
	assert.ErrorIs(t, err, domain.ErrVerifierUnavailable)
}

func TestJWKSVerifier_BadStatusIsUnavailable(t *testing.T) {
	pk, _ := genRSA(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	v := newJWKSVerifierFor(t, srv.URL)
	tok := signToken(t, pk, sessionClaims("user_123", time.Now().Add(time.Hour)))

	_, err := v.Verify(context.Background(), tok)
	assert.ErrorIs(t, err, domain.ErrVerifierUnavailable)
}
