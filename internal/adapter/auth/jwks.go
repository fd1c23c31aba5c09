package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/jwkset"
	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/speakeasy-api/clerk-gate/internal/core/domain"
	"github.com/speakeasy-api/clerk-gate/internal/core/port"
)

const (
	defaultJWKSRefreshInterval = time.Hour
	defaultJWKSFetchTimeout    = 10 * time.Second
	// Unknown kids trigger at most one refetch per interval.
	unknownKIDRefreshInterval = 5 * time.Minute
	unknownKIDWaitMax         = time.Second
)

// JWKSConfig controls validation for JWKSVerifier.
type JWKSConfig struct {
	JWKSURL           string
	Issuer            string
	AuthorizedParties []string
	AllowedAlgs       []string
	Leeway            time.Duration
	RefreshInterval   time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// JWKSVerifier validates Clerk-style session JWTs against a JWKS URL without
// going through the Clerk backend API. Keys are refreshed in the background
// for as long as the construction context lives.
type JWKSVerifier struct {
	cfg     JWKSConfig
	keyfunc keyfunc.Keyfunc
	health  *keyFetchHealth
}

// NewJWKSVerifier starts the JWKS refresher and returns a verifier. A failed
// first fetch is not fatal; tokens are reported as unverifiable until the
// endpoint answers.
func NewJWKSVerifier(ctx context.Context, cfg JWKSConfig) (*JWKSVerifier, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("jwks url is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultJWKSRefreshInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.AuthorizedParties = append([]string(nil), cfg.AuthorizedParties...)

	health := &keyFetchHealth{}
	base := cfg.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client := *cfg.HTTPClient
	client.Transport = &keyFetchTransport{base: base, health: health}

	store, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &client,
		Ctx:                       ctx,
		HTTPTimeout:               defaultJWKSFetchTimeout,
		NoErrorReturnFirstHTTPReq: true,
		RefreshErrorHandler: func(ctx context.Context, err error) {
			health.fail(err)
			cfg.Logger.WarnContext(ctx, "jwks refresh failed",
				slog.String("url", cfg.JWKSURL),
				slog.String("error", err.Error()),
			)
		},
		RefreshInterval: cfg.RefreshInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	storage, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{cfg.JWKSURL: store},
		RateLimitWaitMax:  unknownKIDWaitMax,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(unknownKIDRefreshInterval), 1),
	})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &JWKSVerifier{cfg: cfg, keyfunc: kf, health: health}, nil
}

// Verify checks signature, issuer, expiry and the azp claim.
func (v *JWKSVerifier) Verify(ctx context.Context, token string) (*port.Verification, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVerifierUnavailable, err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(token, v.keyfunc.KeyfuncCtx(ctx))
	if err != nil {
		return nil, v.classify(ctx, err, token)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", domain.ErrInvalidCredential)
	}

	azp, _ := claims["azp"].(string)
	if !partyAllowed(v.cfg.AuthorizedParties, azp) {
		return nil, fmt.Errorf("%w: invalid authorized party %s", domain.ErrInvalidCredential, azp)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return &port.Verification{SignedIn: false, Reason: "token has no subject claim"}, nil
	}
	sid, _ := claims["sid"].(string)

	return &port.Verification{SignedIn: true, Subject: sub, SessionID: sid}, nil
}

// classify separates tokens that are bad from tokens that could not be
// checked because no signing key was reachable.
func (v *JWKSVerifier) classify(ctx context.Context, err error, token string) error {
	msg := redact(err.Error(), token)

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s", domain.ErrVerifierUnavailable, msg)
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		if fetchErr := v.health.lastErr(); fetchErr != nil {
			return fmt.Errorf("%w: %s (last key fetch: %v)", domain.ErrVerifierUnavailable, msg, fetchErr)
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidCredential, msg)
}

// keyFetchHealth remembers whether the most recent JWKS fetch failed.
type keyFetchHealth struct {
	mu  sync.Mutex
	err error
}

func (h *keyFetchHealth) fail(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

func (h *keyFetchHealth) ok() {
	h.mu.Lock()
	h.err = nil
	h.mu.Unlock()
}

func (h *keyFetchHealth) lastErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// keyFetchTransport clears the failure mark when the endpoint answers 200.
// Decode failures after a 200 still reach the refresh error handler, which
// runs later and marks the fetch failed again.
type keyFetchTransport struct {
	base   http.RoundTripper
	health *keyFetchHealth
}

func (t *keyFetchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusOK {
		t.health.ok()
	}
	return resp, err
}

var _ port.TokenVerifier = (*JWKSVerifier)(nil)
