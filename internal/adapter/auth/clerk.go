package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/jwks"
	"github.com/clerk/clerk-sdk-go/v2/jwt"
	"golang.org/x/sync/singleflight"

	"github.com/speakeasy-api/clerk-gate/internal/core/domain"
	"github.com/speakeasy-api/clerk-gate/internal/core/port"
)

// ClerkConfig holds the settings for ClerkVerifier.
type ClerkConfig struct {
	SecretKey         string
	AuthorizedParties []string
	Leeway            time.Duration
	// APIURL overrides the Clerk backend API URL. Empty uses the SDK default.
	APIURL     string
	HTTPClient *http.Client
	// KeyTTL bounds how long fetched signing keys are reused. Zero means
	// DefaultKeyTTL.
	KeyTTL time.Duration
}

const (
	// DefaultKeyTTL matches the key cache lifetime of the SDK's own middleware.
	DefaultKeyTTL = time.Hour
	// An unknown kid refetches the key set at most once per interval.
	minKeyRefetchInterval = 30 * time.Second
	keyFetchTimeout       = 10 * time.Second
)

var (
	errUnknownKey = errors.New("no signing key matches the token kid")
	errKeyFetch   = errors.New("fetching signing keys")
)

// ClerkVerifier verifies Clerk session tokens with the Clerk Go SDK.
// Signing keys are fetched from the instance's JWKS endpoint using the
// secret key and cached by kid. Concurrent misses share one fetch.
type ClerkVerifier struct {
	jwksClient *jwks.Client
	secretKey  string
	parties    []string
	leeway     time.Duration
	keyTTL     time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	keys      map[string]*clerk.JSONWebKey
	fetchedAt time.Time
	fetches   singleflight.Group
}

// NewClerkVerifier creates a verifier bound to one Clerk instance.
func NewClerkVerifier(cfg ClerkConfig) (*ClerkVerifier, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("clerk secret key is required")
	}

	backend := clerk.BackendConfig{
		Key:        clerk.String(cfg.SecretKey),
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.APIURL != "" {
		backend.URL = clerk.String(cfg.APIURL)
	}

	ttl := cfg.KeyTTL
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}

	return &ClerkVerifier{
		jwksClient: jwks.NewClient(&clerk.ClientConfig{BackendConfig: backend}),
		secretKey:  cfg.SecretKey,
		parties:    append([]string(nil), cfg.AuthorizedParties...),
		leeway:     cfg.Leeway,
		keyTTL:     ttl,
		now:        time.Now,
	}, nil
}

// Verify checks the token signature, expiry and authorized party.
func (v *ClerkVerifier) Verify(ctx context.Context, token string) (*port.Verification, error) {
	unverified, err := jwt.Decode(ctx, &jwt.DecodeParams{Token: token})
	if err != nil {
		return nil, v.classify(err, token)
	}
	key, err := v.signingKey(ctx, unverified.KeyID)
	if err != nil {
		return nil, v.classify(err, token)
	}

	claims, err := jwt.Verify(ctx, &jwt.VerifyParams{
		Token:  token,
		JWK:    key,
		Leeway: v.leeway,
		AuthorizedPartyHandler: func(azp string) bool {
			return partyAllowed(v.parties, azp)
		},
	})
	if err != nil {
		return nil, v.classify(err, token)
	}

	if claims.Subject == "" {
		return &port.Verification{SignedIn: false, Reason: "token has no subject claim"}, nil
	}

	return &port.Verification{
		SignedIn:  true,
		Subject:   claims.Subject,
		SessionID: claims.SessionID,
	}, nil
}

// signingKey returns the cached key for kid, fetching the key set when the
// cache is stale or does not know kid. A stale key is served when the fetch
// fails.
func (v *ClerkVerifier) signingKey(ctx context.Context, kid string) (*clerk.JSONWebKey, error) {
	if kid == "" {
		return nil, errors.New("missing jwt kid header claim")
	}

	key, fresh, recent := v.cachedKey(kid)
	if key != nil && fresh {
		return key, nil
	}
	if key == nil && recent {
		return nil, errUnknownKey
	}

	ch := v.fetches.DoChan(kid, func() (any, error) {
		if k, fresh, _ := v.cachedKey(kid); k != nil && fresh {
			return k, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keyFetchTimeout)
		defer cancel()
		if err := v.refreshKeys(fetchCtx); err != nil {
			return nil, err
		}
		k, _, _ := v.cachedKey(kid)
		if k == nil {
			return nil, errUnknownKey
		}
		return k, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if key != nil && !errors.Is(res.Err, errUnknownKey) {
				return key, nil
			}
			return nil, res.Err
		}
		return res.Val.(*clerk.JSONWebKey), nil
	}
}

// cachedKey reports the key for kid, whether the cache is within its TTL and
// whether the last fetch is too recent to refetch for an unknown kid.
func (v *ClerkVerifier) cachedKey(kid string) (key *clerk.JSONWebKey, fresh, recent bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.fetchedAt.IsZero() {
		return nil, false, false
	}
	age := v.now().Sub(v.fetchedAt)
	return v.keys[kid], age < v.keyTTL, age < minKeyRefetchInterval
}

func (v *ClerkVerifier) refreshKeys(ctx context.Context) error {
	set, err := v.jwksClient.Get(ctx, &jwks.GetParams{})
	if err != nil {
		return fmt.Errorf("%w: %w", errKeyFetch, err)
	}
	keys := make(map[string]*clerk.JSONWebKey, len(set.Keys))
	for _, k := range set.Keys {
		if k != nil && k.KeyID != "" {
			keys[k.KeyID] = k
		}
	}

	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = v.now()
	v.mu.Unlock()
	return nil
}

// classify maps an SDK error onto the domain taxonomy. A failed key fetch,
// transport failures and 5xx/429 answers from the Clerk API mean the verifier
// could not complete.
func (v *ClerkVerifier) classify(err error, token string) error {
	msg := redact(err.Error(), token, v.secretKey)

	var (
		apiErr *clerk.APIErrorResponse
		netErr net.Error
	)
	switch {
	case errors.Is(err, errKeyFetch):
		return fmt.Errorf("%w: %s", domain.ErrVerifierUnavailable, msg)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s", domain.ErrVerifierUnavailable, msg)
	case errors.As(err, &netErr):
		return fmt.Errorf("%w: %s", domain.ErrVerifierUnavailable, msg)
	case errors.As(err, &apiErr) && (apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == http.StatusTooManyRequests):
		return fmt.Errorf("%w: %s", domain.ErrVerifierUnavailable, msg)
	default:
		return fmt.Errorf("%w: %s", domain.ErrInvalidCredential, msg)
	}
}

var _ port.TokenVerifier = (*ClerkVerifier)(nil)
