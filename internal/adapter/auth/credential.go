package auth

import (
	"net/http"
	"strings"

	"github.com/speakeasy-api/clerk-gate/internal/core/domain"
)

// SessionCookie is the cookie Clerk sets for same-origin frontends.
const SessionCookie = "__session"

// CredentialFromRequest extracts the session token from r. The Authorization
// header wins over the session cookie. CORS preflight requests never carry a
// credential.
func CredentialFromRequest(r *http.Request) domain.Credential {
	if r.Method == http.MethodOptions {
		return domain.Credential{}
	}

	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return domain.Credential{Source: domain.SourceHeader, Malformed: true}
		}
		return domain.Credential{Token: token, Source: domain.SourceHeader}
	}

	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return domain.Credential{Token: c.Value, Source: domain.SourceCookie}
	}

	return domain.Credential{}
}
