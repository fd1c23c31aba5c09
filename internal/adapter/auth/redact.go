package auth

import "strings"

const redacted = "[REDACTED]"

// redact removes every non-empty secret from msg.
func redact(msg string, secrets ...string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, s, redacted)
	}
	return msg
}

// partyAllowed reports whether azp may use the token. An empty allow-list or
// a token without an azp claim is accepted.
func partyAllowed(parties []string, azp string) bool {
	if len(parties) == 0 || azp == "" {
		return true
	}
	for _, p := range parties {
		if p == azp {
			return true
		}
	}
	return false
}
