package oauth

import (
	"crypto/subtle"
	"slices"
	"strings"

	"golang.org/x/oauth2"
)

const (
	PKCEPlain = "plain"
	PKCES256  = "S256"
)

// VerifyPKCE reports whether verifier answers challenge under method.
func VerifyPKCE(challenge, method, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	var computed string
	switch method {
	case PKCEPlain:
		computed = verifier
	case PKCES256, "":
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// NegotiateScope reduces the requested scope to the allowed subset. An empty
// request grants everything allowed; a request with no allowed scope fails.
func NegotiateScope(requested string, allowed []string) (string, error) {
	if strings.TrimSpace(requested) == "" {
		return strings.Join(allowed, " "), nil
	}
	var granted []string
	for _, scope := range strings.Fields(requested) {
		if slices.Contains(allowed, scope) && !slices.Contains(granted, scope) {
			granted = append(granted, scope)
		}
	}
	if len(granted) == 0 {
		return "", ErrInvalidScope.WithDescription("none of the requested scopes are allowed")
	}
	return strings.Join(granted, " "), nil
}
