package validate

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

type AccessTokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*types.OAuthToken, error)
}

type TokenValidator struct {
	server AccessTokenValidator
}

func NewTokenValidator(server AccessTokenValidator) *TokenValidator {
	return &TokenValidator{
		server: server,
	}
}

// WithTokenValidation rejects requests without a live OAuth access token and
// stores the token record on the request context otherwise.
func (p *TokenValidator) WithTokenValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := handlerutils.BearerToken(r)
		if token == "" {
			Unauthorized(w, r, "Missing or malformed Authorization header")
			return
		}

		tokenInfo, err := p.server.ValidateAccessToken(r.Context(), token)
		if err != nil {
			zap.L().Error("Failed to validate access token", zap.Error(err))
			handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
				Error:            "server_error",
				ErrorDescription: "Failed to validate token",
			})
			return
		}
		if tokenInfo == nil {
			Unauthorized(w, r, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTokenInfo(r.Context(), tokenInfo)))
	})
}

// Unauthorized writes a 401 with a WWW-Authenticate challenge pointing at
// the protected resource metadata.
func Unauthorized(w http.ResponseWriter, r *http.Request, description string) {
	resourceMetadataURL := fmt.Sprintf("%s/.well-known/oauth-protected-resource", handlerutils.GetBaseURL(r))
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error="invalid_token", error_description=%q, resource_metadata=%q`, description, resourceMetadataURL))
	handlerutils.JSON(w, http.StatusUnauthorized, types.OAuthError{
		Error:            "invalid_token",
		ErrorDescription: description,
	})
}

func WithTokenInfo(ctx context.Context, token *types.OAuthToken) context.Context {
	return context.WithValue(ctx, tokenInfoKey{}, token)
}

// GetTokenInfo returns the validated token, or nil when the request was not
// authenticated with one.
func GetTokenInfo(r *http.Request) *types.OAuthToken {
	token, _ := r.Context().Value(tokenInfoKey{}).(*types.OAuthToken)
	return token
}

type tokenInfoKey struct{}
