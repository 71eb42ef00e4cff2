package auth

import (
	"context"
	"net/http"

	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

// TokenHeader is the alternative header carrying a session token.
const TokenHeader = "x-auth-token"

type identityKey struct{}

func WithIdentity(ctx context.Context, id *types.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller identity, or nil for anonymous requests.
func IdentityFrom(ctx context.Context) *types.Identity {
	id, _ := ctx.Value(identityKey{}).(*types.Identity)
	return id
}

// SystemConfigSource returns the current system configuration.
type SystemConfigSource interface {
	Get(ctx context.Context) (types.SystemConfig, error)
}

// Middleware resolves the session identity of incoming requests.
type Middleware struct {
	jwt    *JWTManager
	config SystemConfigSource
}

func NewMiddleware(jwt *JWTManager, config SystemConfigSource) *Middleware {
	return &Middleware{
		jwt:    jwt,
		config: config,
	}
}

// Identify attaches the caller identity to the request context when a valid
// session token is present. With routing.skipAuth every caller is the admin
// principal. It never rejects a request.
func (m *Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := m.identify(r); id != nil {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// Require rejects anonymous requests with 401.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return m.Identify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFrom(r.Context()) == nil {
			handlerutils.JSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"message": "Authentication required",
			})
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequireAdmin rejects anonymous requests with 401 and non-admins with 403.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return m.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFrom(r.Context()).IsAdmin {
			handlerutils.JSON(w, http.StatusForbidden, map[string]any{
				"success": false,
				"message": "Admin privileges required",
			})
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func (m *Middleware) identify(r *http.Request) *types.Identity {
	if m.config != nil {
		cfg, err := m.config.Get(r.Context())
		if err != nil {
			zap.L().Warn("Failed to read system config", zap.Error(err))
		} else if cfg.Routing.SkipAuth {
			return types.AdminIdentity()
		}
	}

	token := handlerutils.BearerToken(r)
	if token == "" {
		token = r.Header.Get(TokenHeader)
	}
	if token == "" {
		return nil
	}
	id, err := m.jwt.Verify(token)
	if err != nil {
		zap.L().Debug("Rejected session token", zap.Error(err))
		return nil
	}
	return id
}
