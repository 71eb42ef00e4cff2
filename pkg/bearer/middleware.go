package bearer

import (
	"context"
	"net/http"

	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/oauth/validate"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

type GroupStore interface {
	FindAll(ctx context.Context, id *types.Identity) ([]types.Group, error)
	FindByKey(ctx context.Context, key string, id *types.Identity) (*types.Group, error)
}

type ServerStore interface {
	FindByKey(ctx context.Context, key string, id *types.Identity) (*types.Server, error)
}

type ConfigStore interface {
	Get(ctx context.Context) (types.SystemConfig, error)
}

// Middleware guards /mcp/{target}: a request passes with a bearer key that
// admits the target or with a live OAuth access token.
type Middleware struct {
	authorizer *Authorizer
	groups     GroupStore
	servers    ServerStore
	config     ConfigStore
	oauth      validate.AccessTokenValidator
}

func NewMiddleware(authorizer *Authorizer, groups GroupStore, servers ServerStore, config ConfigStore, oauth validate.AccessTokenValidator) *Middleware {
	return &Middleware{
		authorizer: authorizer,
		groups:     groups,
		servers:    servers,
		config:     config,
		oauth:      oauth,
	}
}

type targetKey struct{}

// TargetFrom returns the target resolved by the middleware.
func TargetFrom(ctx context.Context) (Target, bool) {
	t, ok := ctx.Value(targetKey{}).(Target)
	return t, ok
}

func (m *Middleware) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		cfg, err := m.config.Get(ctx)
		if err != nil {
			serverError(w, "Failed to read system config", err)
			return
		}

		target, err := m.resolve(ctx, r.PathValue("target"))
		if err != nil {
			serverError(w, "Failed to resolve target", err)
			return
		}

		if cfg.Routing.SkipAuth {
			if target == nil {
				notFound(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, targetKey{}, *target)))
			return
		}

		token := handlerutils.BearerToken(r)
		if token == "" {
			validate.Unauthorized(w, r, "Missing or malformed Authorization header")
			return
		}

		// Unknown targets are only reported to authenticated callers.
		if target == nil {
			ok, err := m.authenticated(ctx, token)
			if err != nil {
				serverError(w, "Failed to authenticate request", err)
				return
			}
			if !ok {
				validate.Unauthorized(w, r, "Invalid or expired token")
				return
			}
			notFound(w)
			return
		}
		r = r.WithContext(context.WithValue(ctx, targetKey{}, *target))

		decision, err := m.authorizer.Authorize(ctx, token, *target)
		if err != nil {
			serverError(w, "Failed to authorize bearer key", err)
			return
		}
		switch decision {
		case Allowed:
			next.ServeHTTP(w, r)
			return
		case Denied:
			handlerutils.JSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "Bearer key does not grant access to this target"})
			return
		}

		tokenInfo, err := m.oauth.ValidateAccessToken(ctx, token)
		if err != nil {
			serverError(w, "Failed to validate access token", err)
			return
		}
		if tokenInfo == nil {
			validate.Unauthorized(w, r, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(validate.WithTokenInfo(r.Context(), tokenInfo)))
	})
}

// authenticated reports whether token is an enabled bearer key or a live
// OAuth access token.
func (m *Middleware) authenticated(ctx context.Context, token string) (bool, error) {
	if ok, err := m.authorizer.Authenticate(ctx, token); err != nil || ok {
		return ok, err
	}
	tokenInfo, err := m.oauth.ValidateAccessToken(ctx, token)
	return tokenInfo != nil, err
}

// resolve finds the group by id, then the group by name, then the server by
// name.
func (m *Middleware) resolve(ctx context.Context, name string) (*Target, error) {
	if name == "" {
		return nil, nil
	}
	admin := types.AdminIdentity()

	group, err := m.groups.FindByKey(ctx, name, admin)
	if err != nil {
		return nil, err
	}
	if group == nil {
		groups, err := m.groups.FindAll(ctx, admin)
		if err != nil {
			return nil, err
		}
		for i := range groups {
			if groups[i].Name == name {
				group = &groups[i]
				break
			}
		}
	}
	if group != nil {
		return &Target{Kind: TargetGroup, ID: group.ID, Name: group.Name}, nil
	}

	server, err := m.servers.FindByKey(ctx, name, admin)
	if err != nil {
		return nil, err
	}
	if server != nil {
		return &Target{Kind: TargetServer, ID: server.Name, Name: server.Name}, nil
	}
	return nil, nil
}

func notFound(w http.ResponseWriter) {
	handlerutils.JSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Unknown group or server"})
}

func serverError(w http.ResponseWriter, msg string, err error) {
	zap.L().Error(msg, zap.Error(err))
	handlerutils.JSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": msg})
}
