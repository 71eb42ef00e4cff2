// Package dao provides data access for hub entities. Every DAO has a
// settings-file implementation and a relational implementation; both are
// built from the same permission and validation code so they behave the same.
package dao

import (
	"context"
	"time"

	"github.com/nonomal/mcphub-sub001/pkg/db"
	"github.com/nonomal/mcphub-sub001/pkg/logger"
	"github.com/nonomal/mcphub-sub001/pkg/settings"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

// EntityDAO is the identity-scoped CRUD contract. A nil identity sees nothing
// and may change nothing.
type EntityDAO[T any, P any] interface {
	// FindAll returns the entities the identity may see, ordered by key.
	FindAll(ctx context.Context, id *types.Identity) ([]T, error)
	// FindByKey returns nil when the entity is absent or not visible.
	FindByKey(ctx context.Context, key string, id *types.Identity) (*T, error)
	Create(ctx context.Context, item T, id *types.Identity) (*T, error)
	// Update returns nil when the entity is absent.
	Update(ctx context.Context, key string, patch P, id *types.Identity) (*T, error)
	// Delete reports false when the entity is absent.
	Delete(ctx context.Context, key string, id *types.Identity) (bool, error)
	Exists(ctx context.Context, key string, id *types.Identity) (bool, error)
}

type UserDAO interface {
	EntityDAO[types.User, types.UserPatch]
}

type ServerDAO interface {
	EntityDAO[types.Server, types.ServerPatch]
}

type GroupDAO interface {
	EntityDAO[types.Group, types.GroupPatch]
}

// OAuthClientDAO stores OAuth clients. Access control is applied by callers.
type OAuthClientDAO interface {
	FindAll(ctx context.Context) ([]types.OAuthClient, error)
	FindByClientID(ctx context.Context, clientID string) (*types.OAuthClient, error)
	Create(ctx context.Context, client types.OAuthClient) (*types.OAuthClient, error)
	Update(ctx context.Context, clientID string, patch types.OAuthClientPatch) (*types.OAuthClient, error)
	Delete(ctx context.Context, clientID string) (bool, error)
}

// OAuthTokenDAO stores issued tokens.
type OAuthTokenDAO interface {
	FindAll(ctx context.Context) ([]types.OAuthToken, error)
	FindByAccessToken(ctx context.Context, accessToken string) (*types.OAuthToken, error)
	FindByRefreshToken(ctx context.Context, refreshToken string) (*types.OAuthToken, error)
	// Create removes any record sharing the access or refresh token value
	// with token, then inserts token, as one operation.
	Create(ctx context.Context, token types.OAuthToken) (*types.OAuthToken, error)
	// Replace removes the record whose refresh token equals refreshToken and
	// inserts token in its place, as one operation. It returns
	// types.ErrNotFound when no record holds refreshToken.
	Replace(ctx context.Context, refreshToken string, token types.OAuthToken) (*types.OAuthToken, error)
	// DeleteByToken removes the record whose access or refresh token equals token.
	DeleteByToken(ctx context.Context, token string) (bool, error)
	// DeleteStale removes records whose access token expired and whose
	// refresh token is absent or expired.
	DeleteStale(ctx context.Context, now time.Time) (int, error)
}

// BearerKeyDAO stores bearer keys. The first call migrates the legacy
// inline key when the collection has never been written.
type BearerKeyDAO interface {
	FindAll(ctx context.Context) ([]types.BearerKey, error)
	FindEnabled(ctx context.Context) ([]types.BearerKey, error)
	FindByID(ctx context.Context, id string) (*types.BearerKey, error)
	// FindByToken matches enabled and disabled keys alike.
	FindByToken(ctx context.Context, token string) (*types.BearerKey, error)
	Create(ctx context.Context, key types.BearerKey) (*types.BearerKey, error)
	Update(ctx context.Context, id string, patch types.BearerKeyPatch) (*types.BearerKey, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type SystemConfigDAO interface {
	Get(ctx context.Context) (types.SystemConfig, error)
	Update(ctx context.Context, patch types.SystemConfigPatch) (types.SystemConfig, error)
}

// DAOs is the set of DAOs for one storage backend.
type DAOs struct {
	Users        UserDAO
	Servers      ServerDAO
	Groups       GroupDAO
	Clients      OAuthClientDAO
	Tokens       OAuthTokenDAO
	BearerKeys   BearerKeyDAO
	SystemConfig SystemConfigDAO
}

// NewFileDAOs builds DAOs that persist into the settings document.
func NewFileDAOs(store settings.Store, log *zap.Logger) *DAOs {
	log = logger.OrNop(log)
	return &DAOs{
		Users:        newUserDAO(newFileUserRepo(store)),
		Servers:      newServerDAO(newFileServerRepo(store)),
		Groups:       newGroupDAO(newFileGroupRepo(store)),
		Clients:      newClientDAO(newFileClientRepo(store)),
		Tokens:       &fileTokenDAO{store: store},
		BearerKeys:   newBearerKeyDAO(newFileBearerKeyRepo(store), &fileBearerKeyMigrator{store: store, log: log}),
		SystemConfig: &fileSystemConfigDAO{store: store},
	}
}

// NewDBDAOs builds DAOs backed by the relational store.
func NewDBDAOs(store *db.Store, log *zap.Logger) *DAOs {
	log = logger.OrNop(log)
	return &DAOs{
		Users:        newUserDAO(newGormRepo(store, "username", func(u *types.User) string { return u.Username })),
		Servers:      newServerDAO(newGormRepo(store, "name", func(s *types.Server) string { return s.Name })),
		Groups:       newGroupDAO(newGormRepo(store, "id", func(g *types.Group) string { return g.ID })),
		Clients:      newClientDAO(newGormRepo(store, "client_id", func(c *types.OAuthClient) string { return c.ClientID })),
		Tokens:       &dbTokenDAO{store: store},
		BearerKeys:   newBearerKeyDAO(newGormRepo(store, "id", func(k *types.BearerKey) string { return k.ID }), &dbBearerKeyMigrator{store: store, log: log}),
		SystemConfig: &dbSystemConfigDAO{store: store},
	}
}
