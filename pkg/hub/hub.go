package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nonomal/mcphub-sub001/pkg/admin"
	"github.com/nonomal/mcphub-sub001/pkg/auth"
	"github.com/nonomal/mcphub-sub001/pkg/bearer"
	"github.com/nonomal/mcphub-sub001/pkg/dao"
	"github.com/nonomal/mcphub-sub001/pkg/db"
	"github.com/nonomal/mcphub-sub001/pkg/encryption"
	"github.com/nonomal/mcphub-sub001/pkg/logger"
	"github.com/nonomal/mcphub-sub001/pkg/oauth"
	"github.com/nonomal/mcphub-sub001/pkg/ratelimit"
	"github.com/nonomal/mcphub-sub001/pkg/settings"
	"github.com/nonomal/mcphub-sub001/pkg/tokens"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

// DefaultSettingsPath is used in file mode when no path is configured.
const DefaultSettingsPath = "mcp_settings.json"

type Hub struct {
	config *types.Config
	log    *zap.Logger

	files *settings.FileStore
	db    *db.Store
	daos  *dao.DAOs

	tokens      *tokens.Manager
	oauth       *oauth.Server
	sessions    *auth.JWTManager
	auth        *auth.Middleware
	bearer      *bearer.Middleware
	admin       *admin.Handler
	rateLimiter *ratelimit.RateLimiter
	metadata    *types.OAuthMetadata

	ctx    context.Context
	cancel context.CancelFunc
}

func New(config *types.Config, log *zap.Logger) (*Hub, error) {
	log = logger.OrNop(log)
	h := &Hub{
		config: config,
		log:    log,
	}

	switch config.Storage {
	case "", types.StorageFile:
		path := config.SettingsPath
		if path == "" {
			path = DefaultSettingsPath
		}
		files, err := settings.NewFileStore(path, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open settings file: %w", err)
		}
		log.Info("Using settings file", zap.String("path", files.Path()))
		h.files = files
		h.daos = dao.NewFileDAOs(files, log)
	case types.StorageDB:
		store, err := db.New(config.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		log.Info("Using database", zap.String("type", store.Type()))
		h.db = store
		h.daos = dao.NewDBDAOs(store, log)
	default:
		return nil, fmt.Errorf("invalid storage %q: must be %q or %q", config.Storage, types.StorageFile, types.StorageDB)
	}

	signingKey := []byte(config.JWTSecret)
	if len(signingKey) == 0 {
		log.Warn("JWT_SECRET not set, using a random signing key; sessions will not survive a restart")
		signingKey = []byte(encryption.GenerateRandomString(32))
	}
	h.sessions = auth.NewJWTManager(signingKey)
	h.auth = auth.NewMiddleware(h.sessions, h.daos.SystemConfig)

	h.tokens = tokens.NewManager(h.daos.Tokens, log)
	h.oauth = oauth.NewServer(h.daos.Clients, h.tokens, oauth.ConfigFrom(config), log)

	h.bearer = bearer.NewMiddleware(
		bearer.NewAuthorizer(h.daos.BearerKeys, log),
		h.daos.Groups,
		h.daos.Servers,
		h.daos.SystemConfig,
		h.oauth,
	)
	h.admin = admin.NewHandler(h.daos, h.auth)

	h.rateLimiter = ratelimit.NewRateLimiter(
		time.Duration(15)*time.Minute,
		5000,
	)

	h.metadata = &types.OAuthMetadata{
		ResponseTypesSupported:                 []string{oauth.ResponseTypeCode},
		GrantTypesSupported:                    oauth.DefaultGrants,
		CodeChallengeMethodsSupported:          []string{oauth.PKCES256, oauth.PKCEPlain},
		TokenEndpointAuthMethodsSupported:      []string{"client_secret_basic", "client_secret_post", "none"},
		RevocationEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		ScopesSupported:                        oauth.ConfigFrom(config).DefaultScopes,
	}

	return h, nil
}

// DAOs exposes the storage layer the hub was built on.
func (h *Hub) DAOs() *dao.DAOs {
	return h.daos
}

func (h *Hub) Close() error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// Start bootstraps the stores and runs the background work: the settings
// watcher and the periodic sweep. Both stop when ctx is done or on Close.
func (h *Hub) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	if err := h.Bootstrap(h.ctx); err != nil {
		return err
	}

	if h.files != nil && h.config.WatchSettings {
		if err := h.files.Watch(h.ctx); err != nil {
			return err
		}
	}

	if interval := h.config.CleanupInterval; interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			context.AfterFunc(h.ctx, ticker.Stop)
			for {
				select {
				case <-h.ctx.Done():
					return
				case now := <-ticker.C:
					h.sweep(h.ctx, now)
				}
			}
		}()
	}

	return nil
}

// Bootstrap creates the admin user on an empty store, hashes plaintext
// passwords and runs the bearer key migration.
func (h *Hub) Bootstrap(ctx context.Context) error {
	password, err := auth.EnsureAdmin(ctx, h.daos.Users, h.config.AdminPassword)
	if err != nil {
		return err
	}
	if password != "" {
		if h.config.AdminPassword == "" {
			h.log.Warn("Created admin user with a generated password", zap.String("username", types.AdminPrincipal), zap.String("password", password))
		} else {
			h.log.Info("Created admin user", zap.String("username", types.AdminPrincipal))
		}
	}

	upgraded, err := auth.HashPlaintextPasswords(ctx, h.daos.Users)
	if err != nil {
		return err
	}
	if upgraded > 0 {
		h.log.Info("Hashed plaintext user passwords", zap.Int("count", upgraded))
	}

	keys, err := h.daos.BearerKeys.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load bearer keys: %w", err)
	}
	h.log.Debug("Loaded bearer keys", zap.Int("count", len(keys)))
	return nil
}

func (h *Hub) sweep(ctx context.Context, now time.Time) {
	removed, err := h.tokens.Sweep(ctx, now)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Error("Failed to sweep expired tokens", zap.Error(err))
	}
	codes := h.oauth.Codes().PurgeExpired(now)
	clients := h.rateLimiter.Prune()
	if removed > 0 || codes > 0 {
		h.log.Info("Swept expired credentials",
			zap.Int("tokens", removed),
			zap.Int("codes", codes),
			zap.Int("rateLimitKeys", clients))
	}
}
