package dao

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nonomal/mcphub-sub001/pkg/db"
	"github.com/nonomal/mcphub-sub001/pkg/settings"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	legacyBearerKeyName = "default"
	bearerKeysMarker    = "bearerKeys"
	systemConfigSection = "systemConfig"
)

// bearerKeyMigrator converts the legacy inline key into the first bearer key
// record. ensure writes at most once per store.
type bearerKeyMigrator interface {
	ensure(ctx context.Context) error
}

// legacyBearerKeys returns the key collection implied by a legacy routing config.
func legacyBearerKeys(cfg *types.SystemConfig) []types.BearerKey {
	if cfg == nil || cfg.Routing.BearerAuthKey == "" {
		return []types.BearerKey{}
	}
	key := types.BearerKey{
		ID:         uuid.NewString(),
		Name:       legacyBearerKeyName,
		Token:      cfg.Routing.BearerAuthKey,
		Enabled:    cfg.Routing.EnableBearerAuth,
		AccessType: types.AccessAll,
	}
	key.Normalize()
	return []types.BearerKey{key}
}

type fileBearerKeyMigrator struct {
	store settings.Store
	log   *zap.Logger
}

func (m *fileBearerKeyMigrator) ensure(ctx context.Context) error {
	doc, err := m.store.Load(ctx)
	if err != nil {
		return storageErr("load settings", err)
	}
	if doc.BearerKeys != nil {
		return nil
	}
	return m.store.Update(ctx, func(doc *types.Settings) error {
		if doc.BearerKeys != nil {
			return settings.ErrSkipSave
		}
		keys := legacyBearerKeys(doc.SystemConfig)
		doc.BearerKeys = &keys
		m.log.Info("Migrated bearer keys", zap.Int("count", len(keys)))
		return nil
	})
}

type dbBearerKeyMigrator struct {
	store *db.Store
	log   *zap.Logger
}

func (m *dbBearerKeyMigrator) ensure(ctx context.Context) error {
	done, err := m.store.GetSection(ctx, nil, bearerKeysMarker, nil)
	if err != nil || done {
		return err
	}
	return m.store.DB(ctx).Transaction(func(tx *gorm.DB) error {
		done, err := m.store.GetSection(ctx, tx, bearerKeysMarker, nil)
		if err != nil || done {
			return err
		}

		var cfg types.SystemConfig
		found, err := m.store.GetSection(ctx, tx, systemConfigSection, &cfg)
		if err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&types.BearerKey{}).Count(&count).Error; err != nil {
			return storageErr("count bearer keys", err)
		}

		var keys []types.BearerKey
		if found && count == 0 {
			keys = legacyBearerKeys(&cfg)
			for i := range keys {
				if err := tx.Create(&keys[i]).Error; err != nil {
					return storageErr("insert bearer key", err)
				}
			}
		}
		if err := m.store.PutSection(ctx, tx, bearerKeysMarker, map[string]bool{"migrated": true}); err != nil {
			return err
		}
		m.log.Info("Migrated bearer keys", zap.Int("count", len(keys)))
		return nil
	})
}

type bearerKeyDAO struct {
	mu       sync.Mutex
	repo     repository[types.BearerKey]
	migrator bearerKeyMigrator
}

func newBearerKeyDAO(repo repository[types.BearerKey], migrator bearerKeyMigrator) *bearerKeyDAO {
	return &bearerKeyDAO{repo: repo, migrator: migrator}
}

func (d *bearerKeyDAO) FindAll(ctx context.Context) ([]types.BearerKey, error) {
	if err := d.migrator.ensure(ctx); err != nil {
		return nil, err
	}
	keys, err := d.repo.list(ctx)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []types.BearerKey{}
	}
	for i := range keys {
		keys[i].Normalize()
	}
	sortByKey(keys, d.repo.keyOf)
	return keys, nil
}

func (d *bearerKeyDAO) FindEnabled(ctx context.Context) ([]types.BearerKey, error) {
	keys, err := d.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	enabled := make([]types.BearerKey, 0, len(keys))
	for _, k := range keys {
		if k.Enabled {
			enabled = append(enabled, k)
		}
	}
	return enabled, nil
}

func (d *bearerKeyDAO) FindByID(ctx context.Context, id string) (*types.BearerKey, error) {
	if err := d.migrator.ensure(ctx); err != nil {
		return nil, err
	}
	key, err := d.repo.get(ctx, id)
	if err != nil || key == nil {
		return nil, err
	}
	key.Normalize()
	return key, nil
}

func (d *bearerKeyDAO) FindByToken(ctx context.Context, token string) (*types.BearerKey, error) {
	if token == "" {
		return nil, nil
	}
	keys, err := d.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		if keys[i].Token == token {
			return &keys[i], nil
		}
	}
	return nil, nil
}

func validateBearerKey(k *types.BearerKey) error {
	switch {
	case k.Name == "":
		return fmt.Errorf("%w: key name is required", types.ErrInvalidInput)
	case k.Token == "":
		return fmt.Errorf("%w: key token is required", types.ErrInvalidInput)
	case !k.AccessType.Valid():
		return fmt.Errorf("%w: unknown access type %q", types.ErrInvalidInput, k.AccessType)
	}
	return nil
}

// Create assigns an ID when key has none.
func (d *bearerKeyDAO) Create(ctx context.Context, key types.BearerKey) (*types.BearerKey, error) {
	if err := d.migrator.ensure(ctx); err != nil {
		return nil, err
	}
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	key.Normalize()
	if err := validateBearerKey(&key); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.repo.insert(ctx, key); err != nil {
		return nil, err
	}
	return &key, nil
}

func (d *bearerKeyDAO) Update(ctx context.Context, id string, patch types.BearerKeyPatch) (*types.BearerKey, error) {
	if err := d.migrator.ensure(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key, err := d.repo.get(ctx, id)
	if err != nil || key == nil {
		return nil, err
	}
	patch.Apply(key)
	key.Normalize()
	if err := validateBearerKey(key); err != nil {
		return nil, err
	}

	if err := d.repo.replace(ctx, id, *key); errors.Is(err, types.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return key, nil
}

func (d *bearerKeyDAO) Delete(ctx context.Context, id string) (bool, error) {
	if err := d.migrator.ensure(ctx); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.repo.remove(ctx, id)
}
