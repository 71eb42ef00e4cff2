package dao

import (
	"context"

	"github.com/nonomal/mcphub-sub001/pkg/db"
	"github.com/nonomal/mcphub-sub001/pkg/settings"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"gorm.io/gorm"
)

type fileSystemConfigDAO struct {
	store settings.Store
}

func (d *fileSystemConfigDAO) Get(ctx context.Context) (types.SystemConfig, error) {
	doc, err := d.store.Load(ctx)
	if err != nil {
		return types.SystemConfig{}, storageErr("load settings", err)
	}
	return doc.GetSystemConfig(), nil
}

func (d *fileSystemConfigDAO) Update(ctx context.Context, patch types.SystemConfigPatch) (types.SystemConfig, error) {
	var cfg types.SystemConfig
	err := d.store.Update(ctx, func(doc *types.Settings) error {
		cfg = doc.GetSystemConfig()
		patch.Apply(&cfg)
		doc.SystemConfig = &cfg
		return nil
	})
	return cfg, err
}

type dbSystemConfigDAO struct {
	store *db.Store
}

func (d *dbSystemConfigDAO) Get(ctx context.Context) (types.SystemConfig, error) {
	var cfg types.SystemConfig
	_, err := d.store.GetSection(ctx, nil, systemConfigSection, &cfg)
	return cfg, err
}

func (d *dbSystemConfigDAO) Update(ctx context.Context, patch types.SystemConfigPatch) (types.SystemConfig, error) {
	var cfg types.SystemConfig
	err := d.store.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := d.store.GetSection(ctx, tx, systemConfigSection, &cfg); err != nil {
			return err
		}
		patch.Apply(&cfg)
		return d.store.PutSection(ctx, tx, systemConfigSection, cfg)
	})
	return cfg, err
}
