package dao

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/nonomal/mcphub-sub001/pkg/db"
	"github.com/nonomal/mcphub-sub001/pkg/settings"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"gorm.io/gorm"
)

// repository is the unscoped storage contract each backend implements.
type repository[T any] interface {
	keyOf(item *T) string
	list(ctx context.Context) ([]T, error)
	// get returns nil when absent.
	get(ctx context.Context, key string) (*T, error)
	// insert fails with types.ErrAlreadyExists when the key is taken.
	insert(ctx context.Context, item T) error
	// replace fails with types.ErrNotFound when the key is absent.
	replace(ctx context.Context, key string, item T) error
	remove(ctx context.Context, key string) (bool, error)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", types.ErrStorageFailure, op, err)
}

func sortByKey[T any](items []T, key func(*T) string) {
	slices.SortFunc(items, func(a, b T) int {
		return strings.Compare(key(&a), key(&b))
	})
}

// fileRepo keeps one collection of the settings document.
type fileRepo[T any] struct {
	store   settings.Store
	section func(doc *types.Settings) []T
	setter  func(doc *types.Settings, items []T)
	key     func(*T) string
}

func (r *fileRepo[T]) keyOf(item *T) string {
	return r.key(item)
}

func (r *fileRepo[T]) list(ctx context.Context) ([]T, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, storageErr("load settings", err)
	}
	return r.section(doc), nil
}

func (r *fileRepo[T]) get(ctx context.Context, key string) (*T, error) {
	items, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	if i := r.index(items, key); i >= 0 {
		return &items[i], nil
	}
	return nil, nil
}

func (r *fileRepo[T]) index(items []T, key string) int {
	return slices.IndexFunc(items, func(item T) bool { return r.key(&item) == key })
}

func (r *fileRepo[T]) insert(ctx context.Context, item T) error {
	return r.store.Update(ctx, func(doc *types.Settings) error {
		items := r.section(doc)
		if r.index(items, r.key(&item)) >= 0 {
			return types.ErrAlreadyExists
		}
		r.setter(doc, append(items, item))
		return nil
	})
}

func (r *fileRepo[T]) replace(ctx context.Context, key string, item T) error {
	return r.store.Update(ctx, func(doc *types.Settings) error {
		items := r.section(doc)
		i := r.index(items, key)
		if i < 0 {
			return types.ErrNotFound
		}
		items[i] = item
		r.setter(doc, items)
		return nil
	})
}

func (r *fileRepo[T]) remove(ctx context.Context, key string) (bool, error) {
	removed := false
	err := r.store.Update(ctx, func(doc *types.Settings) error {
		items := r.section(doc)
		i := r.index(items, key)
		if i < 0 {
			return settings.ErrSkipSave
		}
		r.setter(doc, slices.Delete(items, i, i+1))
		removed = true
		return nil
	})
	return removed, err
}

func newFileUserRepo(store settings.Store) *fileRepo[types.User] {
	return &fileRepo[types.User]{
		store:   store,
		section: func(doc *types.Settings) []types.User { return doc.Users },
		setter:  func(doc *types.Settings, items []types.User) { doc.Users = items },
		key:     func(u *types.User) string { return u.Username },
	}
}

// newFileServerRepo maps the mcpServers object, keyed by server name, to a list.
func newFileServerRepo(store settings.Store) *fileRepo[types.Server] {
	key := func(s *types.Server) string { return s.Name }
	return &fileRepo[types.Server]{
		store: store,
		section: func(doc *types.Settings) []types.Server {
			servers := make([]types.Server, 0, len(doc.MCPServers))
			for name, s := range doc.MCPServers {
				s.Name = name
				servers = append(servers, s)
			}
			sortByKey(servers, key)
			return servers
		},
		setter: func(doc *types.Settings, items []types.Server) {
			doc.MCPServers = make(map[string]types.Server, len(items))
			for _, s := range items {
				doc.MCPServers[s.Name] = s
			}
		},
		key: key,
	}
}

func newFileGroupRepo(store settings.Store) *fileRepo[types.Group] {
	return &fileRepo[types.Group]{
		store:   store,
		section: func(doc *types.Settings) []types.Group { return doc.Groups },
		setter:  func(doc *types.Settings, items []types.Group) { doc.Groups = items },
		key:     func(g *types.Group) string { return g.ID },
	}
}

func newFileClientRepo(store settings.Store) *fileRepo[types.OAuthClient] {
	return &fileRepo[types.OAuthClient]{
		store:   store,
		section: func(doc *types.Settings) []types.OAuthClient { return doc.OAuthClients },
		setter:  func(doc *types.Settings, items []types.OAuthClient) { doc.OAuthClients = items },
		key:     func(c *types.OAuthClient) string { return c.ClientID },
	}
}

func newFileBearerKeyRepo(store settings.Store) *fileRepo[types.BearerKey] {
	return &fileRepo[types.BearerKey]{
		store: store,
		section: func(doc *types.Settings) []types.BearerKey {
			if doc.BearerKeys == nil {
				return nil
			}
			return *doc.BearerKeys
		},
		setter: func(doc *types.Settings, items []types.BearerKey) {
			if items == nil {
				items = []types.BearerKey{}
			}
			doc.BearerKeys = &items
		},
		key: func(k *types.BearerKey) string { return k.ID },
	}
}

// gormRepo keeps one table.
type gormRepo[T any] struct {
	store  *db.Store
	column string
	key    func(*T) string
}

func newGormRepo[T any](store *db.Store, column string, key func(*T) string) *gormRepo[T] {
	return &gormRepo[T]{store: store, column: column, key: key}
}

func (r *gormRepo[T]) keyOf(item *T) string {
	return r.key(item)
}

func (r *gormRepo[T]) list(ctx context.Context) ([]T, error) {
	var items []T
	if err := r.store.DB(ctx).Order(r.column).Find(&items).Error; err != nil {
		return nil, storageErr("list", err)
	}
	return items, nil
}

func (r *gormRepo[T]) get(ctx context.Context, key string) (*T, error) {
	var item T
	err := r.store.DB(ctx).First(&item, r.column+" = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	return &item, nil
}

func (r *gormRepo[T]) insert(ctx context.Context, item T) error {
	err := r.store.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(new(T)).Where(r.column+" = ?", r.key(&item)).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return types.ErrAlreadyExists
		}
		return tx.Create(&item).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrAlreadyExists), errors.Is(err, gorm.ErrDuplicatedKey):
		return types.ErrAlreadyExists
	default:
		return storageErr("insert", err)
	}
}

func (r *gormRepo[T]) replace(ctx context.Context, key string, item T) error {
	result := r.store.DB(ctx).Model(new(T)).Where(r.column+" = ?", key).Select("*").Updates(&item)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return types.ErrAlreadyExists
		}
		return storageErr("update", result.Error)
	}
	if result.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *gormRepo[T]) remove(ctx context.Context, key string) (bool, error) {
	result := r.store.DB(ctx).Delete(new(T), r.column+" = ?", key)
	if result.Error != nil {
		return false, storageErr("delete", result.Error)
	}
	return result.RowsAffected > 0, nil
}
