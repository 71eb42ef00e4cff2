package dao

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nonomal/mcphub-sub001/pkg/db"
	"github.com/nonomal/mcphub-sub001/pkg/settings"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"gorm.io/gorm"
)

var errRefreshNotFound = fmt.Errorf("%w: refresh token", types.ErrNotFound)

func normalizeToken(t *types.OAuthToken) {
	t.AccessTokenExpiresAt = t.AccessTokenExpiresAt.UTC()
	if t.RefreshTokenExpiresAt != nil {
		exp := t.RefreshTokenExpiresAt.UTC()
		t.RefreshTokenExpiresAt = &exp
	}
}

func validateToken(t *types.OAuthToken) error {
	switch {
	case t.AccessToken == "":
		return fmt.Errorf("%w: access token is required", types.ErrInvalidInput)
	case t.ClientID == "":
		return fmt.Errorf("%w: clientId is required", types.ErrInvalidInput)
	case t.AccessToken == t.RefreshToken:
		return fmt.Errorf("%w: access and refresh token must differ", types.ErrInvalidInput)
	}
	return nil
}

func sortTokens(tokens []types.OAuthToken) {
	slices.SortFunc(tokens, func(a, b types.OAuthToken) int {
		return strings.Compare(a.AccessToken, b.AccessToken)
	})
}

type fileTokenDAO struct {
	store settings.Store
}

func (d *fileTokenDAO) FindAll(ctx context.Context) ([]types.OAuthToken, error) {
	doc, err := d.store.Load(ctx)
	if err != nil {
		return nil, storageErr("load settings", err)
	}
	tokens := doc.OAuthTokens
	if tokens == nil {
		tokens = []types.OAuthToken{}
	}
	for i := range tokens {
		normalizeToken(&tokens[i])
	}
	sortTokens(tokens)
	return tokens, nil
}

func (d *fileTokenDAO) find(ctx context.Context, match func(*types.OAuthToken) bool) (*types.OAuthToken, error) {
	tokens, err := d.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tokens {
		if match(&tokens[i]) {
			return &tokens[i], nil
		}
	}
	return nil, nil
}

func (d *fileTokenDAO) FindByAccessToken(ctx context.Context, accessToken string) (*types.OAuthToken, error) {
	if accessToken == "" {
		return nil, nil
	}
	return d.find(ctx, func(t *types.OAuthToken) bool { return t.AccessToken == accessToken })
}

func (d *fileTokenDAO) FindByRefreshToken(ctx context.Context, refreshToken string) (*types.OAuthToken, error) {
	if refreshToken == "" {
		return nil, nil
	}
	return d.find(ctx, func(t *types.OAuthToken) bool { return t.RefreshToken == refreshToken })
}

func (d *fileTokenDAO) Create(ctx context.Context, token types.OAuthToken) (*types.OAuthToken, error) {
	if err := validateToken(&token); err != nil {
		return nil, err
	}
	normalizeToken(&token)
	err := d.store.Update(ctx, func(doc *types.Settings) error {
		doc.OAuthTokens = slices.DeleteFunc(doc.OAuthTokens, func(t types.OAuthToken) bool {
			return t.Matches(&token)
		})
		doc.OAuthTokens = append(doc.OAuthTokens, token)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (d *fileTokenDAO) Replace(ctx context.Context, refreshToken string, token types.OAuthToken) (*types.OAuthToken, error) {
	if err := validateToken(&token); err != nil {
		return nil, err
	}
	if refreshToken == "" {
		return nil, errRefreshNotFound
	}
	normalizeToken(&token)
	err := d.store.Update(ctx, func(doc *types.Settings) error {
		before := len(doc.OAuthTokens)
		doc.OAuthTokens = slices.DeleteFunc(doc.OAuthTokens, func(t types.OAuthToken) bool {
			return t.RefreshToken == refreshToken
		})
		if len(doc.OAuthTokens) == before {
			return errRefreshNotFound
		}
		doc.OAuthTokens = slices.DeleteFunc(doc.OAuthTokens, func(t types.OAuthToken) bool {
			return t.Matches(&token)
		})
		doc.OAuthTokens = append(doc.OAuthTokens, token)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (d *fileTokenDAO) DeleteByToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	removed := false
	err := d.store.Update(ctx, func(doc *types.Settings) error {
		before := len(doc.OAuthTokens)
		doc.OAuthTokens = slices.DeleteFunc(doc.OAuthTokens, func(t types.OAuthToken) bool {
			return t.AccessToken == token || t.RefreshToken == token
		})
		if len(doc.OAuthTokens) == before {
			return settings.ErrSkipSave
		}
		removed = true
		return nil
	})
	return removed, err
}

func (d *fileTokenDAO) DeleteStale(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	err := d.store.Update(ctx, func(doc *types.Settings) error {
		before := len(doc.OAuthTokens)
		doc.OAuthTokens = slices.DeleteFunc(doc.OAuthTokens, func(t types.OAuthToken) bool {
			return t.Stale(now)
		})
		removed = before - len(doc.OAuthTokens)
		if removed == 0 {
			return settings.ErrSkipSave
		}
		return nil
	})
	return removed, err
}

type dbTokenDAO struct {
	store *db.Store
}

func toTokens(records []db.TokenRecord) []types.OAuthToken {
	tokens := make([]types.OAuthToken, 0, len(records))
	for i := range records {
		tokens = append(tokens, records[i].ToToken())
	}
	return tokens
}

func (d *dbTokenDAO) FindAll(ctx context.Context) ([]types.OAuthToken, error) {
	var records []db.TokenRecord
	if err := d.store.DB(ctx).Order("access_token").Find(&records).Error; err != nil {
		return nil, storageErr("list tokens", err)
	}
	return toTokens(records), nil
}

func (d *dbTokenDAO) findOne(ctx context.Context, column, value string) (*types.OAuthToken, error) {
	if value == "" {
		return nil, nil
	}
	var record db.TokenRecord
	err := d.store.DB(ctx).First(&record, column+" = ?", value).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get token", err)
	}
	token := record.ToToken()
	return &token, nil
}

func (d *dbTokenDAO) FindByAccessToken(ctx context.Context, accessToken string) (*types.OAuthToken, error) {
	return d.findOne(ctx, "access_token", accessToken)
}

func (d *dbTokenDAO) FindByRefreshToken(ctx context.Context, refreshToken string) (*types.OAuthToken, error) {
	return d.findOne(ctx, "refresh_token", refreshToken)
}

// conflicting scopes tx to records sharing a token value with t.
func conflicting(tx *gorm.DB, t *types.OAuthToken) *gorm.DB {
	values := []string{t.AccessToken}
	if t.RefreshToken != "" {
		values = append(values, t.RefreshToken)
	}
	return tx.Where("access_token IN ?", values).Or("refresh_token IN ?", values)
}

func (d *dbTokenDAO) Create(ctx context.Context, token types.OAuthToken) (*types.OAuthToken, error) {
	if err := validateToken(&token); err != nil {
		return nil, err
	}
	normalizeToken(&token)
	err := d.store.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := conflicting(tx, &token).Delete(&db.TokenRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(db.TokenRecordFrom(token)).Error
	})
	if err != nil {
		return nil, storageErr("store token", err)
	}
	return &token, nil
}

func (d *dbTokenDAO) Replace(ctx context.Context, refreshToken string, token types.OAuthToken) (*types.OAuthToken, error) {
	if err := validateToken(&token); err != nil {
		return nil, err
	}
	if refreshToken == "" {
		return nil, errRefreshNotFound
	}
	normalizeToken(&token)
	err := d.store.DB(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("refresh_token = ?", refreshToken).Delete(&db.TokenRecord{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errRefreshNotFound
		}
		if err := conflicting(tx, &token).Delete(&db.TokenRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(db.TokenRecordFrom(token)).Error
	})
	if errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr("replace token", err)
	}
	return &token, nil
}

func (d *dbTokenDAO) DeleteByToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	result := d.store.DB(ctx).Where("access_token = ?", token).Or("refresh_token = ?", token).Delete(&db.TokenRecord{})
	if result.Error != nil {
		return false, storageErr("delete token", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (d *dbTokenDAO) DeleteStale(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	result := d.store.DB(ctx).
		Where("access_token_expires_at < ?", now).
		Where(d.store.DB(ctx).
			Where("refresh_token IS NULL").
			Or("refresh_token_expires_at IS NOT NULL AND refresh_token_expires_at < ?", now)).
		Delete(&db.TokenRecord{})
	if result.Error != nil {
		return 0, storageErr("delete stale tokens", result.Error)
	}
	return int(result.RowsAffected), nil
}
