package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nonomal/mcphub-sub001/pkg/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store represents the database connection and operations
type Store struct {
	db     *gorm.DB
	dbType string // "postgres" or "sqlite"
}

// TokenRecord is the row shape of an OAuth token. RefreshToken is nullable
// so the unique index only applies to tokens that have one.
type TokenRecord struct {
	AccessToken           string    `gorm:"primaryKey"`
	AccessTokenExpiresAt  time.Time `gorm:"not null;index"`
	RefreshToken          *string   `gorm:"uniqueIndex"`
	RefreshTokenExpiresAt *time.Time
	Scope                 string
	ClientID              string    `gorm:"not null;index"`
	Username              string    `gorm:"not null;index"`
	CreatedAt             time.Time `gorm:"autoCreateTime"`
}

func (TokenRecord) TableName() string { return "oauth_tokens" }

// Section stores a named JSON section of the settings document.
type Section struct {
	Name      string `gorm:"primaryKey"`
	Data      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (Section) TableName() string { return "settings_sections" }

// New creates a new database connection and sets up the schema
func New(dsn string) (*Store, error) {
	var gormDB *gorm.DB
	var dbType string
	var err error

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	// If DSN is empty, use SQLite with local file
	if dsn == "" {
		dataDir := "data"
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "mcphub.db")
	}

	if IsPostgres(dsn) {
		gormDB, err = gorm.Open(postgres.Open(dsn), gormConfig)
		dbType = "postgres"
	} else {
		gormDB, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		dbType = "sqlite"
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == "sqlite" {
		// SQLite allows a single writer; queue writers in the pool instead of
		// failing with "database is locked".
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	database := &Store{db: gormDB, dbType: dbType}

	if err := database.setupSchema(); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return database, nil
}

// IsPostgres reports whether dsn points at PostgreSQL rather than a SQLite file.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// setupSchema creates the necessary tables and handles migrations
func (d *Store) setupSchema() error {
	err := d.db.AutoMigrate(
		&types.User{},
		&types.Server{},
		&types.Group{},
		&types.OAuthClient{},
		&TokenRecord{},
		&types.BearerKey{},
		&Section{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}
	return nil
}

// DB returns the gorm handle bound to ctx.
func (d *Store) DB(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx)
}

// Type returns "postgres" or "sqlite".
func (d *Store) Type() string {
	return d.dbType
}

// GetSection decodes the named section into out. It reports false when the
// section has never been written.
func (d *Store) GetSection(ctx context.Context, tx *gorm.DB, name string, out any) (bool, error) {
	if tx == nil {
		tx = d.DB(ctx)
	}
	var section Section
	err := tx.First(&section, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to read section %s: %w", types.ErrStorageFailure, name, err)
	}
	if out != nil {
		if err := json.Unmarshal([]byte(section.Data), out); err != nil {
			return true, fmt.Errorf("failed to decode section %s: %w", name, err)
		}
	}
	return true, nil
}

// PutSection writes the named section, replacing any previous value.
func (d *Store) PutSection(ctx context.Context, tx *gorm.DB, name string, v any) error {
	if tx == nil {
		tx = d.DB(ctx)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode section %s: %w", name, err)
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&Section{Name: name, Data: string(data), UpdatedAt: time.Now()}).Error
	if err != nil {
		return fmt.Errorf("%w: failed to write section %s: %w", types.ErrStorageFailure, name, err)
	}
	return nil
}

// Close closes the database connection
func (d *Store) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ToToken converts a row into the domain token.
func (r *TokenRecord) ToToken() types.OAuthToken {
	t := types.OAuthToken{
		AccessToken:          r.AccessToken,
		AccessTokenExpiresAt: r.AccessTokenExpiresAt.UTC(),
		Scope:                r.Scope,
		ClientID:             r.ClientID,
		Username:             r.Username,
	}
	if r.RefreshToken != nil {
		t.RefreshToken = *r.RefreshToken
	}
	if r.RefreshTokenExpiresAt != nil {
		exp := r.RefreshTokenExpiresAt.UTC()
		t.RefreshTokenExpiresAt = &exp
	}
	return t
}

// TokenRecordFrom converts a domain token into a row.
func TokenRecordFrom(t types.OAuthToken) *TokenRecord {
	r := &TokenRecord{
		AccessToken:           t.AccessToken,
		AccessTokenExpiresAt:  t.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: t.RefreshTokenExpiresAt,
		Scope:                 t.Scope,
		ClientID:              t.ClientID,
		Username:              t.Username,
	}
	if t.RefreshToken != "" {
		refresh := t.RefreshToken
		r.RefreshToken = &refresh
	}
	return r
}
