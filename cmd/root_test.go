package cmd

import (
	"testing"
	"time"

	"github.com/nonomal/mcphub-sub001/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() RootCmd {
	return RootCmd{
		Storage:                   "file",
		SettingsPath:              "mcp_settings.json",
		RotateRefreshTokens:       "true",
		AllowedScopes:             "read,write",
		AccessTokenLifetime:       "1h",
		RefreshTokenLifetime:      "336h",
		AuthorizationCodeLifetime: "5m",
		CleanupInterval:           "5m",
		Port:                      "3000",
		Host:                      "localhost",
	}
}

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := defaults()
		config, err := c.config()
		require.NoError(t, err)
		assert.Equal(t, types.StorageFile, config.Storage)
		assert.True(t, config.RotateRefreshTokens)
		assert.Equal(t, []string{"read", "write"}, config.AllowedScopes)
		assert.Equal(t, time.Hour, config.AccessTokenLifetime)
		assert.Equal(t, 14*24*time.Hour, config.RefreshTokenLifetime)
		assert.Equal(t, 5*time.Minute, config.CleanupInterval)
	})

	tests := []struct {
		name    string
		mutate  func(*RootCmd)
		wantErr bool
		check   func(*testing.T, *types.Config)
	}{
		{
			name:   "db storage",
			mutate: func(c *RootCmd) { c.Storage = "DB" },
			check:  func(t *testing.T, cfg *types.Config) { assert.Equal(t, types.StorageDB, cfg.Storage) },
		},
		{name: "unknown storage", mutate: func(c *RootCmd) { c.Storage = "redis" }, wantErr: true},
		{
			name:   "rotation off",
			mutate: func(c *RootCmd) { c.RotateRefreshTokens = "false" },
			check:  func(t *testing.T, cfg *types.Config) { assert.False(t, cfg.RotateRefreshTokens) },
		},
		{name: "rotation garbage", mutate: func(c *RootCmd) { c.RotateRefreshTokens = "sometimes" }, wantErr: true},
		{name: "bad duration", mutate: func(c *RootCmd) { c.AccessTokenLifetime = "forever" }, wantErr: true},
		{name: "negative duration", mutate: func(c *RootCmd) { c.CleanupInterval = "-1m" }, wantErr: true},
		{name: "zero access lifetime", mutate: func(c *RootCmd) { c.AccessTokenLifetime = "0" }, wantErr: true},
		{
			name:   "cleanup disabled",
			mutate: func(c *RootCmd) { c.CleanupInterval = "0" },
			check:  func(t *testing.T, cfg *types.Config) { assert.Zero(t, cfg.CleanupInterval) },
		},
		{
			name:   "non-expiring refresh tokens",
			mutate: func(c *RootCmd) { c.RefreshTokenLifetime = "0s" },
			check:  func(t *testing.T, cfg *types.Config) { assert.Zero(t, cfg.RefreshTokenLifetime) },
		},
		{
			name:   "route prefix",
			mutate: func(c *RootCmd) { c.RoutePrefix = "/hub/" },
			check:  func(t *testing.T, cfg *types.Config) { assert.Equal(t, "/hub", cfg.RoutePrefix) },
		},
		{name: "relative route prefix", mutate: func(c *RootCmd) { c.RoutePrefix = "hub" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := defaults()
			tt.mutate(&c)
			config, err := c.config()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, config)
		})
	}
}

func TestParseScopes(t *testing.T) {
	assert.Equal(t, []string{"read", "write", "admin"}, ParseScopes(" read, write ,,admin "))
	assert.Nil(t, ParseScopes(""))
}
