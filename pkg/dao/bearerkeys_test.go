package dao

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/nonomal/mcphub-sub001/pkg/settings"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacySettings = `{
	"systemConfig": {"routing": {"enableBearerAuth": true, "bearerAuthKey": "tok"}}
}`

func TestBearerKeyMigrationFile(t *testing.T) {
	ctx := context.Background()

	t.Run("legacy key migrates once", func(t *testing.T) {
		store := newFileStore(t, legacySettings)
		d := NewFileDAOs(store, nil)

		keys, err := d.BearerKeys.FindEnabled(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, "default", keys[0].Name)
		assert.Equal(t, "tok", keys[0].Token)
		assert.True(t, keys[0].Enabled)
		assert.Equal(t, types.AccessAll, keys[0].AccessType)
		assert.EqualValues(t, 1, store.writes.Load())

		again, err := d.BearerKeys.FindEnabled(ctx)
		require.NoError(t, err)
		assert.Equal(t, keys, again)
		assert.EqualValues(t, 1, store.writes.Load())
	})

	t.Run("disabled legacy key migrates disabled", func(t *testing.T) {
		store := newFileStore(t, `{"systemConfig": {"routing": {"enableBearerAuth": false, "bearerAuthKey": "tok"}}}`)
		d := NewFileDAOs(store, nil)

		enabled, err := d.BearerKeys.FindEnabled(ctx)
		require.NoError(t, err)
		assert.Empty(t, enabled)

		key, err := d.BearerKeys.FindByToken(ctx, "tok")
		require.NoError(t, err)
		require.NotNil(t, key)
		assert.False(t, key.Enabled)
	})

	t.Run("no legacy key migrates to empty array", func(t *testing.T) {
		store := newFileStore(t, `{}`)
		d := NewFileDAOs(store, nil)

		keys, err := d.BearerKeys.FindAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
		assert.EqualValues(t, 1, store.writes.Load())

		fs := store.Store.(*settings.FileStore)
		data, err := os.ReadFile(fs.Path())
		require.NoError(t, err)
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.JSONEq(t, `[]`, string(raw["bearerKeys"]))
	})

	t.Run("empty array never writes on read", func(t *testing.T) {
		store := newFileStore(t, `{"bearerKeys": [], "systemConfig": {"routing": {"bearerAuthKey": "tok"}}}`)
		d := NewFileDAOs(store, nil)

		for range 3 {
			_, err := d.BearerKeys.FindEnabled(ctx)
			require.NoError(t, err)
			_, err = d.BearerKeys.FindAll(ctx)
			require.NoError(t, err)
			_, err = d.BearerKeys.FindByToken(ctx, "tok")
			require.NoError(t, err)
			_, err = d.BearerKeys.FindByID(ctx, "k1")
			require.NoError(t, err)
		}
		assert.EqualValues(t, 0, store.writes.Load())
	})
}

func TestBearerKeyMigrationDB(t *testing.T) {
	ctx := context.Background()
	store := newDBStore(t)
	require.NoError(t, store.PutSection(ctx, nil, systemConfigSection, types.SystemConfig{
		Routing: types.RoutingConfig{EnableBearerAuth: true, BearerAuthKey: "tok"},
	}))
	d := NewDBDAOs(store, nil)

	keys, err := d.BearerKeys.FindEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "default", keys[0].Name)

	deleted, err := d.BearerKeys.Delete(ctx, keys[0].ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	// The marker stops the legacy key from coming back.
	keys, err = NewDBDAOs(store, nil).BearerKeys.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestBearerKeys(t *testing.T) {
	forEachBackend(t, func(t *testing.T, d *DAOs) {
		ctx := context.Background()

		key, err := d.BearerKeys.Create(ctx, types.BearerKey{
			Name:          "ci",
			Token:         "secret",
			Enabled:       true,
			AccessType:    types.AccessGroups,
			AllowedGroups: types.StringSlice{"g1"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, key.ID)
		assert.Equal(t, types.StringSlice{}, key.AllowedServers)

		_, err = d.BearerKeys.Create(ctx, types.BearerKey{Name: "bad", Token: "t", AccessType: "everything"})
		assert.ErrorIs(t, err, types.ErrInvalidInput)

		_, err = d.BearerKeys.Create(ctx, types.BearerKey{ID: key.ID, Name: "dup", Token: "t"})
		assert.ErrorIs(t, err, types.ErrAlreadyExists)

		disabled, err := d.BearerKeys.Update(ctx, key.ID, types.BearerKeyPatch{Enabled: ptr(false)})
		require.NoError(t, err)
		assert.False(t, disabled.Enabled)

		enabled, err := d.BearerKeys.FindEnabled(ctx)
		require.NoError(t, err)
		assert.Empty(t, enabled)

		byToken, err := d.BearerKeys.FindByToken(ctx, "secret")
		require.NoError(t, err)
		require.NotNil(t, byToken)
		assert.Equal(t, key.ID, byToken.ID)

		missing, err := d.BearerKeys.FindByToken(ctx, "secre")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}
