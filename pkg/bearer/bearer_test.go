package bearer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nonomal/mcphub-sub001/pkg/dao"
	"github.com/nonomal/mcphub-sub001/pkg/settings"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockKeys []types.BearerKey

func (m MockKeys) FindEnabled(context.Context) ([]types.BearerKey, error) {
	var enabled []types.BearerKey
	for _, k := range m {
		if k.Enabled {
			enabled = append(enabled, k)
		}
	}
	return enabled, nil
}

var (
	g1      = Target{Kind: TargetGroup, ID: "g1", Name: "Group one"}
	g2      = Target{Kind: TargetGroup, ID: "g2", Name: "Group two"}
	fetch   = Target{Kind: TargetServer, ID: "fetch", Name: "fetch"}
	browser = Target{Kind: TargetServer, ID: "browser", Name: "browser"}
)

func TestPermits(t *testing.T) {
	tests := []struct {
		name   string
		key    types.BearerKey
		target Target
		want   bool
	}{
		{"all group", types.BearerKey{AccessType: types.AccessAll}, g1, true},
		{"all server", types.BearerKey{AccessType: types.AccessAll}, fetch, true},
		{"groups listed", types.BearerKey{AccessType: types.AccessGroups, AllowedGroups: []string{"g1"}}, g1, true},
		{"groups unlisted", types.BearerKey{AccessType: types.AccessGroups, AllowedGroups: []string{"g1"}}, g2, false},
		{"groups server", types.BearerKey{AccessType: types.AccessGroups, AllowedGroups: []string{"g1"}, AllowedServers: []string{"fetch"}}, fetch, false},
		{"groups by name is not a match", types.BearerKey{AccessType: types.AccessGroups, AllowedGroups: []string{"Group one"}}, g1, false},
		{"servers listed", types.BearerKey{AccessType: types.AccessServers, AllowedServers: []string{"fetch"}}, fetch, true},
		{"servers group", types.BearerKey{AccessType: types.AccessServers, AllowedServers: []string{"g1"}}, g1, false},
		{"custom group", types.BearerKey{AccessType: types.AccessCustom, AllowedGroups: []string{"g1"}, AllowedServers: []string{"fetch"}}, g1, true},
		{"custom server", types.BearerKey{AccessType: types.AccessCustom, AllowedGroups: []string{"g1"}, AllowedServers: []string{"fetch"}}, fetch, true},
		{"custom other server", types.BearerKey{AccessType: types.AccessCustom, AllowedGroups: []string{"g1"}, AllowedServers: []string{"fetch"}}, browser, false},
		{"custom cross kind", types.BearerKey{AccessType: types.AccessCustom, AllowedGroups: []string{"fetch"}}, fetch, false},
		{"unknown type", types.BearerKey{AccessType: "everything"}, g1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Permits(&tt.key, tt.target))
		})
	}
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	keys := MockKeys{
		{ID: "1", Token: "group-token", Enabled: true, AccessType: types.AccessGroups, AllowedGroups: []string{"g1"}},
		{ID: "2", Token: "disabled-token", Enabled: false, AccessType: types.AccessAll},
		{ID: "3", Token: "shared", Enabled: true, AccessType: types.AccessAll},
		{ID: "4", Token: "shared", Enabled: true, AccessType: types.AccessServers, AllowedServers: []string{"fetch"}},
	}
	a := NewAuthorizer(keys, nil)

	tests := []struct {
		name   string
		token  string
		target Target
		want   Decision
	}{
		{"allowed group", "group-token", g1, Allowed},
		{"other group", "group-token", g2, Denied},
		{"server", "group-token", fetch, Denied},
		{"prefix", "group-tok", g1, Unauthenticated},
		{"longer", "group-token-x", g1, Unauthenticated},
		{"disabled key", "disabled-token", g1, Unauthenticated},
		{"empty", "", g1, Unauthenticated},
		{"shared token all keys allow", "shared", fetch, Allowed},
		{"shared token one key denies", "shared", g1, Denied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Authorize(ctx, tt.token, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}

	t.Run("authenticate ignores the target", func(t *testing.T) {
		for token, want := range map[string]bool{"group-token": true, "shared": true, "disabled-token": false, "": false} {
			got, err := a.Authenticate(ctx, token)
			require.NoError(t, err)
			assert.Equal(t, want, got, token)
		}
	})
}

type MockOAuth map[string]*types.OAuthToken

func (m MockOAuth) ValidateAccessToken(_ context.Context, token string) (*types.OAuthToken, error) {
	return m[token], nil
}

func TestMiddleware(t *testing.T) {
	ctx := context.Background()
	store, err := settings.NewFileStore(filepath.Join(t.TempDir(), "mcp_settings.json"), nil)
	require.NoError(t, err)
	daos := dao.NewFileDAOs(store, nil)
	admin := types.AdminIdentity()

	_, err = daos.Groups.Create(ctx, types.Group{ID: "g1", Name: "team"}, admin)
	require.NoError(t, err)
	_, err = daos.Groups.Create(ctx, types.Group{ID: "g2", Name: "other"}, admin)
	require.NoError(t, err)
	_, err = daos.Servers.Create(ctx, types.Server{Name: "fetch"}, admin)
	require.NoError(t, err)
	_, err = daos.BearerKeys.Create(ctx, types.BearerKey{Name: "team", Token: "team-key", Enabled: true, AccessType: types.AccessGroups, AllowedGroups: []string{"g1"}})
	require.NoError(t, err)

	oauthTokens := MockOAuth{"oauth-token": {AccessToken: "oauth-token", ClientID: "c1", AccessTokenExpiresAt: time.Now().Add(time.Hour)}}
	m := NewMiddleware(NewAuthorizer(daos.BearerKeys, nil), daos.Groups, daos.Servers, daos.SystemConfig, oauthTokens)

	var reached Target
	mux := http.NewServeMux()
	mux.Handle("/mcp/{target}", m.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached, _ = TargetFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})))

	do := func(path, token string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("/mcp/g1", "team-key"))
	assert.Equal(t, g1.ID, reached.ID)
	assert.Equal(t, http.StatusOK, do("/mcp/team", "team-key"))
	assert.Equal(t, "g1", reached.ID)
	assert.Equal(t, http.StatusForbidden, do("/mcp/g2", "team-key"))
	assert.Equal(t, http.StatusForbidden, do("/mcp/fetch", "team-key"))
	assert.Equal(t, http.StatusOK, do("/mcp/fetch", "oauth-token"))
	assert.Equal(t, TargetServer, reached.Kind)
	assert.Equal(t, http.StatusUnauthorized, do("/mcp/fetch", "nope"))
	assert.Equal(t, http.StatusUnauthorized, do("/mcp/fetch", ""))

	t.Run("unknown target needs credentials", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("/mcp/missing", ""))
		assert.Equal(t, http.StatusUnauthorized, do("/mcp/missing", "nope"))
		assert.Equal(t, http.StatusNotFound, do("/mcp/missing", "team-key"))
		assert.Equal(t, http.StatusNotFound, do("/mcp/missing", "oauth-token"))
	})

	skip := true
	_, err = daos.SystemConfig.Update(ctx, types.SystemConfigPatch{SkipAuth: &skip})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do("/mcp/g2", ""))
	assert.Equal(t, http.StatusNotFound, do("/mcp/missing", ""))
}
