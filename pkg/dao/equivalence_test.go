package dao

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nonomal/mcphub-sub001/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// errKind reduces an error to the sentinel callers match on.
func errKind(err error) string {
	for _, sentinel := range []error{
		types.ErrAlreadyExists,
		types.ErrInvalidInput,
		types.ErrNotFound,
		types.ErrPermissionDenied,
		types.ErrStorageFailure,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	if err != nil {
		return "other"
	}
	return ""
}

type outcome struct {
	Value any
	Err   string
}

func record[T any](v T, err error) outcome {
	return outcome{Value: v, Err: errKind(err)}
}

// credentialScript runs the same sequence of credential operations and
// records every result.
func credentialScript(t *testing.T, d *DAOs) []outcome {
	ctx := context.Background()
	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	refreshExpires := expires.Add(24 * time.Hour)
	var out []outcome

	out = append(out,
		record(d.Clients.Create(ctx, types.OAuthClient{ClientID: "c1", Name: "one", RedirectURIs: types.StringSlice{"http://a/cb"}, Scopes: types.StringSlice{"read"}})),
		record(d.Clients.Create(ctx, types.OAuthClient{ClientID: "c2", Name: "two", ClientSecret: "s", RedirectURIs: types.StringSlice{"http://b/cb"}, Metadata: types.JSON{"team": "x"}})),
		record(d.Clients.Create(ctx, types.OAuthClient{ClientID: "c1", Name: "dup", RedirectURIs: types.StringSlice{"http://a/cb"}})),
		record(d.Clients.Create(ctx, types.OAuthClient{Name: "no id"})),
		record(d.Clients.Update(ctx, "c1", types.OAuthClientPatch{Grants: &[]string{"authorization_code", "refresh_token"}})),
		record(d.Clients.Update(ctx, "missing", types.OAuthClientPatch{Name: ptr("x")})),
		record(d.Clients.FindByClientID(ctx, "c2")),
		record(d.Clients.Delete(ctx, "c2")),
		record(d.Clients.Delete(ctx, "c2")),
		record(d.Clients.FindAll(ctx)),
	)

	out = append(out,
		record(d.Tokens.Create(ctx, types.OAuthToken{AccessToken: "a1", RefreshToken: "r1", AccessTokenExpiresAt: expires, RefreshTokenExpiresAt: &refreshExpires, Scope: "read", ClientID: "c1", Username: "alice"})),
		record(d.Tokens.Create(ctx, types.OAuthToken{AccessToken: "a2", AccessTokenExpiresAt: expires, ClientID: "c1", Username: "bob"})),
		record(d.Tokens.Create(ctx, types.OAuthToken{AccessToken: "a3", RefreshToken: "r1", AccessTokenExpiresAt: expires, ClientID: "c1", Username: "alice"})),
		record(d.Tokens.Create(ctx, types.OAuthToken{AccessToken: "same", RefreshToken: "same", ClientID: "c1"})),
		record(d.Tokens.FindByRefreshToken(ctx, "r1")),
		record(d.Tokens.FindByAccessToken(ctx, "a1")),
		record(d.Tokens.DeleteByToken(ctx, "a2")),
		record(d.Tokens.DeleteByToken(ctx, "a2")),
		record(d.Tokens.FindAll(ctx)),
	)

	out = append(out,
		record(d.BearerKeys.FindAll(ctx)),
		record(d.BearerKeys.Create(ctx, types.BearerKey{ID: "k1", Name: "one", Token: "t1", Enabled: true, AccessType: types.AccessServers, AllowedServers: types.StringSlice{"s1"}})),
		record(d.BearerKeys.Create(ctx, types.BearerKey{ID: "k2", Name: "two", Token: "t2"})),
		record(d.BearerKeys.Create(ctx, types.BearerKey{ID: "k1", Name: "dup", Token: "t3"})),
		record(d.BearerKeys.Update(ctx, "k2", types.BearerKeyPatch{AccessType: ptr(types.AccessCustom), AllowedGroups: &[]string{"g1"}})),
		record(d.BearerKeys.Update(ctx, "k9", types.BearerKeyPatch{Name: ptr("x")})),
		record(d.BearerKeys.FindEnabled(ctx)),
		record(d.BearerKeys.FindByToken(ctx, "t2")),
		record(d.BearerKeys.Delete(ctx, "k1")),
		record(d.BearerKeys.FindAll(ctx)),
	)

	out = append(out,
		record(d.Users.Create(ctx, types.User{Username: "root", Password: "h", IsAdmin: true}, admin)),
		record(d.Users.Delete(ctx, "root", admin)),
		record(d.Servers.Create(ctx, types.Server{Name: "s1", Args: types.StringSlice{"-y"}}, alice)),
		record(d.Servers.FindAll(ctx, bob)),
		record(d.Groups.Create(ctx, types.Group{ID: "g1", Name: "g"}, nil)),
	)
	return out
}

func TestBackendEquivalence(t *testing.T) {
	file := credentialScript(t, backends[0].daos(t))
	relational := credentialScript(t, backends[1].daos(t))

	require.Len(t, relational, len(file))
	for i := range file {
		assert.Equal(t, file[i], relational[i], "operation %d", i)
	}
}
