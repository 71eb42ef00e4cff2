package register

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nonomal/mcphub-sub001/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockClientStore struct {
	clients []types.OAuthClient
}

func (m *MockClientStore) Create(_ context.Context, client types.OAuthClient) (*types.OAuthClient, error) {
	m.clients = append(m.clients, client)
	return &client, nil
}

func register(t *testing.T, store *MockClientStore, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	NewHandler(store).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body)))
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec, resp
}

func TestRegister(t *testing.T) {
	t.Run("public client", func(t *testing.T) {
		store := &MockClientStore{}
		rec, resp := register(t, store, `{
			"redirect_uris": ["http://localhost:3000/callback"],
			"client_name": "Inspector",
			"token_endpoint_auth_method": "none",
			"scope": "read"
		}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.NotEmpty(t, resp["client_id"])
		assert.NotContains(t, resp, "client_secret")
		assert.Equal(t, "read", resp["scope"])
		assert.Equal(t, []any{}, resp["contacts"])

		require.Len(t, store.clients, 1)
		client := store.clients[0]
		assert.True(t, client.IsPublic())
		assert.Equal(t, "Inspector", client.Name)
		assert.Equal(t, types.StringSlice{"authorization_code", "refresh_token"}, client.Grants)
		assert.Equal(t, types.StringSlice{"read"}, client.Scopes)
	})

	t.Run("confidential client gets a secret", func(t *testing.T) {
		store := &MockClientStore{}
		rec, resp := register(t, store, `{"redirect_uris": ["http://localhost:3000/callback"]}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.NotEmpty(t, resp["client_secret"])
		assert.Equal(t, "client_secret_basic", resp["token_endpoint_auth_method"])
		assert.Equal(t, resp["client_secret"], store.clients[0].ClientSecret)
	})

	invalid := []struct {
		name string
		body string
	}{
		{"no redirect uris", `{"client_name": "x"}`},
		{"redirect uris not strings", `{"redirect_uris": [1]}`},
		{"unsupported grant", `{"redirect_uris": ["http://a"], "grant_types": ["client_credentials"]}`},
		{"unsupported auth method", `{"redirect_uris": ["http://a"], "token_endpoint_auth_method": "private_key_jwt"}`},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			store := &MockClientStore{}
			rec, resp := register(t, store, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_client_metadata", resp["error"])
			assert.Empty(t, store.clients)
		})
	}
}
