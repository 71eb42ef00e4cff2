package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nonomal/mcphub-sub001/pkg/hub"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIntegrationFlow drives the hub in database mode. TEST_DATABASE_DSN
// selects a PostgreSQL database; otherwise a temporary SQLite file is used.
func TestIntegrationFlow(t *testing.T) {
	// Skip if running in short mode
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = filepath.Join(t.TempDir(), "mcphub.db")
	}

	h, err := hub.New(&types.Config{
		Storage:             types.StorageDB,
		DatabaseDSN:         dsn,
		JWTSecret:           "integration-secret",
		AdminPassword:       "integration-pw",
		RotateRefreshTokens: true,
	}, nil)
	if err != nil {
		t.Skipf("Skipping test due to database connection error: %v", err)
	}
	defer func() {
		if err := h.Close(); err != nil {
			t.Logf("Error closing hub: %v", err)
		}
	}()
	require.NoError(t, h.Start(t.Context()))

	handler := h.GetHandler(nil)

	// Test health endpoint
	t.Run("HealthEndpoint", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/health", nil)
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ok")
	})

	// Test OAuth metadata endpoints
	t.Run("OAuthMetadata", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/.well-known/oauth-authorization-server", nil)
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "authorization_endpoint")
		assert.Contains(t, w.Body.String(), "token_endpoint")
		assert.NotContains(t, w.Body.String(), "registration_endpoint")
	})

	// Test protected resource metadata
	t.Run("ProtectedResourceMetadata", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/.well-known/oauth-protected-resource", nil)
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "resource")
		assert.Contains(t, w.Body.String(), "authorization_servers")
	})

	t.Run("MetricsEndpoint", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/metrics", nil)
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "go_goroutines")
	})

	var session string
	t.Run("Login", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(`{"username":"admin","password":"integration-pw"}`))
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		session = body.Token
		require.NotEmpty(t, session)
	})

	var bearerToken string
	t.Run("ManageServersGroupsAndKeys", func(t *testing.T) {
		post := func(path, body string) map[string]any {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", path, strings.NewReader(body))
			req.Header.Set("Authorization", "Bearer "+session)
			handler.ServeHTTP(w, req)
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

			var resp struct {
				Data map[string]any `json:"data"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			return resp.Data
		}

		post("/api/servers", `{"name":"fetch","type":"stdio","command":"uvx","args":["mcp-server-fetch"],"enabled":true}`)
		group := post("/api/groups", `{"name":"team","servers":["fetch"]}`)
		key := post("/api/bearer-keys", `{"name":"ci","enabled":true,"accessType":"groups","allowedGroups":["`+group["id"].(string)+`"]}`)
		bearerToken = key["token"].(string)
		require.NotEmpty(t, bearerToken)
	})

	// Test MCP endpoint requires authorization
	t.Run("MCPEndpointRequiresAuth", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/mcp/team", nil)
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
	})

	t.Run("MCPEndpointWithBearerKey", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/mcp/team", nil)
		req.Header.Set("Authorization", "Bearer "+bearerToken)
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		req = httptest.NewRequest("POST", "/mcp/fetch", nil)
		req.Header.Set("Authorization", "Bearer "+bearerToken)
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	// Test authorization endpoint rejects unknown clients
	t.Run("AuthorizationEndpointUnknownClient", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/oauth/authorize?response_type=code&client_id=test&redirect_uri=http://localhost:8080/callback&scope=read", nil)
		req.Header.Set("x-auth-token", session)
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_client")
	})

	t.Run("TokenEndpointRejectsUnknownGrant", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/oauth/token", strings.NewReader(url.Values{"grant_type": {"password"}, "client_id": {"test"}}.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "unsupported_grant_type")
	})
}
