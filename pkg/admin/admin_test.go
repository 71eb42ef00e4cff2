package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nonomal/mcphub-sub001/pkg/auth"
	"github.com/nonomal/mcphub-sub001/pkg/dao"
	"github.com/nonomal/mcphub-sub001/pkg/settings"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mux        *http.ServeMux
	daos       *dao.DAOs
	adminToken string
	aliceToken string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := settings.NewFileStore(filepath.Join(t.TempDir(), "mcp_settings.json"), nil)
	require.NoError(t, err)
	daos := dao.NewFileDAOs(store, nil)

	jwtManager := auth.NewJWTManager([]byte("test-signing-key"))
	mux := http.NewServeMux()
	NewHandler(daos, auth.NewMiddleware(jwtManager, daos.SystemConfig)).Register(mux, "")

	adminToken, _, err := jwtManager.Issue(types.AdminIdentity())
	require.NoError(t, err)
	aliceToken, _, err := jwtManager.Issue(&types.Identity{Username: "alice"})
	require.NoError(t, err)

	return &fixture{mux: mux, daos: daos, adminToken: adminToken, aliceToken: aliceToken}
}

func (f *fixture) do(t *testing.T, method, path, token, body string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func dataMap(t *testing.T, resp response) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestClients(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodGet, "/api/oauth/clients", f.aliceToken, "")
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = f.do(t, http.MethodGet, "/api/oauth/clients", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp := f.do(t, http.MethodPost, "/api/oauth/clients", f.adminToken,
		`{"name":"CLI","redirectUris":["http://localhost/cb"],"generateSecret":true}`)
	require.Equal(t, http.StatusCreated, code)
	created := dataMap(t, resp)
	assert.NotEmpty(t, created["clientId"])
	assert.NotEmpty(t, created["clientSecret"])
	assert.Equal(t, "admin", created["owner"])

	clientID := created["clientId"].(string)
	code, _ = f.do(t, http.MethodPost, "/api/oauth/clients", f.adminToken,
		`{"clientId":"`+clientID+`","name":"dup","redirectUris":["http://localhost/cb"]}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/api/oauth/clients", f.adminToken, `{"name":"no redirects"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = f.do(t, http.MethodPut, "/api/oauth/clients/"+clientID, f.adminToken, `{"name":"Renamed"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Renamed", dataMap(t, resp)["name"])

	code, _ = f.do(t, http.MethodDelete, "/api/oauth/clients/"+clientID, f.adminToken, "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/oauth/clients/"+clientID, f.adminToken, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBearerKeys(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, http.MethodPost, "/api/bearer-keys", f.adminToken,
		`{"name":"ci","enabled":true,"accessType":"groups","allowedGroups":["g1"]}`)
	require.Equal(t, http.StatusCreated, code)
	first := dataMap(t, resp)
	assert.NotEmpty(t, first["token"])
	assert.NotEmpty(t, first["id"])

	code, _ = f.do(t, http.MethodPost, "/api/bearer-keys", f.adminToken,
		`{"name":"copy","enabled":true,"token":"`+first["token"].(string)+`"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, resp = f.do(t, http.MethodPost, "/api/bearer-keys", f.adminToken, `{"name":"other","token":"other-token","enabled":false}`)
	require.Equal(t, http.StatusCreated, code)
	second := dataMap(t, resp)

	code, _ = f.do(t, http.MethodPut, "/api/bearer-keys/"+second["id"].(string), f.adminToken, `{"token":"`+first["token"].(string)+`"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, resp = f.do(t, http.MethodPut, "/api/bearer-keys/"+second["id"].(string), f.adminToken, `{"enabled":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, dataMap(t, resp)["enabled"])

	code, _ = f.do(t, http.MethodPost, "/api/bearer-keys", f.adminToken, `{"name":"bad","accessType":"everything"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/bearer-keys", f.aliceToken, `{"name":"sneaky"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = f.do(t, http.MethodGet, "/api/bearer-keys", f.adminToken, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data, 2)
}

func TestUsers(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, http.MethodPost, "/api/users", f.adminToken, `{"username":"admin","password":"pw","isAdmin":true}`)
	require.Equal(t, http.StatusCreated, code)
	assert.NotContains(t, dataMap(t, resp), "password")

	code, _ = f.do(t, http.MethodPost, "/api/users", f.adminToken, `{"username":"alice","password":"pw"}`)
	require.Equal(t, http.StatusCreated, code)

	stored, err := f.daos.Users.FindByKey(t.Context(), "alice", types.AdminIdentity())
	require.NoError(t, err)
	assert.NotEqual(t, "pw", stored.Password)

	code, _ = f.do(t, http.MethodPost, "/api/users", f.aliceToken, `{"username":"bob","password":"pw"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(t, http.MethodPut, "/api/users/alice", f.aliceToken, `{"isAdmin":true}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(t, http.MethodPut, "/api/users/admin", f.adminToken, `{"isAdmin":false}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(t, http.MethodDelete, "/api/users/admin", f.adminToken, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = f.do(t, http.MethodGet, "/api/users", f.aliceToken, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data, 1)
}

func TestServersAndGroups(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, http.MethodPost, "/api/servers", f.aliceToken, `{"name":"fetch","url":"http://fetch"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "alice", dataMap(t, resp)["owner"])

	code, _ = f.do(t, http.MethodPost, "/api/servers", f.aliceToken, `{"name":"fetch"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/api/servers", f.aliceToken, `{"name":"stolen","owner":"bob"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = f.do(t, http.MethodPost, "/api/groups", f.aliceToken, `{"name":"team","servers":["fetch"]}`)
	require.Equal(t, http.StatusCreated, code)
	groupID := dataMap(t, resp)["id"].(string)
	assert.NotEmpty(t, groupID)

	code, _ = f.do(t, http.MethodGet, "/api/groups/"+groupID, f.adminToken, "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodDelete, "/api/groups/missing", f.adminToken, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSystemConfig(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, http.MethodPut, "/api/system-config", f.adminToken, `{"skipAuth":true}`)
	require.Equal(t, http.StatusOK, code)
	routing := dataMap(t, resp)["routing"].(map[string]any)
	assert.Equal(t, true, routing["skipAuth"])

	// With skipAuth every caller is the admin principal.
	code, _ = f.do(t, http.MethodGet, "/api/system-config", "", "")
	assert.Equal(t, http.StatusOK, code)
}
