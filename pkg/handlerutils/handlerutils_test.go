package handlerutils

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCredentials(t *testing.T) {
	tests := []struct {
		name       string
		basicID    string
		basicPass  string
		form       url.Values
		wantID     string
		wantSecret string
	}{
		{name: "basic", basicID: "client", basicPass: "s3cret", wantID: "client", wantSecret: "s3cret"},
		{name: "basic form-encoded", basicID: "my%20client", basicPass: "a%2Bb%3A", wantID: "my client", wantSecret: "a+b:"},
		{name: "basic plus is a space", basicID: "client", basicPass: "a+b", wantID: "client", wantSecret: "a b"},
		{name: "basic malformed escape", basicID: "client", basicPass: "100%", wantID: "", wantSecret: ""},
		{name: "form", form: url.Values{"client_id": {"client"}, "client_secret": {"a+b:"}}, wantID: "client", wantSecret: "a+b:"},
		{name: "basic wins over form", basicID: "basic", basicPass: "x", form: url.Values{"client_id": {"form"}}, wantID: "basic", wantSecret: "x"},
		{name: "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.basicID != "" {
				req.SetBasicAuth(tt.basicID, tt.basicPass)
			}
			require.NoError(t, req.ParseForm())

			id, secret := ClientCredentials(req)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantSecret, secret)
		})
	}
}

func TestBearerToken(t *testing.T) {
	for header, want := range map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		assert.Equal(t, want, BearerToken(req), header)
	}
}
