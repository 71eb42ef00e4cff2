package types

import (
	"time"
)

// Config holds all configuration values for the hub
type Config struct {
	Host string
	Port string

	// Storage selects the persistence backend: "file" or "db"
	Storage       string
	SettingsPath  string
	WatchSettings bool
	DatabaseDSN   string

	JWTSecret     string
	AdminPassword string

	RequireClientSecret      bool
	RotateRefreshTokens      bool
	AllowDynamicRegistration bool
	AllowedScopes            []string

	AccessTokenLifetime       time.Duration
	RefreshTokenLifetime      time.Duration
	AuthorizationCodeLifetime time.Duration
	CleanupInterval           time.Duration

	LogLevel    string
	Environment string
	RoutePrefix string
}

const (
	StorageFile = "file"
	StorageDB   = "db"
)

// Default lifetimes and intervals
const (
	DefaultAccessTokenLifetime       = time.Hour
	DefaultRefreshTokenLifetime      = 14 * 24 * time.Hour
	DefaultAuthorizationCodeLifetime = 5 * time.Minute
	DefaultCleanupInterval           = 5 * time.Minute
)

// DefaultScopes are granted to clients that do not configure their own scope list
var DefaultScopes = []string{"read", "write"}

// AdminPrincipal is the owner assigned to entities created without an explicit owner
const AdminPrincipal = "admin"

// Identity is the caller on whose behalf a DAO operation runs. A nil
// *Identity means the caller is unknown.
type Identity struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// AdminIdentity is used for internal calls and when authentication is skipped
func AdminIdentity() *Identity {
	return &Identity{Username: AdminPrincipal, IsAdmin: true}
}

// OAuthError represents OAuth error response
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// TokenResponse represents OAuth token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// IntrospectionResponse is the RFC 7662 token introspection body
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

// OAuthMetadata represents OAuth authorization server metadata
type OAuthMetadata struct {
	Issuer                                 string   `json:"issuer"`
	AuthorizationEndpoint                  string   `json:"authorization_endpoint"`
	TokenEndpoint                          string   `json:"token_endpoint"`
	RevocationEndpoint                     string   `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint                  string   `json:"introspection_endpoint,omitempty"`
	RegistrationEndpoint                   string   `json:"registration_endpoint,omitempty"`
	UserinfoEndpoint                       string   `json:"userinfo_endpoint,omitempty"`
	ResponseTypesSupported                 []string `json:"response_types_supported"`
	GrantTypesSupported                    []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported          []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported      []string `json:"token_endpoint_auth_methods_supported"`
	RevocationEndpointAuthMethodsSupported []string `json:"revocation_endpoint_auth_methods_supported,omitempty"`
	ScopesSupported                        []string `json:"scopes_supported,omitempty"`
}

// OAuthProtectedResourceMetadata represents protected resource metadata
type OAuthProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
	Scopes               []string `json:"scopes_supported,omitempty"`
	BearerMethods        []string `json:"bearer_methods_supported,omitempty"`
	ResourceName         string   `json:"resource_name,omitempty"`
}
