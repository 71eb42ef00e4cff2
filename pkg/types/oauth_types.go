package types

import (
	"maps"
	"time"
)

// OAuthClient is a registered OAuth client. ClientID never changes after creation.
type OAuthClient struct {
	ClientID     string      `gorm:"primaryKey" json:"clientId"`
	ClientSecret string      `json:"clientSecret,omitempty"`
	Name         string      `gorm:"not null" json:"name"`
	RedirectURIs StringSlice `gorm:"type:text" json:"redirectUris"`
	Grants       StringSlice `gorm:"type:text" json:"grants"`
	Scopes       StringSlice `gorm:"type:text" json:"scopes"`
	Owner        string      `gorm:"index" json:"owner"`
	Metadata     JSON        `gorm:"type:text" json:"metadata,omitempty"`
}

func (OAuthClient) TableName() string { return "oauth_clients" }

// IsPublic reports whether the client has no secret.
func (c *OAuthClient) IsPublic() bool {
	return c.ClientSecret == ""
}

// Normalize replaces nil collections with empty ones so both storage
// backends return identical values.
func (c *OAuthClient) Normalize() {
	if c.RedirectURIs == nil {
		c.RedirectURIs = StringSlice{}
	}
	if c.Grants == nil {
		c.Grants = StringSlice{}
	}
	if c.Scopes == nil {
		c.Scopes = StringSlice{}
	}
	if c.Metadata == nil {
		c.Metadata = JSON{}
	}
	if c.Owner == "" {
		c.Owner = AdminPrincipal
	}
}

// OAuthClientPatch holds the mutable fields of an OAuthClient. Nil fields are left unchanged.
type OAuthClientPatch struct {
	Name         *string         `json:"name,omitempty"`
	ClientSecret *string         `json:"clientSecret,omitempty"`
	RedirectURIs *[]string       `json:"redirectUris,omitempty"`
	Grants       *[]string       `json:"grants,omitempty"`
	Scopes       *[]string       `json:"scopes,omitempty"`
	Owner        *string         `json:"owner,omitempty"`
	Metadata     *map[string]any `json:"metadata,omitempty"`
}

func (p OAuthClientPatch) Apply(c *OAuthClient) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.ClientSecret != nil {
		c.ClientSecret = *p.ClientSecret
	}
	if p.RedirectURIs != nil {
		c.RedirectURIs = StringSlice(*p.RedirectURIs)
	}
	if p.Grants != nil {
		c.Grants = StringSlice(*p.Grants)
	}
	if p.Scopes != nil {
		c.Scopes = StringSlice(*p.Scopes)
	}
	if p.Owner != nil {
		c.Owner = *p.Owner
	}
	if p.Metadata != nil {
		c.Metadata = maps.Clone(JSON(*p.Metadata))
	}
}

// OAuthToken is an issued access token, optionally paired with a refresh token.
type OAuthToken struct {
	AccessToken           string     `json:"accessToken"`
	AccessTokenExpiresAt  time.Time  `json:"accessTokenExpiresAt"`
	RefreshToken          string     `json:"refreshToken,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refreshTokenExpiresAt,omitempty"`
	Scope                 string     `json:"scope"`
	ClientID              string     `json:"clientId"`
	Username              string     `json:"username"`
}

// AccessExpired reports whether the access token is no longer valid at now.
func (t *OAuthToken) AccessExpired(now time.Time) bool {
	return now.After(t.AccessTokenExpiresAt)
}

// RefreshExpired reports whether the refresh token is no longer valid at now.
// A refresh token without an expiry never expires.
func (t *OAuthToken) RefreshExpired(now time.Time) bool {
	if t.RefreshToken == "" {
		return true
	}
	return t.RefreshTokenExpiresAt != nil && now.After(*t.RefreshTokenExpiresAt)
}

// Stale reports whether the record can be removed: the access token is
// expired and there is no usable refresh token.
func (t *OAuthToken) Stale(now time.Time) bool {
	return t.AccessExpired(now) && t.RefreshExpired(now)
}

// Matches reports whether the record shares an access or refresh token value with other.
func (t *OAuthToken) Matches(other *OAuthToken) bool {
	if t.AccessToken == other.AccessToken {
		return true
	}
	return other.RefreshToken != "" && (t.RefreshToken == other.RefreshToken || t.AccessToken == other.RefreshToken) ||
		t.RefreshToken != "" && t.RefreshToken == other.AccessToken
}

// AuthorizationCode is a pending authorization code. It lives in memory only.
type AuthorizationCode struct {
	Code                string
	ExpiresAt           time.Time
	RedirectURI         string
	Scope               string
	ClientID            string
	Username            string
	CodeChallenge       string
	CodeChallengeMethod string
}
