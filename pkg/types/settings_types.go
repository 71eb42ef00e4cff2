package types

import (
	"encoding/json"
)

// Settings is the persisted settings document. Sections this package does not
// know about are kept in Extra and written back unchanged.
type Settings struct {
	Users        []User            `json:"users,omitempty"`
	MCPServers   map[string]Server `json:"mcpServers,omitempty"`
	Groups       []Group           `json:"groups,omitempty"`
	SystemConfig *SystemConfig     `json:"systemConfig,omitempty"`
	OAuthClients []OAuthClient     `json:"oauthClients,omitempty"`
	OAuthTokens  []OAuthToken      `json:"oauthTokens,omitempty"`

	// BearerKeys is nil when the section is missing from the document, which
	// is different from an empty list: a missing section has not been migrated yet.
	BearerKeys *[]BearerKey `json:"bearerKeys,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownSections = []string{
	"users",
	"mcpServers",
	"groups",
	"systemConfig",
	"oauthClients",
	"oauthTokens",
	"bearerKeys",
}

type settingsAlias Settings

func (s Settings) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(settingsAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(s.Extra)+len(knownSections))
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	var a settingsAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownSections {
		delete(raw, k)
	}

	*s = Settings(a)
	s.Extra = nil
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

// GetSystemConfig returns the system config section, or a zero value when absent.
func (s *Settings) GetSystemConfig() SystemConfig {
	if s.SystemConfig == nil {
		return SystemConfig{}
	}
	return *s.SystemConfig
}
