package types

// AccessType controls which targets a bearer key may reach.
type AccessType string

const (
	AccessAll     AccessType = "all"
	AccessGroups  AccessType = "groups"
	AccessServers AccessType = "servers"
	AccessCustom  AccessType = "custom"
)

func (a AccessType) Valid() bool {
	switch a {
	case AccessAll, AccessGroups, AccessServers, AccessCustom:
		return true
	}
	return false
}

// BearerKey is a static shared secret scoped to groups and servers.
type BearerKey struct {
	ID             string      `gorm:"primaryKey" json:"id"`
	Name           string      `gorm:"not null" json:"name"`
	Token          string      `gorm:"not null;index" json:"token"`
	Enabled        bool        `json:"enabled"`
	AccessType     AccessType  `gorm:"not null" json:"accessType"`
	AllowedGroups  StringSlice `gorm:"type:text" json:"allowedGroups"`
	AllowedServers StringSlice `gorm:"type:text" json:"allowedServers"`
}

func (BearerKey) TableName() string { return "bearer_keys" }

func (k *BearerKey) Normalize() {
	if k.AllowedGroups == nil {
		k.AllowedGroups = StringSlice{}
	}
	if k.AllowedServers == nil {
		k.AllowedServers = StringSlice{}
	}
	if k.AccessType == "" {
		k.AccessType = AccessAll
	}
}

// BearerKeyPatch holds the mutable fields of a BearerKey. Nil fields are left unchanged.
type BearerKeyPatch struct {
	Name           *string     `json:"name,omitempty"`
	Token          *string     `json:"token,omitempty"`
	Enabled        *bool       `json:"enabled,omitempty"`
	AccessType     *AccessType `json:"accessType,omitempty"`
	AllowedGroups  *[]string   `json:"allowedGroups,omitempty"`
	AllowedServers *[]string   `json:"allowedServers,omitempty"`
}

func (p BearerKeyPatch) Apply(k *BearerKey) {
	if p.Name != nil {
		k.Name = *p.Name
	}
	if p.Token != nil {
		k.Token = *p.Token
	}
	if p.Enabled != nil {
		k.Enabled = *p.Enabled
	}
	if p.AccessType != nil {
		k.AccessType = *p.AccessType
	}
	if p.AllowedGroups != nil {
		k.AllowedGroups = StringSlice(*p.AllowedGroups)
	}
	if p.AllowedServers != nil {
		k.AllowedServers = StringSlice(*p.AllowedServers)
	}
}
