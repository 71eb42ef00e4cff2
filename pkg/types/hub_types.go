package types

// User is a hub account. Password holds a bcrypt hash.
type User struct {
	Username string `gorm:"primaryKey" json:"username"`
	Password string `gorm:"not null" json:"password"`
	IsAdmin  bool   `json:"isAdmin"`
}

func (User) TableName() string { return "users" }

func (u *User) Normalize() {}

// UserPatch holds the mutable fields of a User. Password must already be hashed.
type UserPatch struct {
	Password *string `json:"password,omitempty"`
	IsAdmin  *bool   `json:"isAdmin,omitempty"`
}

func (p UserPatch) Apply(u *User) {
	if p.Password != nil {
		u.Password = *p.Password
	}
	if p.IsAdmin != nil {
		u.IsAdmin = *p.IsAdmin
	}
}

// Server is a downstream connector registration.
type Server struct {
	Name        string      `gorm:"primaryKey" json:"name,omitempty"`
	Owner       string      `gorm:"index" json:"owner"`
	Type        string      `json:"type,omitempty"`
	URL         string      `json:"url,omitempty"`
	Command     string      `json:"command,omitempty"`
	Args        StringSlice `gorm:"type:text" json:"args"`
	Enabled     bool        `json:"enabled"`
	Description string      `json:"description,omitempty"`
}

func (Server) TableName() string { return "servers" }

func (s *Server) Normalize() {
	if s.Args == nil {
		s.Args = StringSlice{}
	}
	if s.Owner == "" {
		s.Owner = AdminPrincipal
	}
}

type ServerPatch struct {
	Owner       *string   `json:"owner,omitempty"`
	Type        *string   `json:"type,omitempty"`
	URL         *string   `json:"url,omitempty"`
	Command     *string   `json:"command,omitempty"`
	Args        *[]string `json:"args,omitempty"`
	Enabled     *bool     `json:"enabled,omitempty"`
	Description *string   `json:"description,omitempty"`
}

func (p ServerPatch) Apply(s *Server) {
	if p.Owner != nil {
		s.Owner = *p.Owner
	}
	if p.Type != nil {
		s.Type = *p.Type
	}
	if p.URL != nil {
		s.URL = *p.URL
	}
	if p.Command != nil {
		s.Command = *p.Command
	}
	if p.Args != nil {
		s.Args = StringSlice(*p.Args)
	}
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
}

// Group bundles servers under one routable identifier.
type Group struct {
	ID          string      `gorm:"primaryKey" json:"id"`
	Name        string      `gorm:"not null;index" json:"name"`
	Description string      `json:"description,omitempty"`
	Servers     StringSlice `gorm:"type:text" json:"servers"`
	Owner       string      `gorm:"index" json:"owner"`
}

func (Group) TableName() string { return "server_groups" }

func (g *Group) Normalize() {
	if g.Servers == nil {
		g.Servers = StringSlice{}
	}
	if g.Owner == "" {
		g.Owner = AdminPrincipal
	}
}

type GroupPatch struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Servers     *[]string `json:"servers,omitempty"`
	Owner       *string   `json:"owner,omitempty"`
}

func (p GroupPatch) Apply(g *Group) {
	if p.Name != nil {
		g.Name = *p.Name
	}
	if p.Description != nil {
		g.Description = *p.Description
	}
	if p.Servers != nil {
		g.Servers = StringSlice(*p.Servers)
	}
	if p.Owner != nil {
		g.Owner = *p.Owner
	}
}

// SystemConfig is the systemConfig section of the settings document.
type SystemConfig struct {
	Routing RoutingConfig `json:"routing"`
}

type RoutingConfig struct {
	EnableGlobalRoute    bool `json:"enableGlobalRoute"`
	EnableGroupNameRoute bool `json:"enableGroupNameRoute"`
	SkipAuth             bool `json:"skipAuth"`

	// Legacy inline bearer key, superseded by the bearerKeys section.
	EnableBearerAuth bool   `json:"enableBearerAuth"`
	BearerAuthKey    string `json:"bearerAuthKey,omitempty"`
}

type SystemConfigPatch struct {
	EnableGlobalRoute    *bool `json:"enableGlobalRoute,omitempty"`
	EnableGroupNameRoute *bool `json:"enableGroupNameRoute,omitempty"`
	SkipAuth             *bool `json:"skipAuth,omitempty"`
}

func (p SystemConfigPatch) Apply(c *SystemConfig) {
	if p.EnableGlobalRoute != nil {
		c.Routing.EnableGlobalRoute = *p.EnableGlobalRoute
	}
	if p.EnableGroupNameRoute != nil {
		c.Routing.EnableGroupNameRoute = *p.EnableGroupNameRoute
	}
	if p.SkipAuth != nil {
		c.Routing.SkipAuth = *p.SkipAuth
	}
}
