package auth

import (
	"encoding/json"
	"time"
)

// User is an account in the central directory. A user who is not active or
// not approved cannot authenticate.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	IsAdmin      bool      `json:"is_admin"`
	IsActive     bool      `json:"is_active"`
	IsApproved   bool      `json:"is_approved"`
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login,omitempty"`
}

// Session is an opaque bearer credential owned by exactly one user. A session
// past its expiry is inert and treated as absent.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// App is a registrable downstream application. AdminOnly hides the app from
// non-admins regardless of grants.
type App struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	AdminOnly bool      `json:"admin_only"`
	CreatedAt time.Time `json:"created_at"`
}

// Group is a named collection of users, the unit of access aggregation.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// AppOverride is a per-user explicit grant (true) or denial (false) for one
// app. Absence of a row means "defer to group rules".
type AppOverride struct {
	UserID    string
	AppID     string
	HasAccess bool
}

// GroupAppAccess grants or denies one app for every member of a group.
type GroupAppAccess struct {
	GroupID   string
	AppID     string
	HasAccess bool
}

// Capabilities is the fixed capability record carried by a feature grant.
type Capabilities struct {
	Read    bool `json:"read"`
	Write   bool `json:"write"`
	Delete  bool `json:"delete"`
	Execute bool `json:"execute"`
}

// Union returns the OR-combination of two capability records.
func (c Capabilities) Union(other Capabilities) Capabilities {
	return Capabilities{
		Read:    c.Read || other.Read,
		Write:   c.Write || other.Write,
		Delete:  c.Delete || other.Delete,
		Execute: c.Execute || other.Execute,
	}
}

// FeaturePermission is a per-(group, app, feature) capability grant. There is
// no feature-level deny; grants are additive across groups.
type FeaturePermission struct {
	GroupID     string
	AppID       string
	FeatureName string
	Capabilities
}

// FeatureSet is the resolved feature map for one user in one app. Admin set
// true is the unrestricted sentinel; Features is nil in that case.
type FeatureSet struct {
	Admin    bool
	Features map[string]Capabilities
}

// MarshalJSON encodes the admin sentinel as {"_admin": true}, matching what
// downstream clients already consume.
func (fs FeatureSet) MarshalJSON() ([]byte, error) {
	if fs.Admin {
		return json.Marshal(map[string]bool{"_admin": true})
	}
	if fs.Features == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(fs.Features)
}

// UnmarshalJSON is the inverse of MarshalJSON, used by downstream clients
// decoding validation responses.
func (fs *FeatureSet) UnmarshalJSON(data []byte) error {
	var sentinel struct {
		Admin bool `json:"_admin"`
	}
	if err := json.Unmarshal(data, &sentinel); err == nil && sentinel.Admin {
		*fs = FeatureSet{Admin: true}
		return nil
	}
	var features map[string]Capabilities
	if err := json.Unmarshal(data, &features); err != nil {
		return err
	}
	*fs = FeatureSet{Features: features}
	return nil
}

// Has reports whether the set grants the named capability on a feature.
func (fs FeatureSet) Has(feature, action string) bool {
	if fs.Admin {
		return true
	}
	caps, ok := fs.Features[feature]
	if !ok {
		return false
	}
	switch action {
	case "read":
		return caps.Read
	case "write":
		return caps.Write
	case "delete":
		return caps.Delete
	case "execute":
		return caps.Execute
	default:
		return false
	}
}

// AuditEvent is an immutable record of a security-relevant outcome. ActorID
// is empty when no authenticated actor exists (failed logins, signups).
type AuditEvent struct {
	ID           string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Detail       string
	IPAddress    string
	OccurredAt   time.Time
}

// Identity is the public view of a user returned by validation.
type Identity struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	IsAdmin    bool   `json:"is_admin"`
	IsApproved bool   `json:"is_approved"`
}

// PublicIdentity strips a user down to the fields downstream apps may see.
func PublicIdentity(u *User) Identity {
	return Identity{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		IsAdmin:    u.IsAdmin,
		IsApproved: u.IsApproved,
	}
}
