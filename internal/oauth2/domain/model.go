// Package domain contains the persisted records and store contract for the
// OAuth2 authorization server.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Grant types accepted by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantPassword          = "password"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
)

// Response types accepted by the authorization endpoint. Used as the
// class-level default when a client has no configured response type.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// User represents a resource owner. Accounts are managed elsewhere; the
// authorization server only reads them.
type User struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	Username     string            `gorm:"type:text;not null;uniqueIndex"`
	Email        string            `gorm:"column:email;type:text;not null"`
	PasswordHash *string           `gorm:"column:password_hash;type:text"`
	IsActive     bool              `gorm:"column:is_active;not null;default:true"`
	IsStaff      bool              `gorm:"column:is_staff;not null;default:false"`
	IsSuperuser  bool              `gorm:"column:is_superuser;not null;default:false"`
	LastLogin    *time.Time        `gorm:"column:last_login"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Client is a registered OAuth2 consumer.
type Client struct {
	ID                 snowflake.ID  `gorm:"primaryKey"`
	ClientID           string        `gorm:"column:client_id;type:text;not null;uniqueIndex"`
	ClientSecret       string        `gorm:"column:client_secret;type:text"`
	UserID             *snowflake.ID `gorm:"column:user_id;index"`
	GrantType          string        `gorm:"column:grant_type;type:text;not null"`
	ResponseType       string        `gorm:"column:response_type;type:text"`
	Scopes             []string      `gorm:"column:scopes;type:jsonb;serializer:json"`
	DefaultScopes      []string      `gorm:"column:default_scopes;type:jsonb;serializer:json"`
	RedirectURIs       []string      `gorm:"column:redirect_uris;type:jsonb;serializer:json"`
	DefaultRedirectURI string        `gorm:"column:default_redirect_uri;type:text;not null"`
	CreatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Client) TableName() string { return "oauth_clients" }

// Public reports whether the client authenticates without a secret.
func (c *Client) Public() bool {
	return c.ClientSecret == ""
}

// AllowedScopes returns the scope set the client may request. The Scopes
// field is authoritative; DefaultScopes serves when it is unset.
func (c *Client) AllowedScopes() []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	return c.DefaultScopes
}

// HasRedirectURI reports whether uri is a byte-exact member of the
// registered redirect URI set. No wildcard or prefix matching.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AuthorizationCode is a short-lived, single-use credential exchanged for a
// bearer token. Deleted on successful exchange; expired codes stay stored.
type AuthorizationCode struct {
	ID        snowflake.ID  `gorm:"primaryKey"`
	ClientID  snowflake.ID  `gorm:"column:client_id;not null;index"`
	UserID    *snowflake.ID `gorm:"column:user_id;index"`
	Scopes    []string      `gorm:"column:scopes;type:jsonb;serializer:json"`
	Code      string        `gorm:"column:code;type:text;not null;uniqueIndex"`
	ExpiresAt time.Time     `gorm:"column:expires_at;not null;index"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AuthorizationCode) TableName() string { return "oauth_authorization_codes" }

// BearerToken is an issued access credential. Rows are never mutated; a
// refresh issues a new row and leaves the superseded one in place.
type BearerToken struct {
	ID           snowflake.ID  `gorm:"primaryKey"`
	ClientID     snowflake.ID  `gorm:"column:client_id;not null;index"`
	UserID       *snowflake.ID `gorm:"column:user_id;index"`
	Scopes       []string      `gorm:"column:scopes;type:jsonb;serializer:json"`
	AccessToken  string        `gorm:"column:access_token;type:text;not null;uniqueIndex"`
	RefreshToken *string       `gorm:"column:refresh_token;type:text;uniqueIndex"`
	ExpiresAt    time.Time     `gorm:"column:expires_at;not null;index"`
	CreatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BearerToken) TableName() string { return "oauth_bearer_tokens" }
