package validator

import "github.com/smallbiznis/authgate/internal/oauth2/domain"

// RequestContext is the mutable state threaded through the protocol
// checkpoints of one authorization or token request. Checkpoints resolve
// records once and hang them here so later checkpoints reuse them.
type RequestContext struct {
	ClientID string
	Client   *domain.Client
	User     *domain.User
	Scopes   []string
	State    string

	Code         string
	AccessToken  string
	RefreshToken string

	// ErrorMessage carries a human-readable detail for the last guard
	// failure. Never written to the wire.
	ErrorMessage string
}
