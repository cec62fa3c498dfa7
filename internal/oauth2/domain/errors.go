package domain

import "errors"

// Protocol-level failures. Every checkpoint returns one of these tagged
// errors so callers can map the failure onto the wire without string
// inspection.
var (
	ErrClientNotFound          = errors.New("client_not_found")
	ErrUserNotFound            = errors.New("user_not_found")
	ErrInvalidClient           = errors.New("invalid_client")
	ErrInvalidRedirectURI      = errors.New("invalid_redirect_uri")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
	ErrInvalidOrExpiredCode    = errors.New("invalid_or_expired_code")
	ErrInvalidOrExpiredToken   = errors.New("invalid_or_expired_token")
	ErrInsufficientScope       = errors.New("insufficient_scope")
)
