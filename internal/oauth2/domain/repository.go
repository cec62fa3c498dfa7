package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Store is the persistence contract for the authorization server. Lookups
// return the tagged not-found error for their record kind instead of a
// generic miss, so callers never translate storage errors themselves.
type Store interface {
	FindClientByClientID(ctx context.Context, clientID string) (*Client, error)
	FindClientByID(ctx context.Context, id snowflake.ID) (*Client, error)
	FindUserByID(ctx context.Context, id snowflake.ID) (*User, error)

	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	FindAuthorizationCode(ctx context.Context, clientID snowflake.ID, code string) (*AuthorizationCode, error)
	// DeleteAuthorizationCode removes the code row and reports whether this
	// call deleted it. Under concurrent exchanges at most one caller
	// observes true.
	DeleteAuthorizationCode(ctx context.Context, clientID snowflake.ID, code string) (bool, error)

	CreateBearerToken(ctx context.Context, token *BearerToken) error
	FindBearerTokenByAccessToken(ctx context.Context, accessToken string) (*BearerToken, error)
	FindBearerTokenByRefreshToken(ctx context.Context, refreshToken string) (*BearerToken, error)

	// Transaction runs fn against a store bound to a single database
	// transaction, committing on nil and rolling back on error.
	Transaction(ctx context.Context, fn func(Store) error) error
}
