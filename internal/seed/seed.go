// Package seed bootstraps a development user and client so the server is
// exercisable immediately after first start.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/authgate/internal/auth/password"
	"github.com/smallbiznis/authgate/internal/oauth2/domain"
	"gorm.io/gorm"
)

const (
	defaultUsername     = "testuser"
	defaultUserEmail    = "testuser@example.com"
	defaultUserPassword = "changeme"
	defaultClientID     = "testclient"
	defaultRedirectURI  = "http://localhost:5000/callback"
)

// EnsureTestClient seeds the default user and client. It is idempotent:
// records that already exist are left untouched.
func EnsureTestClient(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := ensureUserTx(ctx, tx, node)
		if err != nil {
			return err
		}
		return ensureClientTx(ctx, tx, node, user.ID)
	})
}

func ensureUserTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (*domain.User, error) {
	var existing domain.User
	err := tx.WithContext(ctx).Where("username = ?", defaultUsername).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := password.Hash(defaultUserPassword)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		ID:           node.Generate(),
		Username:     defaultUsername,
		Email:        defaultUserEmail,
		PasswordHash: &hash,
		IsActive:     true,
	}
	if err := tx.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func ensureClientTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, userID snowflake.ID) error {
	var existing domain.Client
	err := tx.WithContext(ctx).Where("client_id = ?", defaultClientID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	client := &domain.Client{
		ID:                 node.Generate(),
		ClientID:           defaultClientID,
		UserID:             &userID,
		GrantType:          domain.GrantClientCredentials,
		Scopes:             []string{"read", "write"},
		DefaultScopes:      []string{"read"},
		RedirectURIs:       []string{defaultRedirectURI},
		DefaultRedirectURI: defaultRedirectURI,
	}
	return tx.WithContext(ctx).Create(client).Error
}
