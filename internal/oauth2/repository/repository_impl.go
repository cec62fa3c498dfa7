// Package repository provides the gorm-backed Store implementation.
package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/authgate/internal/oauth2/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

// New returns a Store bound to db.
func New(db *gorm.DB) domain.Store {
	return &repo{db: db}
}

func (r *repo) FindClientByClientID(ctx context.Context, clientID string) (*domain.Client, error) {
	var client domain.Client
	err := r.db.WithContext(ctx).Where("client_id = ?", clientID).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *repo) FindClientByID(ctx context.Context, id snowflake.ID) (*domain.Client, error) {
	var client domain.Client
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *repo) FindUserByID(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) CreateAuthorizationCode(ctx context.Context, code *domain.AuthorizationCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *repo) FindAuthorizationCode(ctx context.Context, clientID snowflake.ID, code string) (*domain.AuthorizationCode, error) {
	var ac domain.AuthorizationCode
	err := r.db.WithContext(ctx).Where("client_id = ? AND code = ?", clientID, code).First(&ac).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInvalidOrExpiredCode
	}
	if err != nil {
		return nil, err
	}
	return &ac, nil
}

// DeleteAuthorizationCode is the single-use gate: the row predicate plus the
// RowsAffected check means concurrent exchanges of one code see at most one
// true result.
func (r *repo) DeleteAuthorizationCode(ctx context.Context, clientID snowflake.ID, code string) (bool, error) {
	tx := r.db.WithContext(ctx).
		Where("client_id = ? AND code = ?", clientID, code).
		Delete(&domain.AuthorizationCode{})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repo) CreateBearerToken(ctx context.Context, token *domain.BearerToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *repo) FindBearerTokenByAccessToken(ctx context.Context, accessToken string) (*domain.BearerToken, error) {
	var bt domain.BearerToken
	err := r.db.WithContext(ctx).Where("access_token = ?", accessToken).First(&bt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, err
	}
	return &bt, nil
}

func (r *repo) FindBearerTokenByRefreshToken(ctx context.Context, refreshToken string) (*domain.BearerToken, error) {
	var bt domain.BearerToken
	err := r.db.WithContext(ctx).Where("refresh_token = ?", refreshToken).First(&bt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, err
	}
	return &bt, nil
}

func (r *repo) Transaction(ctx context.Context, fn func(domain.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repo{db: tx})
	})
}
