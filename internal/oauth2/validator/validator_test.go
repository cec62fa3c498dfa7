package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/authgate/internal/clock"
	"github.com/smallbiznis/authgate/internal/oauth2/domain"
	"github.com/smallbiznis/authgate/internal/oauth2/repository"
	"github.com/smallbiznis/authgate/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	v      *Validator
	store  domain.Store
	db     *gorm.DB
	clock  *clock.FakeClock
	node   *snowflake.Node
	client *domain.Client
	user   *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(
		&domain.User{},
		&domain.Client{},
		&domain.AuthorizationCode{},
		&domain.BearerToken{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	user := &domain.User{
		ID:       node.Generate(),
		Username: "testuser",
		Email:    "testuser@example.com",
		IsActive: true,
	}
	if err := dbConn.Create(user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	client := &domain.Client{
		ID:                 node.Generate(),
		ClientID:           "testclient",
		UserID:             &user.ID,
		GrantType:          domain.GrantClientCredentials,
		Scopes:             []string{"read", "write"},
		DefaultScopes:      []string{"read"},
		RedirectURIs:       []string{"https://client.example.com/callback"},
		DefaultRedirectURI: "https://client.example.com/callback",
	}
	if err := dbConn.Create(client).Error; err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}

	store := repository.New(dbConn)
	v := New(Config{CodeTTL: time.Hour}, store, fake, node, zap.NewNop())

	return &fixture{v: v, store: store, db: dbConn, clock: fake, node: node, client: client, user: user}
}

func TestValidateClientID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := &RequestContext{}
	if err := f.v.ValidateClientID(ctx, rc, "testclient"); err != nil {
		t.Fatalf("expected known client to validate, got %v", err)
	}
	if rc.Client == nil || rc.Client.ClientID != "testclient" {
		t.Fatal("expected client bound onto request context")
	}

	err := f.v.ValidateClientID(ctx, &RequestContext{}, "ghost")
	if !errors.Is(err, domain.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestValidateRedirectURIExactMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		uri string
		ok  bool
	}{
		{"https://client.example.com/callback", true},
		{"https://client.example.com/callback/", false},
		{"https://client.example.com/call", false},
		{"https://client.example.com/callback?x=1", false},
		{"", false},
	}
	for _, tc := range cases {
		err := f.v.ValidateRedirectURI(ctx, &RequestContext{}, "testclient", tc.uri)
		if tc.ok && err != nil {
			t.Fatalf("uri %q: expected match, got %v", tc.uri, err)
		}
		if !tc.ok && !errors.Is(err, domain.ErrInvalidRedirectURI) {
			t.Fatalf("uri %q: expected ErrInvalidRedirectURI, got %v", tc.uri, err)
		}
	}
}

func TestValidateScopesSubsetRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := &RequestContext{}
	if err := f.v.ValidateScopes(ctx, rc, "testclient", []string{"read"}); err != nil {
		t.Fatalf("expected subset to pass, got %v", err)
	}
	if len(rc.Scopes) != 1 || rc.Scopes[0] != "read" {
		t.Fatalf("expected scopes bound, got %v", rc.Scopes)
	}

	err := f.v.ValidateScopes(ctx, &RequestContext{}, "testclient", []string{"read", "admin"})
	if !errors.Is(err, domain.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
}

func TestDefaultScopesPreferConfigured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scopes, err := f.v.DefaultScopes(ctx, &RequestContext{}, "testclient")
	if err != nil {
		t.Fatalf("expected default scopes, got %v", err)
	}
	if len(scopes) != 1 || scopes[0] != "read" {
		t.Fatalf("expected configured default [read], got %v", scopes)
	}
}

func TestValidateResponseType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.v.ValidateResponseType(ctx, &RequestContext{}, "testclient", "code"); err != nil {
		t.Fatalf("expected code response type, got %v", err)
	}
	if err := f.v.ValidateResponseType(ctx, &RequestContext{}, "testclient", "token"); err != nil {
		t.Fatalf("expected token response type, got %v", err)
	}
	err := f.v.ValidateResponseType(ctx, &RequestContext{}, "testclient", "id_token")
	if !errors.Is(err, domain.ErrUnsupportedResponseType) {
		t.Fatalf("expected ErrUnsupportedResponseType, got %v", err)
	}

	f.client.ResponseType = "code"
	if err := f.db.Save(f.client).Error; err != nil {
		t.Fatalf("failed to update client: %v", err)
	}
	err = f.v.ValidateResponseType(ctx, &RequestContext{}, "testclient", "token")
	if !errors.Is(err, domain.ErrUnsupportedResponseType) {
		t.Fatalf("expected configured response type to narrow the set, got %v", err)
	}
}

func TestAuthenticateClientSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// no stored secret: identity alone suffices
	if err := f.v.AuthenticateClient(ctx, &RequestContext{}, "testclient", ""); err != nil {
		t.Fatalf("expected public client to authenticate, got %v", err)
	}

	f.client.ClientSecret = "s3cret"
	if err := f.db.Save(f.client).Error; err != nil {
		t.Fatalf("failed to update client: %v", err)
	}

	if err := f.v.AuthenticateClient(ctx, &RequestContext{}, "testclient", "s3cret"); err != nil {
		t.Fatalf("expected matching secret, got %v", err)
	}
	err := f.v.AuthenticateClient(ctx, &RequestContext{}, "testclient", "wrong")
	if !errors.Is(err, domain.ErrInvalidClient) {
		t.Fatalf("expected ErrInvalidClient, got %v", err)
	}
}

func TestAuthenticateClientID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := &RequestContext{}
	if err := f.v.AuthenticateClientID(ctx, rc, "testclient"); err != nil {
		t.Fatalf("expected known client to pass, got %v", err)
	}
	if rc.Client == nil || rc.Client.ClientID != "testclient" {
		t.Fatal("expected client bound onto context")
	}

	err := f.v.AuthenticateClientID(ctx, &RequestContext{}, "ghost")
	if !errors.Is(err, domain.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestValidateGrantType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := &RequestContext{}
	if err := f.v.ValidateGrantType(ctx, rc, "testclient", domain.GrantClientCredentials); err != nil {
		t.Fatalf("expected client_credentials for user-bound client, got %v", err)
	}
	if rc.User == nil || rc.User.ID != f.user.ID {
		t.Fatal("expected bound user loaded onto context")
	}

	// password is refused for user-bound clients
	err := f.v.ValidateGrantType(ctx, &RequestContext{}, "testclient", domain.GrantPassword)
	if !errors.Is(err, domain.ErrUnsupportedGrantType) {
		t.Fatalf("expected ErrUnsupportedGrantType, got %v", err)
	}

	err = f.v.ValidateGrantType(ctx, &RequestContext{}, "testclient", "implicit")
	if !errors.Is(err, domain.ErrUnsupportedGrantType) {
		t.Fatalf("expected ErrUnsupportedGrantType for unknown type, got %v", err)
	}
}

func TestSaveAndValidateCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := &RequestContext{Scopes: []string{"read", "write"}, User: f.user}
	if err := f.v.SaveAuthorizationCode(ctx, rc, "testclient", "code-1"); err != nil {
		t.Fatalf("failed to save code: %v", err)
	}

	exchange := &RequestContext{Scopes: []string{"read", "billing"}}
	if err := f.v.ValidateCode(ctx, exchange, "testclient", "code-1"); err != nil {
		t.Fatalf("expected fresh code to validate, got %v", err)
	}
	if len(exchange.Scopes) != 1 || exchange.Scopes[0] != "read" {
		t.Fatalf("expected intersection [read], got %v", exchange.Scopes)
	}
	if exchange.User == nil || exchange.User.ID != f.user.ID {
		t.Fatal("expected code's user propagated to context")
	}
}

func TestValidateCodeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := &RequestContext{Scopes: []string{"read"}}
	if err := f.v.SaveAuthorizationCode(ctx, rc, "testclient", "code-exp"); err != nil {
		t.Fatalf("failed to save code: %v", err)
	}

	f.clock.Advance(time.Hour + time.Second)

	err := f.v.ValidateCode(ctx, &RequestContext{}, "testclient", "code-exp")
	if !errors.Is(err, domain.ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ErrInvalidOrExpiredCode, got %v", err)
	}

	// expired codes stay stored; invalidation is exchange-driven only
	var count int64
	if err := f.db.Model(&domain.AuthorizationCode{}).Where("code = ?", "code-exp").Count(&count).Error; err != nil {
		t.Fatalf("failed to count codes: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected expired code to remain stored, found %d rows", count)
	}
}

func TestInvalidateAuthorizationCodeSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := &RequestContext{Scopes: []string{"read"}}
	if err := f.v.SaveAuthorizationCode(ctx, rc, "testclient", "code-once"); err != nil {
		t.Fatalf("failed to save code: %v", err)
	}

	if err := f.v.InvalidateAuthorizationCode(ctx, &RequestContext{}, "testclient", "code-once"); err != nil {
		t.Fatalf("expected first invalidation to succeed, got %v", err)
	}
	err := f.v.InvalidateAuthorizationCode(ctx, &RequestContext{}, "testclient", "code-once")
	if !errors.Is(err, domain.ErrInvalidOrExpiredCode) {
		t.Fatalf("expected second invalidation to fail, got %v", err)
	}
}

func TestValidateBearerToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := &RequestContext{Client: f.client, User: f.user}
	if _, err := f.v.SaveBearerToken(ctx, rc, TokenFields{
		AccessToken: "tok-1",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		Scope:       "read",
	}); err != nil {
		t.Fatalf("failed to save token: %v", err)
	}

	// any-of: token holds read, guard requires read or write
	check := &RequestContext{}
	if err := f.v.ValidateBearerToken(ctx, check, "tok-1", []string{"read", "write"}); err != nil {
		t.Fatalf("expected overlapping scopes to pass, got %v", err)
	}
	if check.Client == nil || check.Client.ClientID != "testclient" {
		t.Fatal("expected token's client bound onto context")
	}
	if check.User == nil || check.User.ID != f.user.ID {
		t.Fatal("expected token's user bound onto context")
	}

	// disjoint scopes
	check = &RequestContext{}
	err := f.v.ValidateBearerToken(ctx, check, "tok-1", []string{"billing"})
	if !errors.Is(err, domain.ErrInsufficientScope) {
		t.Fatalf("expected ErrInsufficientScope, got %v", err)
	}
	if check.ErrorMessage == "" {
		t.Fatal("expected diagnostic message on context")
	}

	// unknown token
	err = f.v.ValidateBearerToken(ctx, &RequestContext{}, "ghost", []string{"read"})
	if !errors.Is(err, domain.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
}

func TestValidateBearerTokenExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := &RequestContext{Client: f.client}
	if _, err := f.v.SaveBearerToken(ctx, rc, TokenFields{
		AccessToken: "tok-exp",
		TokenType:   "Bearer",
		ExpiresIn:   60,
		Scope:       "read",
	}); err != nil {
		t.Fatalf("failed to save token: %v", err)
	}

	f.clock.Advance(2 * time.Minute)

	err := f.v.ValidateBearerToken(ctx, &RequestContext{}, "tok-exp", []string{"read"})
	if !errors.Is(err, domain.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
}

func TestOriginalScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := &RequestContext{Client: f.client}
	if _, err := f.v.SaveBearerToken(ctx, rc, TokenFields{
		AccessToken:  "tok-refresh",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		Scope:        "read write",
	}); err != nil {
		t.Fatalf("failed to save token: %v", err)
	}

	scopes, err := f.v.OriginalScopes(ctx, &RequestContext{}, "refresh-1")
	if err != nil {
		t.Fatalf("expected original scopes, got %v", err)
	}
	if len(scopes) != 2 || scopes[0] != "read" || scopes[1] != "write" {
		t.Fatalf("expected [read write], got %v", scopes)
	}

	_, err = f.v.OriginalScopes(ctx, &RequestContext{}, "ghost")
	if !errors.Is(err, domain.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
}
