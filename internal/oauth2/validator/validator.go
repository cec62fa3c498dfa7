// Package validator implements the protocol checkpoints shared by the
// authorization, token and resource-protection flows. Each checkpoint
// returns a tagged error from the domain package on refusal; callers own
// the mapping onto wire responses.
package validator

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/authgate/internal/clock"
	"github.com/smallbiznis/authgate/internal/config"
	"github.com/smallbiznis/authgate/internal/oauth2/domain"
	"github.com/smallbiznis/authgate/internal/oauth2/scope"
	"go.uber.org/zap"
)

// Config carries the validator tunables.
type Config struct {
	// CodeTTL is the lifetime of issued authorization codes.
	CodeTTL time.Duration
}

// NewConfig derives the validator configuration from the application config.
func NewConfig(cfg config.Config) Config {
	return Config{CodeTTL: cfg.CodeTTL}
}

// Validator runs the per-request protocol checks against the store.
type Validator struct {
	cfg   Config
	store domain.Store
	clock clock.Clock
	genID *snowflake.Node
	log   *zap.Logger
}

// New builds a Validator.
func New(cfg Config, store domain.Store, clk clock.Clock, genID *snowflake.Node, log *zap.Logger) *Validator {
	return &Validator{
		cfg:   cfg,
		store: store,
		clock: clk,
		genID: genID,
		log:   log.Named("oauth2.validator"),
	}
}

// WithStore returns a copy of the validator bound to store. Used to run
// checkpoints inside a database transaction.
func (v *Validator) WithStore(store domain.Store) *Validator {
	clone := *v
	clone.store = store
	return &clone
}

// resolveClient loads the client for clientID, caching it on rc so a request
// hits the store at most once. An empty clientID falls back to rc.ClientID.
func (v *Validator) resolveClient(ctx context.Context, rc *RequestContext, clientID string) (*domain.Client, error) {
	if clientID == "" {
		clientID = rc.ClientID
	}
	if rc.Client != nil && rc.Client.ClientID == clientID {
		return rc.Client, nil
	}
	client, err := v.store.FindClientByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	rc.Client = client
	rc.ClientID = client.ClientID
	return client, nil
}

// ValidateClientID confirms the client identifier refers to a registered
// client and binds the record onto rc.
func (v *Validator) ValidateClientID(ctx context.Context, rc *RequestContext, clientID string) error {
	_, err := v.resolveClient(ctx, rc, clientID)
	return err
}

// AuthenticateClient verifies the presented secret against the stored one.
// Clients without a stored secret authenticate by identity alone.
func (v *Validator) AuthenticateClient(ctx context.Context, rc *RequestContext, clientID, clientSecret string) error {
	client, err := v.resolveClient(ctx, rc, clientID)
	if err != nil {
		return err
	}
	if client.Public() {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(clientSecret), []byte(client.ClientSecret)) != 1 {
		return domain.ErrInvalidClient
	}
	return nil
}

// AuthenticateClientID is the weaker check used by grant types that carry no
// secret: the client must merely exist.
func (v *Validator) AuthenticateClientID(ctx context.Context, rc *RequestContext, clientID string) error {
	_, err := v.resolveClient(ctx, rc, clientID)
	return err
}

// ValidateRedirectURI requires uri to be a byte-exact member of the client's
// registered redirect URIs.
func (v *Validator) ValidateRedirectURI(ctx context.Context, rc *RequestContext, clientID, uri string) error {
	client, err := v.resolveClient(ctx, rc, clientID)
	if err != nil {
		return err
	}
	if !client.HasRedirectURI(uri) {
		return domain.ErrInvalidRedirectURI
	}
	return nil
}

// DefaultRedirectURI returns the client's fallback redirect URI for requests
// that omit one.
func (v *Validator) DefaultRedirectURI(ctx context.Context, rc *RequestContext, clientID string) (string, error) {
	client, err := v.resolveClient(ctx, rc, clientID)
	if err != nil {
		return "", err
	}
	return client.DefaultRedirectURI, nil
}

// ValidateScopes requires requested to be a subset of the client's allowed
// scope set, then binds the normalized request onto rc.
func (v *Validator) ValidateScopes(ctx context.Context, rc *RequestContext, clientID string, requested []string) error {
	client, err := v.resolveClient(ctx, rc, clientID)
	if err != nil {
		return err
	}
	requested = scope.Normalize(requested)
	if !scope.Subset(requested, client.AllowedScopes()) {
		return domain.ErrInvalidScope
	}
	rc.Scopes = requested
	return nil
}

// DefaultScopes returns the scopes granted when a request names none.
func (v *Validator) DefaultScopes(ctx context.Context, rc *RequestContext, clientID string) ([]string, error) {
	client, err := v.resolveClient(ctx, rc, clientID)
	if err != nil {
		return nil, err
	}
	if len(client.DefaultScopes) > 0 {
		return client.DefaultScopes, nil
	}
	return client.Scopes, nil
}

// ValidateResponseType checks responseType against the allowed set, narrowed
// to the client's configured response type when it has one.
func (v *Validator) ValidateResponseType(ctx context.Context, rc *RequestContext, clientID, responseType string) error {
	client, err := v.resolveClient(ctx, rc, clientID)
	if err != nil {
		return err
	}
	if responseType != domain.ResponseTypeCode && responseType != domain.ResponseTypeToken {
		return domain.ErrUnsupportedResponseType
	}
	if client.ResponseType != "" && client.ResponseType != responseType {
		return domain.ErrUnsupportedResponseType
	}
	return nil
}

// ValidateGrantType checks that grantType is one of the canonical four and
// that the client is shaped for it. client_credentials requires a bound
// resource owner, which is loaded onto rc; the password grant is recognized
// but refused for clients that already carry a bound user.
func (v *Validator) ValidateGrantType(ctx context.Context, rc *RequestContext, clientID, grantType string) error {
	client, err := v.resolveClient(ctx, rc, clientID)
	if err != nil {
		return err
	}
	switch grantType {
	case domain.GrantAuthorizationCode, domain.GrantRefreshToken:
		return nil
	case domain.GrantPassword:
		if client.UserID != nil {
			return domain.ErrUnsupportedGrantType
		}
		return nil
	case domain.GrantClientCredentials:
		if client.UserID == nil {
			return domain.ErrUnsupportedGrantType
		}
		user, err := v.store.FindUserByID(ctx, *client.UserID)
		if err != nil {
			return err
		}
		rc.User = user
		return nil
	default:
		return domain.ErrUnsupportedGrantType
	}
}

// SaveAuthorizationCode persists a new code for the client, stamped with the
// context's scopes and user and expiring CodeTTL from now.
func (v *Validator) SaveAuthorizationCode(ctx context.Context, rc *RequestContext, clientID, code string) error {
	client, err := v.resolveClient(ctx, rc, clientID)
	if err != nil {
		return err
	}
	ac := &domain.AuthorizationCode{
		ID:        v.genID.Generate(),
		ClientID:  client.ID,
		Scopes:    rc.Scopes,
		Code:      code,
		ExpiresAt: v.clock.Now().Add(v.cfg.CodeTTL),
	}
	if rc.User != nil {
		ac.UserID = &rc.User.ID
	}
	if err := v.store.CreateAuthorizationCode(ctx, ac); err != nil {
		return err
	}
	rc.Code = code
	return nil
}

// ValidateCode confirms the code belongs to the client and has not expired,
// narrows rc.Scopes to the intersection with the code's stored scopes, and
// loads the bound resource owner. Expired codes are refused but left stored.
func (v *Validator) ValidateCode(ctx context.Context, rc *RequestContext, clientID, code string) error {
	client, err := v.resolveClient(ctx, rc, clientID)
	if err != nil {
		return err
	}
	ac, err := v.store.FindAuthorizationCode(ctx, client.ID, code)
	if err != nil {
		return err
	}
	if v.clock.Now().After(ac.ExpiresAt) {
		return domain.ErrInvalidOrExpiredCode
	}
	if len(rc.Scopes) == 0 {
		rc.Scopes = ac.Scopes
	} else {
		rc.Scopes = scope.Intersect(rc.Scopes, ac.Scopes)
	}
	if ac.UserID != nil {
		user, err := v.store.FindUserByID(ctx, *ac.UserID)
		if err != nil {
			return err
		}
		rc.User = user
	}
	rc.Code = code
	return nil
}

// ConfirmRedirectURI re-checks at exchange time that uri matches a
// registered redirect URI of the code's client.
func (v *Validator) ConfirmRedirectURI(ctx context.Context, rc *RequestContext, clientID, code, uri string) error {
	client, err := v.resolveClient(ctx, rc, clientID)
	if err != nil {
		return err
	}
	if !client.HasRedirectURI(uri) {
		return domain.ErrInvalidRedirectURI
	}
	return nil
}

// TokenFields is the wire-level token payload SaveBearerToken persists.
type TokenFields struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	// Scope is the space-delimited granted scope set.
	Scope string
}

// SaveBearerToken persists the issued token for the context's client and
// user, and returns the client's default redirect URI. The client must have
// been resolved by an earlier checkpoint.
func (v *Validator) SaveBearerToken(ctx context.Context, rc *RequestContext, fields TokenFields) (string, error) {
	if rc.Client == nil {
		panic(fmt.Sprintf("validator: bearer token save without resolved client (client_id=%q)", rc.ClientID))
	}
	bt := &domain.BearerToken{
		ID:          v.genID.Generate(),
		ClientID:    rc.Client.ID,
		Scopes:      scope.Parse(fields.Scope),
		AccessToken: fields.AccessToken,
		ExpiresAt:   v.clock.Now().Add(time.Duration(fields.ExpiresIn) * time.Second),
	}
	if fields.RefreshToken != "" {
		bt.RefreshToken = &fields.RefreshToken
	}
	if rc.User != nil {
		bt.UserID = &rc.User.ID
	}
	if err := v.store.CreateBearerToken(ctx, bt); err != nil {
		return "", err
	}
	rc.AccessToken = fields.AccessToken
	return rc.Client.DefaultRedirectURI, nil
}

// InvalidateAuthorizationCode deletes the code, enforcing single use. A code
// another exchange already consumed reports ErrInvalidOrExpiredCode.
func (v *Validator) InvalidateAuthorizationCode(ctx context.Context, rc *RequestContext, clientID, code string) error {
	client, err := v.resolveClient(ctx, rc, clientID)
	if err != nil {
		return err
	}
	deleted, err := v.store.DeleteAuthorizationCode(ctx, client.ID, code)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrInvalidOrExpiredCode
	}
	return nil
}

// ValidateBearerToken authorizes a resource request: the token must exist,
// be unexpired, and cover at least one of the required scopes. On success the
// token's client, user and granted scopes are bound onto rc.
func (v *Validator) ValidateBearerToken(ctx context.Context, rc *RequestContext, accessToken string, required []string) error {
	bt, err := v.store.FindBearerTokenByAccessToken(ctx, accessToken)
	if err != nil {
		rc.ErrorMessage = "Bearer token not found."
		return err
	}
	if v.clock.Now().After(bt.ExpiresAt) {
		rc.ErrorMessage = "Bearer token is expired."
		return domain.ErrInvalidOrExpiredToken
	}
	if len(required) > 0 && !scope.HasAny(bt.Scopes, required) {
		rc.ErrorMessage = "Bearer token scope not valid."
		return domain.ErrInsufficientScope
	}
	client, err := v.store.FindClientByID(ctx, bt.ClientID)
	if err != nil {
		return err
	}
	rc.Client = client
	rc.ClientID = client.ClientID
	if bt.UserID != nil {
		user, err := v.store.FindUserByID(ctx, *bt.UserID)
		if err != nil {
			return err
		}
		rc.User = user
	}
	rc.Scopes = bt.Scopes
	rc.AccessToken = accessToken
	return nil
}

// OriginalScopes returns the scope set granted to the token the refresh
// token belongs to.
func (v *Validator) OriginalScopes(ctx context.Context, rc *RequestContext, refreshToken string) ([]string, error) {
	bt, err := v.store.FindBearerTokenByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	rc.RefreshToken = refreshToken
	return bt.Scopes, nil
}
