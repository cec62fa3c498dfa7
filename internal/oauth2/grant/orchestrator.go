// Package grant sequences the protocol checkpoints into the authorization
// and token issuance flows.
package grant

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/authgate/internal/config"
	"github.com/smallbiznis/authgate/internal/oauth2/domain"
	"github.com/smallbiznis/authgate/internal/oauth2/scope"
	"github.com/smallbiznis/authgate/internal/oauth2/validator"
	"github.com/smallbiznis/authgate/internal/observability/metrics"
	"github.com/smallbiznis/authgate/internal/token"
	"github.com/smallbiznis/authgate/pkg/db"
	"go.uber.org/zap"
)

// Config carries the orchestrator tunables.
type Config struct {
	// AccessTokenTTL is the lifetime of issued access tokens.
	AccessTokenTTL time.Duration
}

// NewConfig derives the orchestrator configuration from the application
// config.
func NewConfig(cfg config.Config) Config {
	return Config{AccessTokenTTL: cfg.AccessTokenTTL}
}

// Orchestrator drives the grant flows on top of the validator checkpoints.
type Orchestrator struct {
	cfg     Config
	v       *validator.Validator
	store   domain.Store
	tokens  token.Generator
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New builds an Orchestrator.
func New(cfg Config, v *validator.Validator, store domain.Store, tokens token.Generator, m *metrics.Metrics, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		v:       v,
		store:   store,
		tokens:  tokens,
		metrics: m,
		log:     log.Named("oauth2.grant"),
	}
}

// AuthorizeRequest is a parsed authorization endpoint request.
type AuthorizeRequest struct {
	ClientID     string
	ResponseType string
	RedirectURI  string
	Scopes       []string
	State        string
}

// AuthorizationTicket is a fully validated authorization request, ready for
// consent rendering or code issuance.
type AuthorizationTicket struct {
	ClientID    string
	RedirectURI string
	Scopes      []string
	State       string
}

// AuthorizeResult carries an issued code and the redirect target it must be
// delivered to.
type AuthorizeResult struct {
	Code        string
	RedirectURI string
	State       string
}

// ValidateAuthorizationRequest runs the authorization-endpoint checkpoints:
// client lookup, response type, redirect URI and scope negotiation. Requests
// that omit the redirect URI or scopes fall back to the client's defaults.
func (o *Orchestrator) ValidateAuthorizationRequest(ctx context.Context, req AuthorizeRequest) (*AuthorizationTicket, error) {
	if req.ClientID == "" {
		return nil, domain.ErrClientNotFound
	}

	rc := &validator.RequestContext{ClientID: req.ClientID, State: req.State}
	if err := o.v.ValidateClientID(ctx, rc, req.ClientID); err != nil {
		return nil, err
	}
	if err := o.v.ValidateResponseType(ctx, rc, req.ClientID, req.ResponseType); err != nil {
		return nil, err
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		uri, err := o.v.DefaultRedirectURI(ctx, rc, req.ClientID)
		if err != nil {
			return nil, err
		}
		redirectURI = uri
	} else if err := o.v.ValidateRedirectURI(ctx, rc, req.ClientID, redirectURI); err != nil {
		return nil, err
	}

	if len(req.Scopes) == 0 {
		scopes, err := o.v.DefaultScopes(ctx, rc, req.ClientID)
		if err != nil {
			return nil, err
		}
		rc.Scopes = scopes
	} else if err := o.v.ValidateScopes(ctx, rc, req.ClientID, req.Scopes); err != nil {
		return nil, err
	}

	return &AuthorizationTicket{
		ClientID:    rc.ClientID,
		RedirectURI: redirectURI,
		Scopes:      rc.Scopes,
		State:       req.State,
	}, nil
}

// Authorize validates the request and issues a single-use authorization
// code bound to the granted scopes.
func (o *Orchestrator) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	ticket, err := o.ValidateAuthorizationRequest(ctx, req)
	if err != nil {
		o.metrics.RecordGrantFailure(ctx, domain.GrantAuthorizationCode, failureReason(err))
		return nil, err
	}

	rc := &validator.RequestContext{
		ClientID: ticket.ClientID,
		Scopes:   ticket.Scopes,
		State:    ticket.State,
	}
	code, err := o.saveCodeRetrying(ctx, rc)
	if err != nil {
		o.metrics.RecordGrantFailure(ctx, domain.GrantAuthorizationCode, "storage")
		return nil, err
	}

	o.metrics.RecordCodeIssued(ctx)
	o.log.Info("authorization code issued",
		zap.String("client_id", ticket.ClientID),
		zap.Strings("scopes", ticket.Scopes),
	)
	return &AuthorizeResult{Code: code, RedirectURI: ticket.RedirectURI, State: ticket.State}, nil
}

// saveCodeRetrying persists a fresh code, regenerating once if the random
// value collides with a stored one.
func (o *Orchestrator) saveCodeRetrying(ctx context.Context, rc *validator.RequestContext) (string, error) {
	for attempt := 0; ; attempt++ {
		code, err := o.tokens.NewToken()
		if err != nil {
			return "", err
		}
		err = o.v.SaveAuthorizationCode(ctx, rc, rc.ClientID, code)
		if err == nil {
			return code, nil
		}
		if attempt == 0 && db.IsDuplicateKeyErr(err) {
			o.log.Warn("authorization code collision, regenerating")
			continue
		}
		return "", err
	}
}

// TokenRequest is a parsed token endpoint request.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	Scope        string
	RefreshToken string
}

// TokenResponse is the success payload of the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Token dispatches a token request to its grant flow.
func (o *Orchestrator) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	var (
		resp *TokenResponse
		err  error
	)
	switch req.GrantType {
	case domain.GrantAuthorizationCode:
		resp, err = o.exchangeAuthorizationCode(ctx, req)
	case domain.GrantClientCredentials:
		resp, err = o.clientCredentials(ctx, req)
	case domain.GrantRefreshToken:
		resp, err = o.refreshToken(ctx, req)
	default:
		err = domain.ErrUnsupportedGrantType
	}
	if err != nil {
		o.metrics.RecordGrantFailure(ctx, req.GrantType, failureReason(err))
		return nil, err
	}
	o.metrics.RecordTokenIssued(ctx, req.GrantType)
	return resp, nil
}

// exchangeAuthorizationCode swaps a code for a bearer token. Token insert
// and code deletion share one transaction so a concurrent exchange of the
// same code either wins fully or leaves no trace.
func (o *Orchestrator) exchangeAuthorizationCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	rc := &validator.RequestContext{ClientID: req.ClientID}
	if err := o.v.AuthenticateClient(ctx, rc, req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}
	if err := o.v.ValidateGrantType(ctx, rc, req.ClientID, domain.GrantAuthorizationCode); err != nil {
		return nil, err
	}
	rc.Scopes = scope.Parse(req.Scope)

	var resp *TokenResponse
	err := o.store.Transaction(ctx, func(txStore domain.Store) error {
		tv := o.v.WithStore(txStore)
		if err := tv.ValidateCode(ctx, rc, req.ClientID, req.Code); err != nil {
			return err
		}
		if err := tv.ConfirmRedirectURI(ctx, rc, req.ClientID, req.Code, req.RedirectURI); err != nil {
			return err
		}
		r, err := o.issueToken(ctx, tv, rc, rc.Scopes, true)
		if err != nil {
			return err
		}
		if err := tv.InvalidateAuthorizationCode(ctx, rc, req.ClientID, req.Code); err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.log.Info("authorization code exchanged",
		zap.String("client_id", rc.ClientID),
		zap.String("scope", resp.Scope),
	)
	return resp, nil
}

// clientCredentials issues a token directly to a client acting as its bound
// resource owner. No refresh token is attached.
func (o *Orchestrator) clientCredentials(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	rc := &validator.RequestContext{ClientID: req.ClientID}
	if err := o.v.AuthenticateClient(ctx, rc, req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}
	if err := o.v.ValidateGrantType(ctx, rc, req.ClientID, domain.GrantClientCredentials); err != nil {
		return nil, err
	}

	requested := scope.Parse(req.Scope)
	if len(requested) == 0 {
		scopes, err := o.v.DefaultScopes(ctx, rc, req.ClientID)
		if err != nil {
			return nil, err
		}
		rc.Scopes = scopes
	} else if err := o.v.ValidateScopes(ctx, rc, req.ClientID, requested); err != nil {
		return nil, err
	}

	resp, err := o.issueToken(ctx, o.v, rc, rc.Scopes, false)
	if err != nil {
		return nil, err
	}

	o.log.Info("client credentials token issued",
		zap.String("client_id", rc.ClientID),
		zap.String("scope", resp.Scope),
	)
	return resp, nil
}

// refreshToken issues a replacement token from a refresh token. The
// superseded row is left in place. A narrower scope may be requested;
// expanding past the original grant is refused.
func (o *Orchestrator) refreshToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	rc := &validator.RequestContext{ClientID: req.ClientID}
	if err := o.v.AuthenticateClient(ctx, rc, req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}
	if err := o.v.ValidateGrantType(ctx, rc, req.ClientID, domain.GrantRefreshToken); err != nil {
		return nil, err
	}

	prev, err := o.store.FindBearerTokenByRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	if prev.ClientID != rc.Client.ID {
		return nil, domain.ErrInvalidOrExpiredToken
	}

	requested := scope.Parse(req.Scope)
	switch {
	case len(requested) == 0:
		rc.Scopes = prev.Scopes
	case !scope.Subset(requested, prev.Scopes):
		return nil, domain.ErrInvalidScope
	default:
		rc.Scopes = requested
	}

	if prev.UserID != nil {
		user, err := o.store.FindUserByID(ctx, *prev.UserID)
		if err != nil {
			return nil, err
		}
		rc.User = user
	}

	resp, err := o.issueToken(ctx, o.v, rc, rc.Scopes, true)
	if err != nil {
		return nil, err
	}

	o.log.Info("token refreshed",
		zap.String("client_id", rc.ClientID),
		zap.String("scope", resp.Scope),
	)
	return resp, nil
}

// issueToken generates and persists a bearer token for the context's client
// and user. A duplicate-key collision on the random values regenerates once.
func (o *Orchestrator) issueToken(ctx context.Context, tv *validator.Validator, rc *validator.RequestContext, scopes []string, withRefresh bool) (*TokenResponse, error) {
	for attempt := 0; ; attempt++ {
		access, err := o.tokens.NewToken()
		if err != nil {
			return nil, err
		}
		var refresh string
		if withRefresh {
			if refresh, err = o.tokens.NewToken(); err != nil {
				return nil, err
			}
		}

		fields := validator.TokenFields{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    "Bearer",
			ExpiresIn:    int(o.cfg.AccessTokenTTL.Seconds()),
			Scope:        scope.Join(scopes),
		}
		if _, err := tv.SaveBearerToken(ctx, rc, fields); err != nil {
			if attempt == 0 && db.IsDuplicateKeyErr(err) {
				o.log.Warn("token collision, regenerating")
				continue
			}
			return nil, err
		}

		return &TokenResponse{
			AccessToken:  access,
			TokenType:    fields.TokenType,
			ExpiresIn:    fields.ExpiresIn,
			Scope:        fields.Scope,
			RefreshToken: refresh,
		}, nil
	}
}

// failureReason collapses a checkpoint error into a low-cardinality metric
// label.
func failureReason(err error) string {
	if err == nil {
		return "none"
	}
	switch {
	case isAny(err, domain.ErrClientNotFound, domain.ErrInvalidClient):
		return "client"
	case isAny(err, domain.ErrUnsupportedGrantType, domain.ErrUnsupportedResponseType):
		return "unsupported"
	case isAny(err, domain.ErrInvalidRedirectURI):
		return "redirect_uri"
	case isAny(err, domain.ErrInvalidScope, domain.ErrInsufficientScope):
		return "scope"
	case isAny(err, domain.ErrInvalidOrExpiredCode):
		return "code"
	case isAny(err, domain.ErrInvalidOrExpiredToken):
		return "token"
	default:
		return "internal"
	}
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
