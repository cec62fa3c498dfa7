// Package guard protects resource endpoints with bearer token checks.
package guard

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/authgate/internal/oauth2/validator"
	obscontext "github.com/smallbiznis/authgate/internal/observability/context"
	"github.com/smallbiznis/authgate/internal/observability/metrics"
	"go.uber.org/zap"
)

// Keys under which the guard exposes the authenticated principal to
// downstream handlers.
const (
	ContextClientKey = "oauth2.client"
	ContextUserKey   = "oauth2.user"
	ContextScopesKey = "oauth2.scopes"
)

// ScopePolicy yields the scopes a request must satisfy. The token needs at
// least one of them; an empty result admits any valid token.
type ScopePolicy interface {
	RequiredScopes(r *http.Request) []string
}

// StaticScopes is a fixed required-scope set.
type StaticScopes []string

// RequiredScopes implements ScopePolicy.
func (s StaticScopes) RequiredScopes(*http.Request) []string { return s }

// ScopeFunc derives the required scopes from the request itself.
type ScopeFunc func(r *http.Request) []string

// RequiredScopes implements ScopePolicy.
func (f ScopeFunc) RequiredScopes(r *http.Request) []string { return f(r) }

// Guard authorizes resource requests against stored bearer tokens.
type Guard struct {
	v       *validator.Validator
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New builds a Guard.
func New(v *validator.Validator, m *metrics.Metrics, log *zap.Logger) *Guard {
	return &Guard{v: v, metrics: m, log: log.Named("oauth2.guard")}
}

// RequireScopes returns middleware that admits requests carrying a valid
// bearer token covering at least one scope the policy requires. Every
// refusal, whatever its cause, produces the same forbidden response.
func (g *Guard) RequireScopes(policy ScopePolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		accessToken, ok := bearerToken(c.Request)
		if !ok {
			g.metrics.RecordGuardDecision(ctx, false)
			forbidden(c)
			return
		}

		rc := &validator.RequestContext{}
		if err := g.v.ValidateBearerToken(ctx, rc, accessToken, policy.RequiredScopes(c.Request)); err != nil {
			g.metrics.RecordGuardDecision(ctx, false)
			g.log.Debug("bearer token rejected",
				zap.String("path", c.FullPath()),
				zap.String("detail", rc.ErrorMessage),
				zap.Error(err),
			)
			forbidden(c)
			return
		}

		c.Request = c.Request.WithContext(obscontext.WithClientID(ctx, rc.Client.ClientID))
		c.Set(ContextClientKey, rc.Client)
		if rc.User != nil {
			c.Set(ContextUserKey, rc.User)
		}
		c.Set(ContextScopesKey, rc.Scopes)
		g.metrics.RecordGuardDecision(ctx, true)
		c.Next()
	}
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func forbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
}
