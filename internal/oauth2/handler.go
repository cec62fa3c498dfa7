// Package oauth2 exposes the authorization and token endpoints.
package oauth2

import (
	"bytes"
	"encoding/base64"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/authgate/internal/oauth2/domain"
	"github.com/smallbiznis/authgate/internal/oauth2/grant"
	"github.com/smallbiznis/authgate/internal/oauth2/scope"
	"go.uber.org/zap"
)

// Handler handles the OAuth2 provider endpoints.
type Handler struct {
	orchestrator *grant.Orchestrator
	log          *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(orchestrator *grant.Orchestrator, log *zap.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		log:          log.Named("oauth2.handler"),
	}
}

// RegisterRoutes mounts the provider endpoints.
func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.GET("/authorize", h.AuthorizeForm)
	r.POST("/authorize", h.Authorize)
	r.POST("/token", h.Token)
}

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize {{.ClientID}}</title></head>
<body>
<h1>{{.ClientID}} is requesting access</h1>
<form method="POST" action="/authorize">
{{range .Scopes}}<label><input type="checkbox" name="scopes" value="{{.}}" checked> {{.}}</label><br>
{{end}}<input type="hidden" name="client_id" value="{{.ClientID}}">
<input type="hidden" name="response_type" value="{{.ResponseType}}">
<input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
<input type="hidden" name="state" value="{{.State}}">
<input type="submit" value="Authorize">
</form>
</body>
</html>
`))

type consentPage struct {
	ClientID     string
	ResponseType string
	RedirectURI  string
	Scopes       []string
	State        string
}

// AuthorizeForm validates the authorization request and renders the consent
// form for the resource owner.
func (h *Handler) AuthorizeForm(c *gin.Context) {
	responseType := strings.TrimSpace(c.Query("response_type"))
	ticket, err := h.orchestrator.ValidateAuthorizationRequest(c.Request.Context(), grant.AuthorizeRequest{
		ClientID:     strings.TrimSpace(c.Query("client_id")),
		ResponseType: responseType,
		RedirectURI:  strings.TrimSpace(c.Query("redirect_uri")),
		Scopes:       scope.Parse(c.Query("scope")),
		State:        strings.TrimSpace(c.Query("state")),
	})
	if err != nil {
		status, code := mapAuthorizeError(err)
		writeOAuthError(c, status, code)
		return
	}

	var buf bytes.Buffer
	if err := consentTemplate.Execute(&buf, consentPage{
		ClientID:     ticket.ClientID,
		ResponseType: responseType,
		RedirectURI:  ticket.RedirectURI,
		Scopes:       ticket.Scopes,
		State:        ticket.State,
	}); err != nil {
		writeOAuthError(c, http.StatusInternalServerError, "server_error")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// Authorize completes a consent submission with a code redirect. A form that
// carries a grant_type is treated as a direct token request instead, so
// confidential clients can drive the whole flow against one endpoint.
func (h *Handler) Authorize(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		writeOAuthError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	if strings.TrimSpace(c.PostForm("grant_type")) != "" {
		h.Token(c)
		return
	}

	scopes := scope.Normalize(c.PostFormArray("scopes"))
	if len(scopes) == 0 {
		scopes = scope.Parse(c.PostForm("scope"))
	}

	result, err := h.orchestrator.Authorize(c.Request.Context(), grant.AuthorizeRequest{
		ClientID:     strings.TrimSpace(c.PostForm("client_id")),
		ResponseType: strings.TrimSpace(c.PostForm("response_type")),
		RedirectURI:  strings.TrimSpace(c.PostForm("redirect_uri")),
		Scopes:       scopes,
		State:        strings.TrimSpace(c.PostForm("state")),
	})
	if err != nil {
		status, code := mapAuthorizeError(err)
		writeOAuthError(c, status, code)
		return
	}

	redirectURL, err := appendAuthCode(result.RedirectURI, result.Code, result.State)
	if err != nil {
		writeOAuthError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	c.Redirect(http.StatusFound, redirectURL)
}

// Token handles POST /token for every supported grant type.
func (h *Handler) Token(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		writeOAuthError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	clientID := strings.TrimSpace(c.PostForm("client_id"))
	clientSecret := strings.TrimSpace(c.PostForm("client_secret"))

	basicID, basicSecret := parseBasicAuth(c)
	if basicID != "" {
		if clientID != "" && clientID != basicID {
			writeOAuthError(c, http.StatusUnauthorized, "invalid_client")
			return
		}
		clientID = basicID
		clientSecret = basicSecret
	}

	resp, err := h.orchestrator.Token(c.Request.Context(), grant.TokenRequest{
		GrantType:    strings.TrimSpace(c.PostForm("grant_type")),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         strings.TrimSpace(c.PostForm("code")),
		RedirectURI:  strings.TrimSpace(c.PostForm("redirect_uri")),
		Scope:        strings.TrimSpace(c.PostForm("scope")),
		RefreshToken: strings.TrimSpace(c.PostForm("refresh_token")),
	})
	if err != nil {
		status, code := mapTokenError(err)
		writeOAuthError(c, status, code)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(http.StatusOK, resp)
}

func parseBasicAuth(c *gin.Context) (string, string) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Basic") {
		return "", ""
	}
	decoded, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ""
	}
	creds := strings.SplitN(string(decoded), ":", 2)
	if len(creds) != 2 {
		return "", ""
	}
	return creds[0], creds[1]
}

func appendAuthCode(rawRedirectURI, code, state string) (string, error) {
	redirectURL, err := url.Parse(rawRedirectURI)
	if err != nil {
		return "", err
	}
	query := redirectURL.Query()
	query.Set("code", code)
	if state != "" {
		query.Set("state", state)
	}
	redirectURL.RawQuery = query.Encode()
	return redirectURL.String(), nil
}

func writeOAuthError(c *gin.Context, status int, code string) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(status, gin.H{"error": code})
}

func mapAuthorizeError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrClientNotFound), errors.Is(err, domain.ErrInvalidClient):
		return http.StatusUnauthorized, "invalid_client"
	case errors.Is(err, domain.ErrUnsupportedResponseType):
		return http.StatusBadRequest, "unsupported_grant_type"
	case errors.Is(err, domain.ErrInvalidRedirectURI):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrInvalidScope):
		return http.StatusBadRequest, "invalid_scope"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func mapTokenError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrClientNotFound), errors.Is(err, domain.ErrInvalidClient):
		return http.StatusUnauthorized, "invalid_client"
	case errors.Is(err, domain.ErrUnsupportedGrantType), errors.Is(err, domain.ErrUnsupportedResponseType):
		return http.StatusBadRequest, "unsupported_grant_type"
	case errors.Is(err, domain.ErrInvalidRedirectURI),
		errors.Is(err, domain.ErrInvalidOrExpiredCode),
		errors.Is(err, domain.ErrInvalidOrExpiredToken):
		return http.StatusBadRequest, "invalid_grant"
	case errors.Is(err, domain.ErrInvalidScope):
		return http.StatusBadRequest, "invalid_scope"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
