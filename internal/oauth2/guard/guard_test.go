package guard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/authgate/internal/clock"
	"github.com/smallbiznis/authgate/internal/oauth2/domain"
	"github.com/smallbiznis/authgate/internal/oauth2/repository"
	"github.com/smallbiznis/authgate/internal/oauth2/validator"
	"github.com/smallbiznis/authgate/pkg/db"
	"go.uber.org/zap"
)

func newGuardedRouter(t *testing.T) (*gin.Engine, *clock.FakeClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	user := &domain.User{ID: node.Generate(), Username: "testuser", Email: "t@example.com", IsActive: true}
	if err := dbConn.Create(user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	client := &domain.Client{
		ID:                 node.Generate(),
		ClientID:           "testclient",
		UserID:             &user.ID,
		GrantType:          domain.GrantClientCredentials,
		Scopes:             []string{"read", "write"},
		DefaultRedirectURI: "https://client.example.com/callback",
	}
	if err := dbConn.Create(client).Error; err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}

	token := &domain.BearerToken{
		ID:          node.Generate(),
		ClientID:    client.ID,
		UserID:      &user.ID,
		Scopes:      []string{"read"},
		AccessToken: "valid-token",
		ExpiresAt:   fake.Now().Add(time.Hour),
	}
	if err := dbConn.Create(token).Error; err != nil {
		t.Fatalf("failed to seed token: %v", err)
	}

	store := repository.New(dbConn)
	v := validator.New(validator.Config{CodeTTL: time.Hour}, store, fake, node, zap.NewNop())
	g := New(v, nil, zap.NewNop())

	r := gin.New()
	r.GET("/ping", g.RequireScopes(StaticScopes{"read", "write"}), func(c *gin.Context) {
		client := c.MustGet(ContextClientKey).(*domain.Client)
		c.JSON(http.StatusOK, gin.H{"res": "pong", "client_id": client.ClientID})
	})
	r.GET("/dynamic", g.RequireScopes(ScopeFunc(func(r *http.Request) []string {
		return []string{r.URL.Query().Get("need")}
	})), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"res": "ok"})
	})
	return r, fake
}

func doGet(t *testing.T, r *gin.Engine, path, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGuardAllowsOverlappingScope(t *testing.T) {
	r, _ := newGuardedRouter(t)

	rec := doGet(t, r, "/ping", "Bearer valid-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["res"] != "pong" || body["client_id"] != "testclient" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestGuardForbidsWithoutToken(t *testing.T) {
	r, _ := newGuardedRouter(t)

	for _, authorization := range []string{"", "Bearer", "Basic dXNlcjpwYXNz", "Bearer   "} {
		rec := doGet(t, r, "/ping", authorization)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("auth %q: expected 403, got %d", authorization, rec.Code)
		}
		if rec.Body.String() != `{"error":"forbidden"}` {
			t.Fatalf("auth %q: unexpected body %q", authorization, rec.Body.String())
		}
	}
}

func TestGuardForbidsUnknownToken(t *testing.T) {
	r, _ := newGuardedRouter(t)

	rec := doGet(t, r, "/ping", "Bearer ghost")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGuardForbidsExpiredToken(t *testing.T) {
	r, fake := newGuardedRouter(t)

	fake.Advance(2 * time.Hour)

	rec := doGet(t, r, "/ping", "Bearer valid-token")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for expired token, got %d", rec.Code)
	}
}

func TestGuardScopeFuncPolicy(t *testing.T) {
	r, _ := newGuardedRouter(t)

	rec := doGet(t, r, "/dynamic?need=read", "Bearer valid-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doGet(t, r, "/dynamic?need=billing", "Bearer valid-token")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disjoint scope, got %d", rec.Code)
	}
}
