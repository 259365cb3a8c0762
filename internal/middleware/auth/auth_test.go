package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/identity-gateway/internal/directory"
	"github.com/Skotchmaster/identity-gateway/internal/federated"
	"github.com/Skotchmaster/identity-gateway/internal/models"
	"github.com/Skotchmaster/identity-gateway/internal/resolver"
	"github.com/Skotchmaster/identity-gateway/internal/tokens"
)

type stubVerifier struct {
	claims *federated.Claims
	err    error
}

func (s *stubVerifier) Verify(context.Context, string) (*federated.Claims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.claims, nil
}

type recordedEvent struct {
	eventType string
	userID    string
	email     string
}

type stubEmitter struct {
	emitted []recordedEvent
}

func (s *stubEmitter) Emit(_ context.Context, eventType, userID, email string) error {
	s.emitted = append(s.emitted, recordedEvent{eventType: eventType, userID: userID, email: email})
	return nil
}

type mwEnv struct {
	e       *echo.Echo
	mw      *Middleware
	dir     *directory.GormDirectory
	codec   *tokens.Codec
	stub    *stubVerifier
	emitter *stubEmitter
}

func newMWEnv(t *testing.T) *mwEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	dir := directory.NewGormDirectory(db)
	codec := tokens.New([]byte("test-access"), []byte("test-refresh"), time.Hour, 24*time.Hour)
	stub := &stubVerifier{}
	emitter := &stubEmitter{}

	return &mwEnv{
		e:       echo.New(),
		mw:      NewMiddleware(resolver.New(codec, dir, stub), emitter, nil),
		dir:     dir,
		codec:   codec,
		stub:    stub,
		emitter: emitter,
	}
}

func okHandler(c echo.Context) error {
	caller := CallerFromContext(c)
	return c.JSON(http.StatusOK, echo.Map{"caller": caller})
}

func (env *mwEnv) do(t *testing.T, mw echo.MiddlewareFunc, authz string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authz != "" {
		req.Header.Set(echo.HeaderAuthorization, authz)
	}
	rec := httptest.NewRecorder()
	c := env.e.NewContext(req, rec)

	err := mw(okHandler)(c)
	require.NoError(t, err)
	return rec
}

func (env *mwEnv) seedUser(t *testing.T, email, role string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Role: role}
	require.NoError(t, env.dir.Create(context.Background(), u))
	return u
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequireAuth_RejectionEnvelope(t *testing.T) {
	env := newMWEnv(t)

	rec := env.do(t, env.mw.RequireAuth, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.Nil(t, body["data"])
	assert.Equal(t, resolver.CodeUnauthenticated, body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestRequireAuth_ValidTokenAttachesCaller(t *testing.T) {
	env := newMWEnv(t)
	u := env.seedUser(t, "a@x.com", models.RoleUser)

	access, err := env.codec.SignAccess(tokens.Claims{UserID: u.ID, Email: u.Email})
	require.NoError(t, err)

	rec := env.do(t, env.mw.RequireAuth, "Bearer "+access)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), u.ID)
}

func TestRequireAuth_RepairResponseIs426(t *testing.T) {
	env := newMWEnv(t)
	ctx := context.Background()
	u := env.seedUser(t, "a@x.com", models.RoleUser)

	refresh, err := env.codec.SignRefresh(tokens.Claims{UserID: u.ID, Email: u.Email})
	require.NoError(t, err)
	require.NoError(t, env.dir.SetRefreshToken(ctx, u.ID, refresh))

	expired, err := tokens.New([]byte("test-access"), []byte("test-refresh"), -time.Minute, 24*time.Hour).
		SignAccess(tokens.Claims{UserID: u.ID, Email: u.Email, RefreshToken: refresh})
	require.NoError(t, err)

	rec := env.do(t, env.mw.RequireAuth, "Bearer "+expired)
	require.Equal(t, http.StatusUpgradeRequired, rec.Code)

	body := decodeBody(t, rec)
	newAccess, _ := body["accessToken"].(string)
	require.NotEmpty(t, newAccess)
	assert.NotEmpty(t, body["message"])

	// the instruction is honored by retrying with the fresh token
	rec = env.do(t, env.mw.RequireAuth, "Bearer "+newAccess)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth_RotationEventIsAttributed(t *testing.T) {
	env := newMWEnv(t)
	ctx := context.Background()
	u := env.seedUser(t, "a@x.com", models.RoleUser)

	refresh, err := env.codec.SignRefresh(tokens.Claims{UserID: u.ID, Email: u.Email})
	require.NoError(t, err)
	require.NoError(t, env.dir.SetRefreshToken(ctx, u.ID, refresh))

	expired, err := tokens.New([]byte("test-access"), []byte("test-refresh"), -time.Minute, 24*time.Hour).
		SignAccess(tokens.Claims{UserID: u.ID, Email: u.Email, RefreshToken: refresh})
	require.NoError(t, err)

	rec := env.do(t, env.mw.RequireAuth, "Bearer "+expired)
	require.Equal(t, http.StatusUpgradeRequired, rec.Code)

	require.Len(t, env.emitter.emitted, 1)
	evt := env.emitter.emitted[0]
	assert.Equal(t, "token_rotated", evt.eventType)
	assert.Equal(t, u.ID, evt.userID)
	assert.Equal(t, u.Email, evt.email)
}

func TestRequireAuth_FederatedRotationHeaders(t *testing.T) {
	env := newMWEnv(t)
	u := env.seedUser(t, "fed@x.com", models.RoleUser)
	env.stub.claims = &federated.Claims{Email: u.Email, UID: "fed-1"}

	rec := env.do(t, env.mw.RequireAuth, "opaque-federated-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderAccessToken))
	assert.NotEmpty(t, rec.Header().Get(HeaderRefreshToken))
}

func TestRequireAdmin(t *testing.T) {
	env := newMWEnv(t)
	admin := env.seedUser(t, "root@x.com", models.RoleAdmin)
	user := env.seedUser(t, "user@x.com", models.RoleUser)

	chain := func(next echo.HandlerFunc) echo.HandlerFunc {
		return env.mw.RequireAuth(env.mw.RequireAdmin(next))
	}

	adminAccess, err := env.codec.SignAccess(tokens.Claims{UserID: admin.ID, Email: admin.Email})
	require.NoError(t, err)
	rec := env.do(t, chain, "Bearer "+adminAccess)
	assert.Equal(t, http.StatusOK, rec.Code)

	userAccess, err := env.codec.SignAccess(tokens.Claims{UserID: user.ID, Email: user.Email})
	require.NoError(t, err)
	rec = env.do(t, chain, "Bearer "+userAccess)
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "FORBIDDEN", body["error"])
}

func TestOptionalAuth_AnonymousContinues(t *testing.T) {
	env := newMWEnv(t)
	env.stub.err = errors.New("nope")

	rec := env.do(t, env.mw.OptionalAuth, "broken-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "null")
}

func TestFederatedSession_BodyTokenCarrier(t *testing.T) {
	env := newMWEnv(t)
	u := env.seedUser(t, "fed@x.com", models.RoleUser)
	env.stub.claims = &federated.Claims{Email: u.Email, UID: "fed-1"}

	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"firebaseToken":"raw-token"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := env.e.NewContext(req, rec)

	require.NoError(t, env.mw.FederatedSession(okHandler)(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderAccessToken))
}

func TestRequireNotBanned(t *testing.T) {
	env := newMWEnv(t)
	until := time.Now().Add(time.Hour)
	banned := &models.User{Email: "bad@x.com", Role: models.RoleUser, Banned: true, BanEndsAt: &until, BanReason: "abuse"}
	require.NoError(t, env.dir.Create(context.Background(), banned))

	access, err := env.codec.SignAccess(tokens.Claims{UserID: banned.ID, Email: banned.Email})
	require.NoError(t, err)

	chain := func(next echo.HandlerFunc) echo.HandlerFunc {
		return env.mw.RequireAuth(env.mw.RequireNotBanned(next))
	}
	rec := env.do(t, chain, "Bearer "+access)
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, resolver.CodeIdentityBanned, body["error"])
	assert.Contains(t, body["message"], "abuse")
}

func TestRequireNotBanned_ExpiredBanPasses(t *testing.T) {
	env := newMWEnv(t)
	until := time.Now().Add(-time.Hour)
	reformed := &models.User{Email: "ok@x.com", Role: models.RoleUser, Banned: true, BanEndsAt: &until}
	require.NoError(t, env.dir.Create(context.Background(), reformed))

	access, err := env.codec.SignAccess(tokens.Claims{UserID: reformed.ID, Email: reformed.Email})
	require.NoError(t, err)

	chain := func(next echo.HandlerFunc) echo.HandlerFunc {
		return env.mw.RequireAuth(env.mw.RequireNotBanned(next))
	}
	rec := env.do(t, chain, "Bearer "+access)
	assert.Equal(t, http.StatusOK, rec.Code)
}
