package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/identity-gateway/internal/directory"
	"github.com/Skotchmaster/identity-gateway/internal/events"
	"github.com/Skotchmaster/identity-gateway/internal/hash"
	"github.com/Skotchmaster/identity-gateway/internal/logging"
	authmw "github.com/Skotchmaster/identity-gateway/internal/middleware/auth"
	"github.com/Skotchmaster/identity-gateway/internal/models"
	"github.com/Skotchmaster/identity-gateway/internal/resolver"
)

type AuthHandler struct {
	Resolver *resolver.Resolver
	Events   *events.Producer
}

func (h *AuthHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Phone    string `json:"phone"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	if _, err := h.Resolver.Dir.FindByEmail(ctx, req.Email); err == nil {
		l.Warn("register_error", "status", 409, "reason", "email already registered")
		return echo.NewHTTPError(http.StatusConflict, "email already registered")
	} else if !errors.Is(err, directory.ErrNotFound) {
		l.Error("register_error", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	pwHash, err := hash.HashPassword(req.Password)
	if err != nil {
		l.Error("register_error", "status", 500, "reason", "cannot hash the password", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	user := models.User{
		Email:        req.Email,
		Phone:        req.Phone,
		PasswordHash: pwHash,
		Role:         models.RoleUser,
	}
	if err := h.Resolver.Dir.Create(ctx, &user); err != nil {
		l.Error("register_error", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	h.Events.Emit(ctx, events.TypeUserRegistered, user.ID, user.Email)
	l.Info("register_successful", "user_id", user.ID)

	return c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	user, err := h.Resolver.Dir.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			l.Warn("login_failed", "status", 401, "reason", "unknown email")
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
		}
		l.Error("login_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	if !hash.CheckPassword(user.PasswordHash, req.Password) {
		l.Warn("login_failed", "status", 401, "reason", "wrong password")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
	}

	access, refresh, err := h.Resolver.MintSession(ctx, user)
	if err != nil {
		l.Error("login_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	h.Events.Emit(ctx, events.TypeUserLoggedIn, user.ID, user.Email)
	l.Info("login_successful", "user_id", user.ID)

	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  access,
		"refresh_token": refresh,
		"is_admin":      user.Role == models.RoleAdmin,
	})
}

// FederatedSession is the explicit registration/materialization operation: a
// valid federated token creates the identity row when absent, then mints and
// persists a fresh pair exposed via response headers.
func (h *AuthHandler) FederatedSession(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "federated_session")

	var req struct {
		FirebaseToken string `json:"firebaseToken"`
		Code          string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	raw := req.FirebaseToken
	if raw == "" {
		raw = c.Request().Header.Get(echo.HeaderAuthorization)
	}
	if raw == "" && req.Code != "" {
		exchanged, err := h.exchangeCode(ctx, req.Code)
		if err != nil {
			l.Warn("federated_exchange_failed", "status", 401, "error", err)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization code")
		}
		raw = exchanged
	}
	if raw == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing federated token")
	}

	claims, err := h.Resolver.Federated.Verify(ctx, raw)
	if err != nil {
		l.Warn("federated_verify_failed", "status", 401, "error", err)
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid federated token")
	}

	user, err := h.Resolver.Dir.FindByEmail(ctx, claims.Email)
	if errors.Is(err, directory.ErrNotFound) {
		user = &models.User{
			Email:        claims.Email,
			FederatedUID: claims.UID,
			Role:         models.RoleUser,
		}
		if err := h.Resolver.Dir.Create(ctx, user); err != nil {
			l.Error("federated_create_failed", "status", 500, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
		h.Events.Emit(ctx, events.TypeUserRegistered, user.ID, user.Email)
	} else if err != nil {
		l.Error("federated_lookup_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	// first federated match of a locally registered identity links the UID
	if user.FederatedUID == "" && claims.UID != "" {
		if err := h.Resolver.Dir.SetFederatedUID(ctx, user.ID, claims.UID); err != nil {
			l.Error("federated_link_failed", "status", 500, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
		user.FederatedUID = claims.UID
	}

	access, refresh, err := h.Resolver.MintSession(ctx, user)
	if err != nil {
		l.Error("federated_mint_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	c.Response().Header().Set(authmw.HeaderAccessToken, access)
	c.Response().Header().Set(authmw.HeaderRefreshToken, refresh)

	h.Events.Emit(ctx, events.TypeFederatedLogin, user.ID, user.Email)
	l.Info("federated_session_created", "user_id", user.ID)

	return c.JSON(http.StatusOK, resolver.Project(user))
}

// Logout clears the single refresh-token slot, invalidating the rotation
// chain. The access token stays valid until it expires.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	caller := authmw.CallerFromContext(c)
	if caller == nil || caller.Ephemeral {
		return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
	}

	if err := h.Resolver.Dir.SetRefreshToken(ctx, caller.ID, ""); err != nil && !errors.Is(err, directory.ErrNotFound) {
		l.Error("logout_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	l.Info("logout_successful", "user_id", caller.ID)
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

func (h *AuthHandler) Me(c echo.Context) error {
	caller := authmw.CallerFromContext(c)
	return c.JSON(http.StatusOK, echo.Map{
		"caller": caller,
		"admin":  authmw.AdminFromContext(c) != nil,
	})
}

// MeOptional tolerates anonymous callers; a nil caller context means the
// request carried no usable credentials.
func (h *AuthHandler) MeOptional(c echo.Context) error {
	caller := authmw.CallerFromContext(c)
	if caller == nil {
		return c.JSON(http.StatusOK, echo.Map{"anonymous": true})
	}
	return c.JSON(http.StatusOK, echo.Map{"anonymous": false, "caller": caller})
}

func (h *AuthHandler) exchangeCode(ctx context.Context, code string) (string, error) {
	exchanger, ok := h.Resolver.Federated.(interface {
		ExchangeCode(ctx context.Context, code string) (string, error)
	})
	if !ok {
		return "", errors.New("code exchange not supported")
	}
	return exchanger.ExchangeCode(ctx, code)
}
