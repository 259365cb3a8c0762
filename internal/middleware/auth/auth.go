package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/identity-gateway/internal/audit"
	"github.com/Skotchmaster/identity-gateway/internal/events"
	"github.com/Skotchmaster/identity-gateway/internal/logging"
	"github.com/Skotchmaster/identity-gateway/internal/resolver"
)

const (
	callerContextKey = "callerContext"
	adminContextKey  = "adminContext"

	HeaderAccessToken  = "X-Access-Token"
	HeaderRefreshToken = "X-Refresh-Token"
)

// Middleware translates resolver outcomes into HTTP: attached caller context,
// 426 repair responses, or the uniform rejection envelope.
type Middleware struct {
	Resolver *resolver.Resolver
	Events   events.Emitter
	Audit    *audit.Recorder
}

func NewMiddleware(r *resolver.Resolver, emitter events.Emitter, recorder *audit.Recorder) *Middleware {
	return &Middleware{Resolver: r, Events: emitter, Audit: recorder}
}

// CallerFromContext returns the caller attached by the middleware, or nil when
// the request is anonymous.
func CallerFromContext(c echo.Context) *resolver.CallerContext {
	if v, ok := c.Get(callerContextKey).(*resolver.CallerContext); ok {
		return v
	}
	return nil
}

func AdminFromContext(c echo.Context) *resolver.CallerContext {
	if v, ok := c.Get(adminContextKey).(*resolver.CallerContext); ok {
		return v
	}
	return nil
}

type envelope struct {
	Status  int    `json:"status"`
	Data    any    `json:"data"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		res, err := m.Resolver.Resolve(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return m.reject(c, err)
		}
		return m.accept(c, res, next)
	}
}

// RequireAdmin assumes RequireAuth ran earlier in the chain.
func (m *Middleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if AdminFromContext(c) == nil {
			return c.JSON(http.StatusForbidden, envelope{
				Status:  http.StatusForbidden,
				Data:    nil,
				Error:   "FORBIDDEN",
				Message: "not enough rights",
			})
		}
		return next(c)
	}
}

// FederatedSession is the mandatory federated variant: the token comes from
// the Authorization header (raw, no Bearer prefix) or a firebaseToken field in
// the request body, and a fresh pair is minted for existing identities.
func (m *Middleware) FederatedSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		raw := federatedTokenFromRequest(c)
		if raw == "" {
			return m.reject(c, &resolver.AuthError{Code: resolver.CodeUnauthenticated, Message: "missing federated token"})
		}
		res, err := m.Resolver.ResolveFederated(ctx, raw, true)
		if err != nil {
			return m.reject(c, err)
		}
		return m.accept(c, res, next)
	}
}

// OptionalAuth never rejects: verification failures degrade to an anonymous
// context and the pipeline continues. Handlers treat a missing caller context
// as "unauthenticated".
func (m *Middleware) OptionalAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		res := m.Resolver.ResolveOptional(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
		if res.Caller != nil {
			c.Set(callerContextKey, res.Caller)
			if res.Admin != nil {
				c.Set(adminContextKey, res.Admin)
			}
		}
		return next(c)
	}
}

// RequireNotBanned is the sibling ban check; it is not part of the resolver
// itself and assumes a persisted caller context is already attached.
func (m *Middleware) RequireNotBanned(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller := CallerFromContext(c)
		if caller == nil || caller.Ephemeral {
			return next(c)
		}
		user, err := m.Resolver.Dir.FindByID(c.Request().Context(), caller.ID)
		if err != nil {
			return m.reject(c, &resolver.AuthError{Code: resolver.CodeIdentityNotFound, Message: "identity no longer exists", Err: err})
		}
		if user.BannedNow(time.Now()) {
			return c.JSON(http.StatusForbidden, envelope{
				Status:  http.StatusForbidden,
				Data:    nil,
				Error:   resolver.CodeIdentityBanned,
				Message: banMessage(user.BanReason, user.BanEndsAt),
			})
		}
		return next(c)
	}
}

func (m *Middleware) accept(c echo.Context, res *resolver.Resolution, next echo.HandlerFunc) error {
	ctx := c.Request().Context()

	if res.RepairAccessToken != "" {
		m.emit(ctx, events.TypeTokenRotated, res.RepairUserID, res.RepairEmail)
		m.Audit.Record(ctx, audit.Entry{
			Outcome: "repair",
			UserID:  res.RepairUserID,
			Email:   res.RepairEmail,
			Path:    c.Path(),
			IP:      c.RealIP(),
		})
		return c.JSON(http.StatusUpgradeRequired, echo.Map{
			"accessToken": res.RepairAccessToken,
			"message":     "access token refreshed, retry the request with the new token",
		})
	}

	if res.IssuedAccessToken != "" {
		c.Response().Header().Set(HeaderAccessToken, res.IssuedAccessToken)
		c.Response().Header().Set(HeaderRefreshToken, res.IssuedRefreshToken)
		m.emit(ctx, events.TypeFederatedLogin, res.Caller.ID, res.Caller.Email)
	}

	c.Set(callerContextKey, res.Caller)
	if res.Admin != nil {
		c.Set(adminContextKey, res.Admin)
	}

	m.Audit.Record(ctx, audit.Entry{
		Outcome: "allow",
		UserID:  res.Caller.ID,
		Email:   res.Caller.Email,
		Path:    c.Path(),
		IP:      c.RealIP(),
	})
	return next(c)
}

func (m *Middleware) reject(c echo.Context, err error) error {
	ctx := c.Request().Context()

	var ae *resolver.AuthError
	if !errors.As(err, &ae) {
		logging.FromContext(ctx).Error("resolution_failed", "error", err)
		return c.JSON(http.StatusInternalServerError, envelope{
			Status:  http.StatusInternalServerError,
			Data:    nil,
			Error:   "INTERNAL",
			Message: "internal server error",
		})
	}

	logging.FromContext(ctx).Warn("request_rejected", "code", ae.Code, "error", errUnwrapStr(ae))
	m.Audit.Record(ctx, audit.Entry{Outcome: "reject", Code: ae.Code, Path: c.Path(), IP: c.RealIP()})

	return c.JSON(http.StatusUnauthorized, envelope{
		Status:  http.StatusUnauthorized,
		Data:    nil,
		Error:   ae.Code,
		Message: ae.Message,
	})
}

func (m *Middleware) emit(ctx context.Context, eventType, userID, email string) {
	if m.Events == nil {
		return
	}
	m.Events.Emit(ctx, eventType, userID, email)
}

// federatedTokenFromRequest reads the raw header value or the firebaseToken
// body field; the body is restored so the handler can still bind it.
func federatedTokenFromRequest(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		return h
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return ""
	}
	c.Request().Body = io.NopCloser(bytes.NewReader(body))

	var payload struct {
		FirebaseToken string `json:"firebaseToken"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.FirebaseToken
}

func banMessage(reason string, until *time.Time) string {
	msg := "account is banned"
	if reason != "" {
		msg += ": " + reason
	}
	if until != nil {
		msg += " (until " + until.UTC().Format(time.RFC3339) + ")"
	}
	return msg
}

func errUnwrapStr(ae *resolver.AuthError) string {
	if ae.Err == nil {
		return ""
	}
	return ae.Err.Error()
}
