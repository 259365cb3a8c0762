package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/identity-gateway/internal/handlers"
	authmw "github.com/Skotchmaster/identity-gateway/internal/middleware/auth"
)

type Deps struct {
	Auth  *handlers.AuthHandler
	Audit *handlers.AuditHandler
	MW    *authmw.Middleware
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	v1 := e.Group("/api/v1")

	v1.POST("/register", d.Auth.Register)
	v1.POST("/login", d.Auth.Login)
	v1.POST("/session/federated", d.Auth.FederatedSession)

	v1.GET("/session", d.Auth.Me, d.MW.FederatedSession)

	v1.POST("/logout", d.Auth.Logout, d.MW.RequireAuth)
	v1.GET("/me", d.Auth.Me, d.MW.RequireAuth, d.MW.RequireNotBanned)
	v1.GET("/me/optional", d.Auth.MeOptional, d.MW.OptionalAuth)

	admin := v1.Group("/admin", d.MW.RequireAuth, d.MW.RequireAdmin)
	admin.GET("/audit", d.Audit.Search)
}
