package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/identity-gateway/internal/audit"
	"github.com/Skotchmaster/identity-gateway/internal/util"
)

type AuditHandler struct {
	Audit *audit.Recorder
}

func (h *AuditHandler) Search(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query error")
	}

	from, size := util.Calculate(
		util.Atoi(c.QueryParam("page")),
		util.Atoi(c.QueryParam("size")),
	)

	ctx := c.Request().Context()
	total, entries, err := h.Audit.Search(ctx, q, from, size)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"total": total, "entries": entries})
}
