package summary

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/niceverygood/maria-reservation-sub000/internal/domain/rules"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/auth"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/db"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/middleware"
)

// defaultCalendarDays is the window served when end is omitted.
const defaultCalendarDays = 28

type Handler struct {
	p           *Precomputer
	horizonDays int
}

func NewHandler(p *Precomputer, horizonDays int) *Handler {
	return &Handler{p: p, horizonDays: horizonDays}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/calendar", h.Calendar)

	admin := api.Group("/admin/summaries", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/rebuild", h.Rebuild)
	admin.POST("/cleanup", h.Cleanup)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidRange):
		return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{Code: "INVALID_INPUT", Message: err.Error()})
	case errors.Is(err, ErrDoctorNotFound):
		return echo.NewHTTPError(http.StatusNotFound, middleware.ErrorBody{Code: "NOT_FOUND", Message: err.Error()})
	case db.IsTransient(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, middleware.ErrorBody{Code: "STORE_UNAVAILABLE", Message: "store unavailable, retry later"}).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, middleware.ErrorBody{Code: "INTERNAL", Message: "internal error"}).SetInternal(err)
	}
}

func (h *Handler) Calendar(c echo.Context) error {
	q := CalendarQuery{Start: c.QueryParam("start"), End: c.QueryParam("end")}
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{Code: "INVALID_INPUT", Message: "invalid doctor_id"})
		}
		q.DoctorID = &id
	}
	if q.Start == "" {
		q.Start = h.p.today().Format(rules.DateLayout)
	}
	if q.End == "" {
		start, err := rules.ParseDate(q.Start, nil)
		if err != nil {
			return httpError(ErrInvalidRange)
		}
		q.End = start.AddDate(0, 0, defaultCalendarDays-1).Format(rules.DateLayout)
	}

	counts, err := h.p.CalendarCounts(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, counts)
}

func (h *Handler) Rebuild(c echo.Context) error {
	days := h.horizonDays
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 366 {
			return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{Code: "INVALID_INPUT", Message: "days must be between 1 and 366"})
		}
		days = n
	}
	res, err := h.p.RebuildHorizon(c.Request().Context(), days)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Cleanup(c echo.Context) error {
	n, err := h.p.Cleanup(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}
