package availability

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/db"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/doctors/:id/slots", h.GetSlots)
	api.GET("/doctors/:id/next-available", h.NextAvailable)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidDate):
		return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{Code: "INVALID_INPUT", Message: err.Error()})
	case errors.Is(err, ErrDoctorNotFound):
		return echo.NewHTTPError(http.StatusNotFound, middleware.ErrorBody{Code: "NOT_FOUND", Message: err.Error()})
	case db.IsTransient(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, middleware.ErrorBody{Code: "STORE_UNAVAILABLE", Message: "store unavailable, retry later"}).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, middleware.ErrorBody{Code: "INTERNAL", Message: "internal error"}).SetInternal(err)
	}
}

func (h *Handler) GetSlots(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{Code: "INVALID_INPUT", Message: "invalid doctor id"})
	}
	date := c.QueryParam("date")
	if date == "" {
		date = h.svc.Today()
	}
	slots, err := h.svc.GetSlots(c.Request().Context(), id, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slots)
}

type nextAvailableResponse struct {
	Found bool   `json:"found"`
	Date  string `json:"date,omitempty"`
	Time  string `json:"time,omitempty"`
}

func (h *Handler) NextAvailable(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{Code: "INVALID_INPUT", Message: "invalid doctor id"})
	}
	from := c.QueryParam("from")
	if from == "" {
		from = h.svc.Today()
	}
	days := 0
	if v := c.QueryParam("days"); v != "" {
		if days, err = strconv.Atoi(v); err != nil || days <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{Code: "INVALID_INPUT", Message: "days must be a positive integer"})
		}
	}
	date, t, found, err := h.svc.NextAvailable(c.Request().Context(), id, from, days)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, nextAvailableResponse{Found: found, Date: date, Time: t})
}
