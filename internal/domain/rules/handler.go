package rules

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/auth"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/doctors", h.ListDoctors)

	admin := api.Group("/doctors", auth.RequireRole(auth.RoleAdmin))
	admin.POST("", h.CreateDoctor)
	admin.PATCH("/:id/active", h.SetDoctorActive)
	admin.GET("/:id/templates", h.ListTemplates)
	admin.POST("/:id/templates", h.CreateTemplate)
	admin.DELETE("/:id/templates/:tid", h.DeleteTemplate)
	admin.GET("/:id/exceptions", h.ListExceptions)
	admin.PUT("/:id/exceptions/:date", h.SetException)
	admin.DELETE("/:id/exceptions/:date", h.DeleteException)
}

func ruleError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, middleware.ErrorBody{Code: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, ErrInvalidRule):
		return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{Code: "INVALID_INPUT", Message: err.Error()})
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, middleware.ErrorBody{Code: "INTERNAL", Message: "internal error"}).SetInternal(err)
	}
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{Code: "INVALID_INPUT", Message: msg})
}

func doctorParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, badRequest("invalid doctor id")
	}
	return id, nil
}

// -- Doctors --

func (h *Handler) ListDoctors(c echo.Context) error {
	activeOnly := c.QueryParam("all") != "true" || !auth.HasRole(c.Request().Context(), auth.RoleAdmin)
	items, err := h.svc.ListDoctors(c.Request().Context(), activeOnly)
	if err != nil {
		return ruleError(err)
	}
	if items == nil {
		items = []*Doctor{}
	}
	return c.JSON(http.StatusOK, items)
}

type createDoctorRequest struct {
	Name   string `json:"name"`
	Active *bool  `json:"active"`
}

// CreateDoctor creates an active doctor unless "active": false is sent.
func (h *Handler) CreateDoctor(c echo.Context) error {
	var req createDoctorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	d := Doctor{Name: req.Name, Active: req.Active == nil || *req.Active}
	if err := h.svc.CreateDoctor(c.Request().Context(), &d); err != nil {
		return ruleError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) SetDoctorActive(c echo.Context) error {
	id, err := doctorParam(c)
	if err != nil {
		return err
	}
	var req activeRequest
	if err := c.Bind(&req); err != nil || req.Active == nil {
		return badRequest("active is required")
	}
	if err := h.svc.SetDoctorActive(c.Request().Context(), id, *req.Active); err != nil {
		return ruleError(err)
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return ruleError(err)
	}
	return c.JSON(http.StatusOK, d)
}

// -- Templates --

func (h *Handler) ListTemplates(c echo.Context) error {
	id, err := doctorParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListTemplates(c.Request().Context(), id)
	if err != nil {
		return ruleError(err)
	}
	if items == nil {
		items = []*WeeklyTemplate{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateTemplate(c echo.Context) error {
	id, err := doctorParam(c)
	if err != nil {
		return err
	}
	var t WeeklyTemplate
	if err := c.Bind(&t); err != nil {
		return badRequest(err.Error())
	}
	t.ID = uuid.Nil
	t.DoctorID = id
	if err := h.svc.CreateTemplate(c.Request().Context(), &t); err != nil {
		return ruleError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) DeleteTemplate(c echo.Context) error {
	id, err := doctorParam(c)
	if err != nil {
		return err
	}
	tid, err := uuid.Parse(c.Param("tid"))
	if err != nil {
		return badRequest("invalid template id")
	}
	if err := h.svc.DeleteTemplate(c.Request().Context(), id, tid); err != nil {
		return ruleError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Exceptions --

func (h *Handler) ListExceptions(c echo.Context) error {
	id, err := doctorParam(c)
	if err != nil {
		return err
	}
	start, end := c.QueryParam("start"), c.QueryParam("end")
	if start == "" {
		start = time.Now().Format(DateLayout)
	}
	if end == "" {
		end = "9999-12-31"
	}
	items, err := h.svc.ListExceptions(c.Request().Context(), id, start, end)
	if err != nil {
		return ruleError(err)
	}
	if items == nil {
		items = []*Exception{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SetException(c echo.Context) error {
	id, err := doctorParam(c)
	if err != nil {
		return err
	}
	var e Exception
	if err := c.Bind(&e); err != nil {
		return badRequest(err.Error())
	}
	e.ID = uuid.Nil
	e.DoctorID = id
	e.Date = c.Param("date")
	if err := h.svc.SetException(c.Request().Context(), &e); err != nil {
		return ruleError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) DeleteException(c echo.Context) error {
	id, err := doctorParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteException(c.Request().Context(), id, c.Param("date")); err != nil {
		return ruleError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
