package booking

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/auth"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/middleware"
	"github.com/niceverygood/maria-reservation-sub000/pkg/pagination"
)

// retryAfterSeconds is sent with STORE_UNAVAILABLE responses.
const retryAfterSeconds = "2"

type Handler struct {
	coord *Coordinator
}

func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/bookings")
	g.POST("", h.CreateBooking)
	g.GET("", h.ListBookings)
	g.GET("/:id", h.GetBooking)
	g.POST("/:id/cancel", h.CancelBooking)
	g.POST("/:id/reschedule", h.RescheduleBooking)
	g.PATCH("/:id/status", h.UpdateStatus, auth.RequireRole(auth.RoleStaff))
}

func (h *Handler) fail(c echo.Context, err error) error {
	status := HTTPStatus(err)
	code := Code(err)
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
	}
	if code == "INTERNAL" {
		return echo.NewHTTPError(status, middleware.ErrorBody{Code: code, Message: "internal error"}).SetInternal(err)
	}
	return echo.NewHTTPError(status, middleware.ErrorBody{Code: code, Message: err.Error()})
}

func invalid(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{Code: "INVALID_INPUT", Message: msg})
}

// staff can act on any booking; everyone else only on their own.
func isStaff(c echo.Context) bool {
	return auth.HasRole(c.Request().Context(), auth.RoleStaff)
}

func actor(c echo.Context) string {
	return auth.ActorFromContext(c.Request().Context())
}

func bookingID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, invalid("invalid booking id")
	}
	return id, nil
}

// owned loads the booking and hides other patients' bookings as not found.
func (h *Handler) owned(c echo.Context) (*Appointment, error) {
	id, err := bookingID(c)
	if err != nil {
		return nil, err
	}
	a, err := h.coord.GetBooking(c.Request().Context(), id)
	if err != nil {
		return nil, h.fail(c, err)
	}
	if !isStaff(c) && a.PatientRef != actor(c) {
		return nil, h.fail(c, ErrNotFound)
	}
	return a, nil
}

func (h *Handler) CreateBooking(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return invalid(err.Error())
	}
	if !isStaff(c) {
		switch req.PatientRef {
		case "":
			req.PatientRef = actor(c)
		case actor(c):
		default:
			return echo.NewHTTPError(http.StatusForbidden, middleware.ErrorBody{Code: "FORBIDDEN", Message: "patients can only book for themselves"})
		}
	}
	appt, err := h.coord.CreateBooking(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetBooking(c echo.Context) error {
	a, err := h.owned(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

// ListBookings pages one patient's bookings, newest date first.
func (h *Handler) ListBookings(c echo.Context) error {
	page, err := pagination.FromContext(c)
	if err != nil {
		return invalid(err.Error())
	}
	patientRef := c.QueryParam("patient_ref")
	if !isStaff(c) {
		patientRef = actor(c)
	}
	items, err := h.coord.ListPatientBookings(c.Request().Context(), patientRef)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, page))
}

type cancelResponse struct {
	ID     uuid.UUID `json:"id"`
	Status Status    `json:"status"`
}

func (h *Handler) CancelBooking(c echo.Context) error {
	a, err := h.owned(c)
	if err != nil {
		return err
	}
	appt, err := h.coord.CancelBooking(c.Request().Context(), a.ID, actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, cancelResponse{ID: appt.ID, Status: appt.Status})
}

type rescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (h *Handler) RescheduleBooking(c echo.Context) error {
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return invalid(err.Error())
	}
	a, err := h.owned(c)
	if err != nil {
		return err
	}
	appt, err := h.coord.RescheduleBooking(c.Request().Context(), a.ID, req.Date, req.Time, actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, appt)
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := bookingID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return invalid(err.Error())
	}
	appt, err := h.coord.UpdateStatus(c.Request().Context(), id, req.Status, actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, appt)
}
