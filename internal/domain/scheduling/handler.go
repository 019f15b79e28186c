package scheduling

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/auth"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/validate"
	"github.com/codeDulan/Dispensary-Management-System/pkg/pagination"
)

// Handler serves the appointment endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments")

	// any signed-in caller
	g.GET("/slots", h.AvailableSlots, auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleDispenser))

	own := g.Group("/me", auth.RequireRole(auth.RolePatient))
	own.POST("", h.BookOwn)
	own.GET("", h.ListOwn)
	own.GET("/:id", h.GetOwn)
	own.PUT("/:id", h.UpdateOwn)
	own.DELETE("/:id", h.DeleteOwn)

	staff := g.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleDispenser))
	staff.POST("", h.BookForPatient)
	staff.GET("", h.List)
	staff.GET("/:id", h.Get)
	staff.PATCH("/:id/status", h.UpdateStatus)
	staff.POST("/cancel-day", h.CancelDay)
	staff.POST("/renumber", h.RenumberDay)
}

type bookRequest struct {
	PatientID    string  `json:"patient_id" validate:"omitempty,uuid"`
	Date         string  `json:"date" validate:"required,date"`
	Time         string  `json:"time" validate:"required,clocktime"`
	Type         string  `json:"type" validate:"required"`
	Notes        *string `json:"notes" validate:"omitempty,max=1000"`
	ContactEmail string  `json:"contact_email" validate:"omitempty,email"`
}

type updateRequest struct {
	Date  *string `json:"date" validate:"omitempty,date"`
	Time  *string `json:"time" validate:"omitempty,clocktime"`
	Type  *string `json:"type"`
	Notes *string `json:"notes" validate:"omitempty,max=1000"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type dayRequest struct {
	Date string `json:"date" validate:"required,date"`
}

func (r bookRequest) input(patientID uuid.UUID) (BookingInput, error) {
	d, err := ParseDate(r.Date)
	if err != nil {
		return BookingInput{}, err
	}
	t, err := ParseTimeOfDay(r.Time)
	if err != nil {
		return BookingInput{}, err
	}
	return BookingInput{
		PatientID:    patientID,
		Date:         d,
		Time:         t,
		Type:         r.Type,
		Notes:        r.Notes,
		ContactEmail: r.ContactEmail,
	}, nil
}

// patientOf resolves the calling patient.
func patientOf(c echo.Context) (auth.Identity, error) {
	id, ok := auth.FromContext(c.Request().Context())
	if !ok {
		return auth.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	if id.PatientID == uuid.Nil {
		return auth.Identity{}, apperr.HTTPError(apperr.Forbidden("NO_PATIENT", "caller is not linked to a patient record"))
	}
	return id, nil
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.HTTPError(apperr.Validation(validate.CodeInvalidInput, "invalid id %q", c.Param("id")))
	}
	return id, nil
}

// optionalDate parses query parameter name, nil when absent.
func optionalDate(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := ParseDate(raw)
	if err != nil {
		return nil, apperr.HTTPError(err)
	}
	return &d, nil
}

func (h *Handler) BookOwn(c echo.Context) error {
	caller, err := patientOf(c)
	if err != nil {
		return err
	}
	var req bookRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTPError(err)
	}
	in, err := req.input(caller.PatientID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if in.ContactEmail == "" {
		in.ContactEmail = caller.Email
	}
	a, err := h.svc.Book(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) BookForPatient(c echo.Context) error {
	var req bookRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTPError(err)
	}
	if req.PatientID == "" {
		return apperr.HTTPError(apperr.Validation(validate.CodeInvalidInput, "patient_id is required"))
	}
	in, err := req.input(uuid.MustParse(req.PatientID))
	if err != nil {
		return apperr.HTTPError(err)
	}
	a, err := h.svc.Book(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListOwn(c echo.Context) error {
	caller, err := patientOf(c)
	if err != nil {
		return err
	}
	from, err := optionalDate(c, "from")
	if err != nil {
		return err
	}
	to, err := optionalDate(c, "to")
	if err != nil {
		return err
	}
	list, err := h.svc.ListOwn(c.Request().Context(), caller.PatientID, from, to)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if list == nil {
		list = []*Appointment{}
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) GetOwn(c echo.Context) error {
	caller, err := patientOf(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetOwn(c.Request().Context(), caller.PatientID, id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateOwn(c echo.Context) error {
	caller, err := patientOf(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req updateRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTPError(err)
	}

	in := UpdateInput{Type: req.Type, Notes: req.Notes}
	if req.Date != nil {
		d, err := ParseDate(*req.Date)
		if err != nil {
			return apperr.HTTPError(err)
		}
		in.Date = &d
	}
	if req.Time != nil {
		t, err := ParseTimeOfDay(*req.Time)
		if err != nil {
			return apperr.HTTPError(err)
		}
		in.Time = &t
	}

	a, err := h.svc.UpdateOwn(c.Request().Context(), caller.PatientID, id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteOwn(c echo.Context) error {
	caller, err := patientOf(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteOwn(c.Request().Context(), caller.PatientID, id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	d, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), d)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":  DateKey(d),
		"slots": slots,
	})
}

// List returns one day when ?date is given, otherwise a page over a date
// range defaulting to the current month.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	if raw := c.QueryParam("date"); raw != "" {
		d, err := ParseDate(raw)
		if err != nil {
			return apperr.HTTPError(err)
		}
		list, err := h.svc.ListByDate(ctx, d)
		if err != nil {
			return apperr.HTTPError(err)
		}
		if list == nil {
			list = []*Appointment{}
		}
		return c.JSON(http.StatusOK, list)
	}

	from, err := optionalDate(c, "from")
	if err != nil {
		return err
	}
	to, err := optionalDate(c, "to")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	list, total, err := h.svc.ListInRange(ctx, from, to, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if list == nil {
		list = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTPError(err)
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelDay(c echo.Context) error {
	var req dayRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTPError(err)
	}
	d, err := ParseDate(req.Date)
	if err != nil {
		return apperr.HTTPError(err)
	}
	cancelled, err := h.svc.CancelDay(c.Request().Context(), d)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if cancelled == nil {
		cancelled = []*Appointment{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":      DateKey(d),
		"cancelled": cancelled,
	})
}

func (h *Handler) RenumberDay(c echo.Context) error {
	var req dayRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTPError(err)
	}
	d, err := ParseDate(req.Date)
	if err != nil {
		return apperr.HTTPError(err)
	}
	changed, err := h.svc.RenumberDay(c.Request().Context(), d)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":    DateKey(d),
		"changed": changed,
	})
}
