package pharmacy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/auth"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/validate"
	"github.com/codeDulan/Dispensary-Management-System/pkg/pagination"
)

const defaultExpiryDays = 30

// Handler serves the inventory and prescription endpoints.
type Handler struct {
	inv     *InventoryService
	rx      *PrescriptionService
	alerter *Alerter
}

// NewHandler serves inventory and prescriptions. alerter may be nil, which
// disables the manual scan route.
func NewHandler(inv *InventoryService, rx *PrescriptionService, alerter *Alerter) *Handler {
	return &Handler{inv: inv, rx: rx, alerter: alerter}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := auth.RequireRole(auth.RoleDoctor, auth.RoleDispenser)
	dispenser := auth.RequireRole(auth.RoleDispenser)
	doctor := auth.RequireRole(auth.RoleDoctor)

	inv := api.Group("/inventory")
	inv.POST("", h.ReceiveBatch, dispenser)
	inv.GET("", h.ListBatches, staff)
	inv.GET("/available", h.AvailableBatches, staff)
	inv.GET("/low-stock", h.LowStock, staff)
	inv.GET("/expiring", h.Expiring, staff)
	inv.GET("/valuation", h.Valuation, dispenser)
	if h.alerter != nil {
		inv.POST("/alerts/scan", h.ScanAlerts, dispenser)
	}
	inv.GET("/:id", h.GetBatch, staff)
	inv.PUT("/:id", h.UpdateBatch, dispenser)
	inv.DELETE("/:id", h.DeleteBatch, dispenser)

	rx := api.Group("/prescriptions")
	own := rx.Group("/me", auth.RequireRole(auth.RolePatient))
	own.GET("", h.ListOwn)
	own.GET("/:id", h.GetOwn)

	rx.POST("", h.CreatePrescription, doctor)
	rx.GET("", h.ListPrescriptions, staff)
	rx.GET("/patient/:patient_id", h.ListByPatient, staff)
	rx.GET("/:id", h.GetPrescription, staff)
	rx.PUT("/:id", h.UpdatePrescription, doctor)
	rx.DELETE("/:id/items/:item_id", h.RemoveLine, doctor)
	rx.DELETE("/:id", h.DeletePrescription, doctor)
}

// -- request types --

type receiveRequest struct {
	MedicineName string          `json:"medicine_name" validate:"required,max=255"`
	BatchNumber  *string         `json:"batch_number" validate:"omitempty,max=100"`
	ExpiryDate   string          `json:"expiry_date" validate:"required,date"`
	Quantity     int             `json:"quantity" validate:"required,gt=0"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	SellPrice    decimal.Decimal `json:"sell_price"`
	ReceivedDate *string         `json:"received_date" validate:"omitempty,date"`
}

type batchUpdateRequest struct {
	BatchNumber        *string          `json:"batch_number" validate:"omitempty,max=100"`
	ExpiryDate         *string          `json:"expiry_date" validate:"omitempty,date"`
	AdditionalQuantity *int             `json:"additional_quantity" validate:"omitempty,gt=0"`
	BuyPrice           *decimal.Decimal `json:"buy_price"`
	SellPrice          *decimal.Decimal `json:"sell_price"`
}

type lineRequest struct {
	InventoryItemID    string `json:"inventory_item_id" validate:"required,uuid"`
	Quantity           int    `json:"quantity" validate:"required,gt=0,lte=10000"`
	DosageInstructions string `json:"dosage_instructions" validate:"max=255"`
	DaysSupply         int    `json:"days_supply" validate:"required,gt=0,lte=365"`
}

func (r lineRequest) input() LineInput {
	return LineInput{
		InventoryItemID:    uuid.MustParse(r.InventoryItemID),
		Quantity:           r.Quantity,
		DosageInstructions: r.DosageInstructions,
		DaysSupply:         r.DaysSupply,
	}
}

type lineEditRequest struct {
	ID                 string  `json:"id" validate:"required,uuid"`
	InventoryItemID    *string `json:"inventory_item_id" validate:"omitempty,uuid"`
	Quantity           int     `json:"quantity" validate:"required,gt=0,lte=10000"`
	DosageInstructions string  `json:"dosage_instructions" validate:"max=255"`
	DaysSupply         int     `json:"days_supply" validate:"required,gt=0,lte=365"`
}

type createPrescriptionRequest struct {
	PatientID     string        `json:"patient_id" validate:"required,uuid"`
	DiseaseID     *string       `json:"disease_id" validate:"omitempty,uuid"`
	CustomDisease *string       `json:"custom_disease" validate:"omitempty,max=255"`
	Notes         *string       `json:"notes" validate:"omitempty,max=2000"`
	Items         []lineRequest `json:"items" validate:"required,min=1,dive"`
}

type updatePrescriptionRequest struct {
	DiseaseID     *string           `json:"disease_id" validate:"omitempty,uuid"`
	CustomDisease *string           `json:"custom_disease" validate:"omitempty,max=255"`
	Notes         *string           `json:"notes" validate:"omitempty,max=2000"`
	UpdatedItems  []lineEditRequest `json:"updated_items" validate:"dive"`
	NewItems      []lineRequest     `json:"new_items" validate:"dive"`
}

// -- helpers --

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.HTTPError(apperr.Validation(validate.CodeInvalidInput, "invalid %s %q", name, c.Param(name)))
	}
	return id, nil
}

func optionalUUID(raw *string) *uuid.UUID {
	if raw == nil {
		return nil
	}
	id := uuid.MustParse(*raw)
	return &id
}

func parseDate(raw string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, apperr.Validation(validate.CodeInvalidInput, "invalid date %q, expected YYYY-MM-DD", raw)
	}
	return d, nil
}

func optionalDate(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := parseDate(raw)
	if err != nil {
		return nil, apperr.HTTPError(err)
	}
	return &d, nil
}

func dateRange(c echo.Context) (*time.Time, *time.Time, error) {
	from, err := optionalDate(c, "from")
	if err != nil {
		return nil, nil, err
	}
	to, err := optionalDate(c, "to")
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func batches(list []*InventoryItem) []*InventoryItem {
	if list == nil {
		return []*InventoryItem{}
	}
	return list
}

func prescriptions(list []*Prescription) []*Prescription {
	if list == nil {
		return []*Prescription{}
	}
	return list
}

// -- inventory --

func (h *Handler) ReceiveBatch(c echo.Context) error {
	var req receiveRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTPError(err)
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		return apperr.HTTPError(err)
	}
	in := ReceiveInput{
		MedicineName: req.MedicineName,
		BatchNumber:  req.BatchNumber,
		ExpiryDate:   expiry,
		Quantity:     req.Quantity,
		BuyPrice:     req.BuyPrice,
		SellPrice:    req.SellPrice,
	}
	if req.ReceivedDate != nil {
		d, err := parseDate(*req.ReceivedDate)
		if err != nil {
			return apperr.HTTPError(err)
		}
		in.ReceivedDate = &d
	}
	item, err := h.inv.Receive(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) UpdateBatch(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req batchUpdateRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTPError(err)
	}
	in := BatchUpdate{
		BatchNumber:        req.BatchNumber,
		AdditionalQuantity: req.AdditionalQuantity,
		BuyPrice:           req.BuyPrice,
		SellPrice:          req.SellPrice,
	}
	if req.ExpiryDate != nil {
		d, err := parseDate(*req.ExpiryDate)
		if err != nil {
			return apperr.HTTPError(err)
		}
		in.ExpiryDate = &d
	}
	item, err := h.inv.UpdateBatch(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) DeleteBatch(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.inv.Delete(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetBatch(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	item, err := h.inv.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) ListBatches(c echo.Context) error {
	var medicineID *uuid.UUID
	if raw := c.QueryParam("medicine_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.HTTPError(apperr.Validation(validate.CodeInvalidInput, "invalid medicine_id %q", raw))
		}
		medicineID = &id
	}
	list, err := h.inv.List(c.Request().Context(), medicineID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, batches(list))
}

func (h *Handler) AvailableBatches(c echo.Context) error {
	list, err := h.inv.Available(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, batches(list))
}

func (h *Handler) LowStock(c echo.Context) error {
	list, err := h.inv.LowStock(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, batches(list))
}

func (h *Handler) Expiring(c echo.Context) error {
	days := defaultExpiryDays
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apperr.HTTPError(apperr.Validation(validate.CodeInvalidInput, "invalid days %q", raw))
		}
		days = n
	}
	list, err := h.inv.Expiring(c.Request().Context(), days)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, batches(list))
}

func (h *Handler) Valuation(c echo.Context) error {
	v, err := h.inv.Valuation(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ScanAlerts(c echo.Context) error {
	res, err := h.alerter.Scan(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- prescriptions --

func (h *Handler) CreatePrescription(c echo.Context) error {
	caller, ok := auth.FromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	var req createPrescriptionRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTPError(err)
	}
	in := CreatePrescriptionInput{
		PatientID:     uuid.MustParse(req.PatientID),
		DoctorID:      caller.Subject,
		DiseaseID:     optionalUUID(req.DiseaseID),
		CustomDisease: req.CustomDisease,
		Notes:         req.Notes,
		Items:         make([]LineInput, len(req.Items)),
	}
	for i, l := range req.Items {
		in.Items[i] = l.input()
	}
	p, err := h.rx.Create(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdatePrescription(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req updatePrescriptionRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTPError(err)
	}
	in := UpdatePrescriptionInput{
		Notes:         req.Notes,
		DiseaseID:     optionalUUID(req.DiseaseID),
		CustomDisease: req.CustomDisease,
		UpdatedItems:  make([]LineEdit, len(req.UpdatedItems)),
		NewItems:      make([]LineInput, len(req.NewItems)),
	}
	for i, e := range req.UpdatedItems {
		in.UpdatedItems[i] = LineEdit{
			ID:                 uuid.MustParse(e.ID),
			InventoryItemID:    optionalUUID(e.InventoryItemID),
			Quantity:           e.Quantity,
			DosageInstructions: e.DosageInstructions,
			DaysSupply:         e.DaysSupply,
		}
	}
	for i, l := range req.NewItems {
		in.NewItems[i] = l.input()
	}
	p, err := h.rx.Update(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) RemoveLine(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	itemID, err := uuidParam(c, "item_id")
	if err != nil {
		return err
	}
	p, err := h.rx.RemoveLine(c.Request().Context(), id, itemID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePrescription(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.rx.Delete(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.rx.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	from, to, err := dateRange(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	list, total, err := h.rx.ListInRange(c.Request().Context(), from, to, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(prescriptions(list), total, pg))
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuidParam(c, "patient_id")
	if err != nil {
		return err
	}
	from, to, err := dateRange(c)
	if err != nil {
		return err
	}
	list, err := h.rx.ListByPatient(c.Request().Context(), patientID, from, to)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, prescriptions(list))
}

func (h *Handler) ListOwn(c echo.Context) error {
	caller, err := patientOf(c)
	if err != nil {
		return err
	}
	from, to, err := dateRange(c)
	if err != nil {
		return err
	}
	list, err := h.rx.ListByPatient(c.Request().Context(), caller.PatientID, from, to)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, prescriptions(list))
}

func (h *Handler) GetOwn(c echo.Context) error {
	caller, err := patientOf(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.rx.GetOwn(c.Request().Context(), caller.PatientID, id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

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
