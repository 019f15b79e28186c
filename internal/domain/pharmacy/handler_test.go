package pharmacy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/auth"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/validate"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, *testEnv) {
	env := newTestEnv(t)
	e := echo.New()
	e.Validator = validate.New()
	h := NewHandler(env.stock, env.scripts, env.alerter)
	h.RegisterRoutes(e.Group("/api/v1"))
	return h, e, env
}

func newRequest(method, target, body string, id auth.Identity) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), id))
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

var (
	doctor    = auth.Identity{Subject: "dr-1", Role: auth.RoleDoctor}
	dispenser = auth.Identity{Subject: "disp-1", Role: auth.RoleDispenser}
)

func TestHandler_ReceiveBatch(t *testing.T) {
	h, e, _ := newTestHandler(t)
	body := `{"medicine_name":"Amoxicillin","batch_number":"L1","expiry_date":"2025-01-31","quantity":100,"buy_price":"0.40","sell_price":0.75}`
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/", body, dispenser), rec)

	if err := h.ReceiveBatch(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["remaining_quantity"] != float64(100) {
		t.Errorf("expected remaining 100, got %v", got["remaining_quantity"])
	}
	if got["buy_price"] != "0.4" {
		t.Errorf("expected buy_price 0.4, got %v", got["buy_price"])
	}
	if got["expiry_date"] != "2025-01-31" {
		t.Errorf("expected expiry_date 2025-01-31, got %v", got["expiry_date"])
	}
}

func TestHandler_ReceiveBatchErrors(t *testing.T) {
	h, e, _ := newTestHandler(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing name", `{"expiry_date":"2025-01-31","quantity":1}`, http.StatusBadRequest},
		{"bad date", `{"medicine_name":"X","expiry_date":"31/01/2025","quantity":1}`, http.StatusBadRequest},
		{"zero quantity", `{"medicine_name":"X","expiry_date":"2025-01-31","quantity":0}`, http.StatusBadRequest},
		{"expired", `{"medicine_name":"X","expiry_date":"2020-01-31","quantity":1}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(newRequest(http.MethodPost, "/", tt.body, dispenser), httptest.NewRecorder())
			err := h.ReceiveBatch(c)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := statusOf(t, err); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestHandler_CreatePrescription(t *testing.T) {
	h, e, env := newTestHandler(t)
	batch := env.receive(t, "Amoxicillin", 50)
	patient := uuid.New()

	body := fmt.Sprintf(`{"patient_id":%q,"items":[{"inventory_item_id":%q,"quantity":2,"dosage_instructions":"BD","days_supply":5}]}`,
		patient, batch.ID)
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/", body, doctor), rec)
	if err := h.CreatePrescription(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got Prescription
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DoctorID != "dr-1" {
		t.Errorf("expected doctor from identity, got %q", got.DoctorID)
	}
	if len(got.Items) != 1 || got.Items[0].TotalQuantity != 20 {
		t.Errorf("unexpected items: %+v", got.Items)
	}
	if left := env.remaining(t, batch.ID); left != 30 {
		t.Errorf("expected 30 left, got %d", left)
	}
}

func TestHandler_CreatePrescriptionInsufficient(t *testing.T) {
	h, e, env := newTestHandler(t)
	batch := env.receive(t, "Amoxicillin", 5)

	body := fmt.Sprintf(`{"patient_id":%q,"items":[{"inventory_item_id":%q,"quantity":1,"dosage_instructions":"BD","days_supply":5}]}`,
		uuid.New(), batch.ID)
	c := e.NewContext(newRequest(http.MethodPost, "/", body, doctor), httptest.NewRecorder())
	err := h.CreatePrescription(c)
	if got := statusOf(t, err); got != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", got)
	}
	if !strings.Contains(err.Error(), "available 5, requested 10") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestHandler_CreatePrescriptionNoItems(t *testing.T) {
	h, e, _ := newTestHandler(t)
	body := fmt.Sprintf(`{"patient_id":%q,"items":[]}`, uuid.New())
	c := e.NewContext(newRequest(http.MethodPost, "/", body, doctor), httptest.NewRecorder())
	if got := statusOf(t, h.CreatePrescription(c)); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestHandler_CreatePrescriptionLineBounds(t *testing.T) {
	h, e, env := newTestHandler(t)
	batch := env.receive(t, "Amoxicillin", 50)

	for _, item := range []string{
		`"quantity":10001,"dosage_instructions":"OD","days_supply":1`,
		`"quantity":1,"dosage_instructions":"OD","days_supply":366`,
		`"quantity":9223372036854775803,"dosage_instructions":"BD","days_supply":1`,
	} {
		body := fmt.Sprintf(`{"patient_id":%q,"items":[{"inventory_item_id":%q,%s}]}`, uuid.New(), batch.ID, item)
		c := e.NewContext(newRequest(http.MethodPost, "/", body, doctor), httptest.NewRecorder())
		if got := statusOf(t, h.CreatePrescription(c)); got != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", item, got)
		}
	}
	if got := env.remaining(t, batch.ID); got != 50 {
		t.Errorf("expected remaining 50, got %d", got)
	}
}

func TestHandler_UpdateAndRemoveLine(t *testing.T) {
	h, e, env := newTestHandler(t)
	batch := env.receive(t, "Metformin", 50)
	p := env.prescribe(t, uuid.New(), line(batch.ID, 1, "OD", 5))

	body := fmt.Sprintf(`{"updated_items":[{"id":%q,"quantity":1,"dosage_instructions":"BD","days_supply":5}]}`, p.Items[0].ID)
	c := e.NewContext(newRequest(http.MethodPut, "/", body, doctor), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.UpdatePrescription(c); err != nil {
		t.Fatalf("update: %v", err)
	}
	if left := env.remaining(t, batch.ID); left != 40 {
		t.Errorf("expected 40 left after update, got %d", left)
	}

	c = e.NewContext(newRequest(http.MethodDelete, "/", "", doctor), httptest.NewRecorder())
	c.SetParamNames("id", "item_id")
	c.SetParamValues(p.ID.String(), p.Items[0].ID.String())
	if err := h.RemoveLine(c); err != nil {
		t.Fatalf("remove line: %v", err)
	}
	if left := env.remaining(t, batch.ID); left != 50 {
		t.Errorf("expected 50 left after removal, got %d", left)
	}
}

func TestHandler_GetOwnPrescription(t *testing.T) {
	h, e, env := newTestHandler(t)
	batch := env.receive(t, "Metformin", 50)
	patient := auth.Identity{Subject: "u1", Role: auth.RolePatient, PatientID: uuid.New()}
	p := env.prescribe(t, patient.PatientID, line(batch.ID, 1, "OD", 5))

	c := e.NewContext(newRequest(http.MethodGet, "/", "", patient), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.GetOwn(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other := auth.Identity{Subject: "u2", Role: auth.RolePatient, PatientID: uuid.New()}
	c = e.NewContext(newRequest(http.MethodGet, "/", "", other), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if got := statusOf(t, h.GetOwn(c)); got != http.StatusForbidden {
		t.Errorf("expected 403, got %d", got)
	}
}

func TestHandler_DeleteReferencedBatch(t *testing.T) {
	h, e, env := newTestHandler(t)
	batch := env.receive(t, "Metformin", 50)
	env.prescribe(t, uuid.New(), line(batch.ID, 1, "OD", 5))

	c := e.NewContext(newRequest(http.MethodDelete, "/", "", dispenser), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(batch.ID.String())
	if got := statusOf(t, h.DeleteBatch(c)); got != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", got)
	}
}

func TestHandler_Expiring(t *testing.T) {
	h, e, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/?days=abc", "", dispenser), rec)
	if got := statusOf(t, h.Expiring(c)); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodGet, "/", "", dispenser), rec)
	if err := h.Expiring(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %s", rec.Body.String())
	}
}

func TestHandler_ListPrescriptionsPaged(t *testing.T) {
	h, e, env := newTestHandler(t)
	batch := env.receive(t, "Metformin", 500)
	for i := 0; i < 3; i++ {
		env.prescribe(t, uuid.New(), line(batch.ID, 1, "OD", 1))
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/?limit=2", "", doctor), rec)
	if err := h.ListPrescriptions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data    []json.RawMessage `json:"data"`
		Total   int               `json:"total"`
		HasMore bool              `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Data) != 2 || page.Total != 3 || !page.HasMore {
		t.Errorf("unexpected page: %d items, total %d, has_more %v", len(page.Data), page.Total, page.HasMore)
	}
}

func TestHandler_RouteRoles(t *testing.T) {
	_, e, _ := newTestHandler(t)
	patient := auth.Identity{Subject: "u1", Role: auth.RolePatient, PatientID: uuid.New()}
	admin := auth.Identity{Subject: "root", Role: auth.RoleAdmin}

	tests := []struct {
		name   string
		method string
		path   string
		id     auth.Identity
		want   int
	}{
		{"patient cannot list stock", http.MethodGet, "/api/v1/inventory", patient, http.StatusForbidden},
		{"doctor reads stock", http.MethodGet, "/api/v1/inventory", doctor, http.StatusOK},
		{"doctor cannot value stock", http.MethodGet, "/api/v1/inventory/valuation", doctor, http.StatusForbidden},
		{"dispenser values stock", http.MethodGet, "/api/v1/inventory/valuation", dispenser, http.StatusOK},
		{"dispenser cannot prescribe", http.MethodPost, "/api/v1/prescriptions", dispenser, http.StatusForbidden},
		{"patient lists own", http.MethodGet, "/api/v1/prescriptions/me", patient, http.StatusOK},
		{"doctor has no own list", http.MethodGet, "/api/v1/prescriptions/me", doctor, http.StatusForbidden},
		{"admin scans alerts", http.MethodPost, "/api/v1/inventory/alerts/scan", admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, newRequest(tt.method, tt.path, "", tt.id))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
