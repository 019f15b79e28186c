package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
	"github.com/codeDulan/Dispensary-Management-System/internal/platform/auth"
)

func serve(t *testing.T, mw echo.MiddlewareFunc, req *http.Request, h echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	return rec, mw(h)(c)
}

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRequestID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
	}{
		{"generated", ""},
		{"kept", "queue-board-7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set(RequestIDHeader, tt.inbound)
			}
			var seen string
			rec, err := serve(t, RequestID(), req, func(c echo.Context) error {
				seen, _ = c.Get("request_id").(string)
				return ok(c)
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if seen == "" {
				t.Fatal("request_id not set on context")
			}
			if tt.inbound != "" && seen != tt.inbound {
				t.Errorf("expected %q, got %q", tt.inbound, seen)
			}
			if got := rec.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response header %q does not match context value %q", got, seen)
			}
		})
	}
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name       string
		handler    echo.HandlerFunc
		wantStatus string
		wantLevel  string
	}{
		{"ok", ok, `"status":200`, `"level":"info"`},
		{"domain not found", func(echo.Context) error {
			return apperr.NotFound("APPOINTMENT_NOT_FOUND", "appointment not found")
		}, `"status":404`, `"level":"warn"`},
		{"http error", func(echo.Context) error {
			return echo.NewHTTPError(http.StatusForbidden, "denied")
		}, `"status":403`, `"level":"warn"`},
		{"unexpected error", func(echo.Context) error {
			return errors.New("connection reset")
		}, `"status":500`, `"level":"error"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
			_, _ = serve(t, Logger(zerolog.New(&buf)), req, tt.handler)

			out := buf.String()
			if !strings.Contains(out, tt.wantStatus) || !strings.Contains(out, tt.wantLevel) {
				t.Errorf("expected %s and %s, got %s", tt.wantStatus, tt.wantLevel, out)
			}
		})
	}
}

func TestLogger_IncludesCaller(t *testing.T) {
	var buf bytes.Buffer
	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{Subject: "disp-1", Role: auth.RoleDispenser}))

	if _, err := serve(t, Logger(zerolog.New(&buf)), req, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"subject":"disp-1"`) || !strings.Contains(buf.String(), `"role":"dispenser"`) {
		t.Errorf("expected caller fields, got %s", buf.String())
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions", nil)
	_, err := serve(t, Recovery(zerolog.New(&buf)), req, func(echo.Context) error {
		panic("nil batch")
	})

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", he.Code)
	}
	if body, ok := he.Message.(apperr.Body); !ok || body.Code != "INTERNAL" {
		t.Errorf("expected INTERNAL body, got %#v", he.Message)
	}
	if !strings.Contains(buf.String(), `"panic":"nil batch"`) {
		t.Errorf("expected panic to be logged, got %s", buf.String())
	}

	if _, err := serve(t, Recovery(zerolog.Nop()), httptest.NewRequest(http.MethodGet, "/", nil), ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
