// Package notification renders and delivers outbound email for the
// dispensary: booking confirmations and pharmacy stock alerts.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/cache"
)

const (
	TemplateAppointmentBooked    = "appointment-booked"
	TemplateAppointmentCancelled = "appointment-cancelled"
	TemplateLowStock             = "low-stock"
	TemplateExpiringSoon         = "expiring-soon"
)

// Email is one rendered outbound message.
type Email struct {
	ID         string            `json:"id"`
	To         string            `json:"to"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	TemplateID string            `json:"template_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// EmailSender hands a rendered email to a delivery channel.
type EmailSender interface {
	SendEmail(ctx context.Context, e Email) error
}

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders registered templates by id.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine creates an engine with the built-in templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateAppointmentBooked,
			Subject: "Appointment confirmed for {{date}}",
			Body:    "Your {{type}} appointment is booked for {{date}} at {{time}}. Your queue number is {{queue_number}}.",
		},
		{
			ID:      TemplateAppointmentCancelled,
			Subject: "Appointment on {{date}} cancelled",
			Body:    "The clinic has cancelled all appointments on {{date}}, including yours at {{time}}. Please book another slot.",
		},
		{
			ID:      TemplateLowStock,
			Subject: "Low stock: {{medicine}}",
			Body:    "Batch {{batch}} of {{medicine}} has {{remaining}} of {{quantity}} units left.",
		},
		{
			ID:      TemplateExpiringSoon,
			Subject: "Expiring soon: {{medicine}}",
			Body:    "Batch {{batch}} of {{medicine}} expires on {{expiry_date}} ({{days_left}} days) with {{remaining}} units remaining.",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render fills the template's placeholders. Placeholders without data are
// left in place.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body), nil
}

// ErrNoRecipient is returned when a notification has no address to go to.
var ErrNoRecipient = errors.New("notification: no recipient")

// Request describes one notification to deliver. DedupKey, when set,
// suppresses repeats inside the Notifier's de-dup window.
type Request struct {
	TemplateID string
	To         string
	Data       map[string]string
	DedupKey   string
}

// Stats counts Notifier outcomes since start.
type Stats struct {
	Sent       int64 `json:"sent"`
	Suppressed int64 `json:"suppressed"`
	Failed     int64 `json:"failed"`
}

// Notifier renders templates, applies de-duplication and delivers through an
// EmailSender.
type Notifier struct {
	sender    EmailSender
	templates *TemplateEngine
	dedup     *cache.Deduper
	logger    zerolog.Logger

	sent, suppressed, failed atomic.Int64
}

// NewNotifier builds a Notifier. dedup may be nil to disable suppression.
func NewNotifier(sender EmailSender, tpl *TemplateEngine, dedup *cache.Deduper, logger zerolog.Logger) *Notifier {
	return &Notifier{sender: sender, templates: tpl, dedup: dedup, logger: logger}
}

// Notify delivers req and reports whether it was sent. A suppressed duplicate
// returns (false, nil).
func (n *Notifier) Notify(ctx context.Context, req Request) (bool, error) {
	if req.To == "" {
		return false, ErrNoRecipient
	}
	subject, body, err := n.templates.Render(req.TemplateID, req.Data)
	if err != nil {
		return false, err
	}

	if req.DedupKey != "" && n.dedup != nil {
		claimed, err := n.dedup.Claim(ctx, req.DedupKey)
		if err != nil {
			return false, fmt.Errorf("dedup claim: %w", err)
		}
		if !claimed {
			n.suppressed.Add(1)
			n.logger.Debug().Str("key", req.DedupKey).Msg("notification suppressed")
			return false, nil
		}
	}

	email := Email{
		ID:         uuid.NewString(),
		To:         req.To,
		Subject:    subject,
		Body:       body,
		TemplateID: req.TemplateID,
		Data:       req.Data,
		CreatedAt:  time.Now().UTC(),
	}
	if err := n.sender.SendEmail(ctx, email); err != nil {
		n.failed.Add(1)
		if req.DedupKey != "" && n.dedup != nil {
			if relErr := n.dedup.Release(ctx, req.DedupKey); relErr != nil {
				n.logger.Warn().Err(relErr).Str("key", req.DedupKey).Msg("release dedup claim")
			}
		}
		return false, fmt.Errorf("send %s to %s: %w", req.TemplateID, req.To, err)
	}

	n.sent.Add(1)
	n.logger.Info().Str("template", req.TemplateID).Str("to", req.To).Str("id", email.ID).Msg("notification sent")
	return true, nil
}

// Stats returns the counters since startup.
func (n *Notifier) Stats() Stats {
	return Stats{Sent: n.sent.Load(), Suppressed: n.suppressed.Load(), Failed: n.failed.Load()}
}

// MockEmailSender records emails instead of delivering them.
type MockEmailSender struct {
	mu         sync.Mutex
	sent       []Email
	ShouldFail bool
}

// SendEmail records e, or fails when ShouldFail is set.
func (m *MockEmailSender) SendEmail(_ context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errors.New("mock send failure")
	}
	m.sent = append(m.sent, e)
	return nil
}

// Sent returns a copy of the recorded emails.
func (m *MockEmailSender) Sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Email, len(m.sent))
	copy(out, m.sent)
	return out
}
