package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
)

// Clinic hours. The last bookable slot starts five minutes before the 15:00
// close.
const (
	OpeningTime TimeOfDay = 9 * 60
	LastSlot    TimeOfDay = 14*60 + 55
	SlotMinutes           = 5
)

// Status is an appointment's lifecycle state. Staff may set any status;
// patients cannot edit an appointment once it is terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
)

// validStatuses maps each status to whether it is terminal.
var validStatuses = map[Status]bool{
	StatusPending:   false,
	StatusConfirmed: false,
	StatusCompleted: true,
	StatusCancelled: true,
	StatusNoShow:    true,
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := validStatuses[st]; !ok {
		return "", apperr.Newf(ErrInvalidStatus, "invalid appointment status %q", s)
	}
	return st, nil
}

// Terminal reports whether the appointment is closed to patient edits.
func (s Status) Terminal() bool {
	return validStatuses[s]
}

// Type is the reason for a visit.
type Type string

const (
	TypeCheckup        Type = "CHECKUP"
	TypeTakeMedicine   Type = "TAKE_MEDICINE"
	TypeGetAdvice      Type = "GET_ADVICE"
	TypeReportChecking Type = "REPORT_CHECKING"
	TypeOther          Type = "OTHER"
)

var validTypes = map[Type]bool{
	TypeCheckup:        true,
	TypeTakeMedicine:   true,
	TypeGetAdvice:      true,
	TypeReportChecking: true,
	TypeOther:          true,
}

// ParseType accepts a type name in any case.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !validTypes[t] {
		return "", apperr.Newf(ErrInvalidType, "invalid appointment type %q", s)
	}
	return t, nil
}

// TimeOfDay is minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay accepts HH:MM or HH:MM:SS with zero seconds.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, apperr.Newf(ErrInvalidTime, "invalid time %q, expected HH:MM", s)
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || len(parts[1]) != 2 || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, apperr.Newf(ErrInvalidTime, "invalid time %q, expected HH:MM", s)
	}
	if len(parts) == 3 && parts[2] != "00" {
		return 0, apperr.Newf(ErrInvalidTime, "invalid time %q, seconds are not supported", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ValidateBookable checks t against clinic hours and slot granularity.
func ValidateBookable(t TimeOfDay) error {
	if t < OpeningTime || t > LastSlot {
		return apperr.Newf(ErrInvalidTime, "appointment time %s is outside clinic hours %s-%s", t, OpeningTime, LastSlot)
	}
	if int(t)%SlotMinutes != 0 {
		return apperr.Newf(ErrInvalidTime, "appointment time %s is not on a %d-minute slot", t, SlotMinutes)
	}
	return nil
}

// AllSlots lists every bookable slot of a clinic day.
func AllSlots() []TimeOfDay {
	slots := make([]TimeOfDay, 0, int(LastSlot-OpeningTime)/SlotMinutes+1)
	for t := OpeningTime; t <= LastSlot; t += SlotMinutes {
		slots = append(slots, t)
	}
	return slots
}

// ParseDate parses YYYY-MM-DD into a UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.Newf(ErrInvalidDate, "invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

// DateOf truncates t to its calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats a clinic day as YYYY-MM-DD.
func DateKey(d time.Time) string {
	return d.Format(time.DateOnly)
}

// Appointment is one booked slot in a clinic day.
type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	Date         time.Time
	Time         TimeOfDay
	QueueNumber  int
	Status       Status
	Type         Type
	Notes        *string
	ContactEmail *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type appointmentJSON struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	Date        string    `json:"date"`
	Time        TimeOfDay `json:"time"`
	QueueNumber int       `json:"queue_number"`
	Status      Status    `json:"status"`
	Type        Type      `json:"type"`
	Notes       *string   `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (a Appointment) MarshalJSON() ([]byte, error) {
	return json.Marshal(appointmentJSON{
		ID:          a.ID,
		PatientID:   a.PatientID,
		Date:        DateKey(a.Date),
		Time:        a.Time,
		QueueNumber: a.QueueNumber,
		Status:      a.Status,
		Type:        a.Type,
		Notes:       a.Notes,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	})
}
