package scheduling

import "github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"

var (
	ErrInvalidDate         = apperr.Validation("INVALID_DATE", "invalid appointment date")
	ErrInvalidTime         = apperr.Validation("INVALID_TIME", "invalid appointment time")
	ErrInvalidType         = apperr.Validation("INVALID_TYPE", "invalid appointment type")
	ErrInvalidStatus       = apperr.Validation("INVALID_STATUS", "invalid appointment status")
	ErrSlotTaken           = apperr.Conflict("SLOT_TAKEN", "appointment slot already taken")
	ErrConcurrentChange    = apperr.Conflict("CONCURRENT_CHANGE", "appointment changed concurrently, retry the request")
	ErrAppointmentNotFound = apperr.NotFound("APPOINTMENT_NOT_FOUND", "appointment not found")
	ErrNotOwner            = apperr.Forbidden("NOT_OWNER", "appointment belongs to another patient")
	ErrTerminalState       = apperr.BusinessRule("TERMINAL_STATE", "appointment can no longer be changed")
)
