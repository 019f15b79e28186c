package pharmacy

import "github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"

var (
	ErrInvalidLine          = apperr.Validation("INVALID_LINE", "invalid prescription line")
	ErrInvalidRange         = apperr.Validation("INVALID_RANGE", "invalid date range")
	ErrInvalidBatch         = apperr.Validation("INVALID_BATCH", "invalid inventory batch")
	ErrInventoryNotFound    = apperr.NotFound("INVENTORY_ITEM_NOT_FOUND", "inventory item not found")
	ErrPrescriptionNotFound = apperr.NotFound("PRESCRIPTION_NOT_FOUND", "prescription not found")
	ErrLineNotFound         = apperr.NotFound("PRESCRIPTION_ITEM_NOT_FOUND", "prescription item not found")
	ErrInsufficientStock    = apperr.BusinessRule("INSUFFICIENT_STOCK", "insufficient stock")
	ErrBatchExpired         = apperr.BusinessRule("BATCH_EXPIRED", "batch is expired")
	ErrItemReferenced       = apperr.BusinessRule("ITEM_REFERENCED", "inventory item is referenced by prescriptions")
	ErrNotOwner             = apperr.Forbidden("NOT_OWNER", "prescription belongs to another patient")
)
