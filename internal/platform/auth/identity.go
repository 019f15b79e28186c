package auth

import (
	"context"

	"github.com/google/uuid"
)

const (
	RolePatient   = "patient"
	RoleDoctor    = "doctor"
	RoleDispenser = "dispenser"
	RoleAdmin     = "admin"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the caller as resolved by the identity provider. PatientID is
// set only for patient callers.
type Identity struct {
	Subject   string
	Role      string
	PatientID uuid.UUID
	Email     string
}

// IsStaff reports whether the caller works at the dispensary.
func (id Identity) IsStaff() bool {
	switch id.Role {
	case RoleDoctor, RoleDispenser, RoleAdmin:
		return true
	}
	return false
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity stored by the auth middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
