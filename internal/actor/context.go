// Package actor carries the authenticated caller through request contexts.
package actor

import (
	"context"
	"errors"
	"fmt"
)

// Role is the marketplace role of a caller.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
	// RoleSystem is used for payment collaborators and background workers.
	RoleSystem Role = "system"
)

// ErrForbidden is returned when an actor may not perform an action.
var ErrForbidden = errors.New("actor: forbidden")

// Actor is an authenticated caller.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Valid reports whether the role is known and the id is present.
func (a Actor) Valid() bool {
	if a.ID == "" {
		return false
	}
	switch a.Role {
	case RoleCustomer, RoleProvider, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// IsAdmin reports whether the actor has admin rights.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Key is the real-time channel key for this actor.
func (a Actor) Key() string {
	if a.Role == RoleAdmin {
		return AdminKey
	}
	return fmt.Sprintf("%s:%s", a.Role, a.ID)
}

// AdminKey is the shared channel every admin subscribes to.
const AdminKey = "role:admin"

// CustomerKey returns the channel key of a customer.
func CustomerKey(id string) string { return fmt.Sprintf("%s:%s", RoleCustomer, id) }

// ProviderKey returns the channel key of a provider.
func ProviderKey(id string) string { return fmt.Sprintf("%s:%s", RoleProvider, id) }

// System is the actor used for payment callbacks.
func System(id string) Actor { return Actor{ID: id, Role: RoleSystem} }

type ctxKey string

const actorKey ctxKey = "booking.actor"

// WithActor stores the actor in context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// FromContext extracts the actor if present and valid.
func FromContext(ctx context.Context) (Actor, bool) {
	val := ctx.Value(actorKey)
	if val == nil {
		return Actor{}, false
	}
	a, ok := val.(Actor)
	return a, ok && a.Valid()
}

// CanManageProvider reports whether the actor may mutate a provider's resources.
func CanManageProvider(a Actor, providerID string) bool {
	return a.IsAdmin() || (a.Role == RoleProvider && a.ID == providerID)
}
