package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Roles recognised by the service. Only manager and admin may authorize a
// unit-price override on a sale line.
const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// Principal is the typed identity produced by the authentication middleware.
// Downstream services receive it by value and never re-derive authorization
// from raw tokens.
type Principal struct {
	EmployeeID      uuid.UUID
	Role            string
	DiscountCeiling decimal.Decimal
	Status          string
}

// Active reports whether the employee account is usable.
func (p Principal) Active() bool {
	return strings.EqualFold(p.Status, "active")
}

// CanOverridePrice reports whether the principal may authorize a unit price
// that differs from the catalog price.
func (p Principal) CanOverridePrice() bool {
	return p.Role == RoleManager || p.Role == RoleAdmin
}

type principalKey struct{}

// WithPrincipal stores the authenticated principal on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the principal from the context if present.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
