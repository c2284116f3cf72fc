package auth

import (
	"context"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

// Identity is the resolved caller of a core operation.
type Identity struct {
	SubjectID string
	Role      Role
}

func Admin(id string) Identity    { return Identity{SubjectID: id, Role: RoleAdmin} }
func Customer(id string) Identity { return Identity{SubjectID: id, Role: RoleCustomer} }

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// CanActFor reports whether the caller may read or act on data owned by customerID.
func (i Identity) CanActFor(customerID string) bool {
	if i.IsAdmin() {
		return true
	}
	return i.Role == RoleCustomer && i.SubjectID != "" && i.SubjectID == customerID
}

func RequireAdmin(i Identity) error {
	if !i.IsAdmin() {
		return apperr.Forbidden("access denied, admins only")
	}
	return nil
}

type ctxKey struct{}

// WithIdentity is only used by the HTTP layer to hand the resolved caller
// from middleware to handlers. Services take Identity as a parameter.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
