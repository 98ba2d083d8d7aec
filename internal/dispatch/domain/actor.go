package domain

// Role is the perspective a caller reads and acts from.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// Actor identifies the caller of an operation. For providers ID is the
// provider profile id; for customers it is the customer id.
type Actor struct {
	ID   string
	Role Role
}

// Admin is the identity used by ops tooling.
func Admin(id string) Actor {
	return Actor{ID: id, Role: RoleAdmin}
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
