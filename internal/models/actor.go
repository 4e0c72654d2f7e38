package models

// Role is the authorization role attached to an authenticated caller.
type Role string

const (
	RoleStaff       Role = "staff"
	RoleApprover    Role = "approver"
	RoleStoreKeeper Role = "store_keeper"
	RoleProcurement Role = "procurement_officer"
	RoleAdmin       Role = "admin"
	RoleFinance     Role = "finance"
	RoleSuperAdmin  Role = "super_admin"
)

// Actor identifies who is performing an operation. Authentication happens
// upstream; the core trusts whatever Actor it is handed.
type Actor struct {
	ID   string
	Role Role
}

// HasRole reports whether the actor holds any of the given roles.
func (a Actor) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// Elevated reports whether the actor's role appears in the override list.
func (a Actor) Elevated(overrides []string) bool {
	for _, r := range overrides {
		if string(a.Role) == r {
			return true
		}
	}
	return false
}

// System is the actor used by maintenance jobs such as seeding.
var System = Actor{ID: "system", Role: RoleSuperAdmin}
