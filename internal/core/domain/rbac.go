package domain

// Well-known role and privilege names.
const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"

	PrivilegeRead           = "READ_PRIVILEGE"
	PrivilegeWrite          = "WRITE_PRIVILEGE"
	PrivilegeChangePassword = "CHANGE_PASSWORD_PRIVILEGE"
	PrivilegeAdmin          = "ADMIN_PRIVILEGE"
)

// Privilege represents an atomic permission granted through a role.
type Privilege struct {
	Name string
}

// Role groups privileges. Privileges is never nil and names are unique.
type Role struct {
	Name       string
	Privileges []Privilege
}

// NewRole builds a role, dropping duplicate and empty privilege names.
func NewRole(name string, privileges ...Privilege) Role {
	seen := make(map[string]struct{}, len(privileges))
	out := make([]Privilege, 0, len(privileges))
	for _, p := range privileges {
		if p.Name == "" {
			continue
		}
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		out = append(out, p)
	}
	return Role{Name: name, Privileges: out}
}

// NewRoleFromNames builds a role from plain privilege names.
func NewRoleFromNames(name string, privileges ...string) Role {
	ps := make([]Privilege, 0, len(privileges))
	for _, p := range privileges {
		ps = append(ps, Privilege{Name: p})
	}
	return NewRole(name, ps...)
}

// PrivilegeNames returns the privilege names of the role.
func (r Role) PrivilegeNames() []string {
	names := make([]string, 0, len(r.Privileges))
	for _, p := range r.Privileges {
		names = append(names, p.Name)
	}
	return names
}
