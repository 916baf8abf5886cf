package role

// Role is the display-facing role supplied by the session collaborator.
type Role struct {
	Name string
}

func (r Role) Code() string {
	return r.Name
}

type Enum struct {
	Staff Role
	Expo  Role
	Admin Role
}

var Roles = Enum{
	Staff: Role{Name: "staff"},
	Expo:  Role{Name: "expo"},
	Admin: Role{Name: "admin"},
}

var All = []Role{
	Roles.Staff,
	Roles.Expo,
	Roles.Admin,
}

// ByName returns the role for a given name, or nil if not found
func ByName(name string) *Role {
	for _, r := range All {
		if r.Name == name {
			return &r
		}
	}
	return nil
}
