package authz

import "fmt"

// Role is the closed set of account roles. The numeric order is the
// capability order: a higher role implies every lower role's capabilities.
type Role int8

const (
	RoleUnknown Role = iota
	RoleViewer
	RoleUser
	RoleModerator
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleViewer:    "viewer",
	RoleUser:      "user",
	RoleModerator: "moderator",
	RoleAdmin:     "admin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole maps a stored role name to its Role. Unrecognized names are an
// error so a bad row denies instead of silently granting.
func ParseRole(name string) (Role, error) {
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", name)
}

// Scan implements sql.Scanner so the role column round-trips through gorm.
func (r *Role) Scan(value interface{}) error {
	var name string
	switch v := value.(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Role", value)
	}

	role, err := ParseRole(name)
	if err != nil {
		// Keep the row readable; the guard denies RoleUnknown anyway.
		*r = RoleUnknown
		return nil
	}
	*r = role
	return nil
}

// Value implements driver.Valuer.
func (r Role) Value() (interface{}, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot store invalid role %d", int8(r))
	}
	return r.String(), nil
}
