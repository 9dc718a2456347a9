package authz

// Guard performs role-based permission checks. Checks fail closed: any role
// outside the defined set denies.
type Guard struct{}

func NewGuard() *Guard {
	return &Guard{}
}

// Check reports whether an account holding role may act as required.
// Capability is ordered, so admin satisfies every check and viewer only
// satisfies viewer-level checks.
func (g *Guard) Check(role, required Role) bool {
	if !role.Valid() || !required.Valid() {
		return false
	}
	return role >= required
}
