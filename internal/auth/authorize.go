package auth

// Subject is an identity under permission evaluation: a user loaded from the
// store, or request claims with their resolved permissions. Predicates on
// Subject are pure and total.
type Subject struct {
	UUID        string
	BdeUUID     string
	Permissions []Permission
}

// NewSubject builds a subject from an identity and permission names.
func NewSubject(uuid, bdeUUID string, permissionNames []string) Subject {
	return Subject{
		UUID:        uuid,
		BdeUUID:     bdeUUID,
		Permissions: PermissionsFromNames(permissionNames),
	}
}

// Has reports whether the subject holds the named permission.
func (s Subject) Has(name string) bool {
	for _, p := range s.Permissions {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Level returns the maximum permission level held, 0 when none.
func (s Subject) Level() int {
	level := 0
	for _, p := range s.Permissions {
		if p.Level > level {
			level = p.Level
		}
	}
	return level
}

// CanManagePermissions decides whether source may change target's
// permissions. Gates evaluate in fixed order: ALL bypass (unless the target
// holds ALL too), capability, same BDE, strictly greater level.
func CanManagePermissions(source, target Subject) bool {
	if source.Has(PermissionAll) && !target.Has(PermissionAll) {
		return true
	}
	if !source.Has(PermissionManagePermissions) {
		return false
	}
	if source.BdeUUID != target.BdeUUID {
		return false
	}
	return source.Level() > target.Level()
}

// CanAddUser decides whether source may create a user in the given BDE.
func CanAddUser(source Subject, bdeUUID string) bool {
	if source.Has(PermissionAll) {
		return true
	}
	if !source.Has(PermissionAddUser) {
		return false
	}
	return source.BdeUUID == bdeUUID
}

// CanManageEvents decides whether source may manage events owned by the
// given BDE.
func CanManageEvents(source Subject, bdeUUID string) bool {
	if source.Has(PermissionAll) {
		return true
	}
	if !source.Has(PermissionManageEvents) {
		return false
	}
	return source.BdeUUID == bdeUUID
}

// CanManageBooking decides whether source may manage a booking belonging to
// userUUID for an event owned by bdeUUID. A user may always manage their own
// booking regardless of BDE permissions.
func CanManageBooking(source Subject, userUUID, bdeUUID string) bool {
	if source.UUID != "" && source.UUID == userUUID {
		return true
	}
	if source.Has(PermissionAll) {
		return true
	}
	if !source.Has(PermissionManageBookings) {
		return false
	}
	return source.BdeUUID == bdeUUID
}
