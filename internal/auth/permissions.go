package auth

// Permission is a named capability with an integer strength used to break
// ties in hierarchical management checks.
type Permission struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// Permission names. ALL is a sentinel that bypasses ownership and level
// checks except against subjects that themselves hold ALL.
const (
	PermissionAll               = "ALL"
	PermissionManagePermissions = "MANAGE_PERMISSIONS"
	PermissionManageEvents      = "MANAGE_EVENTS"
	PermissionManageBookings    = "MANAGE_BOOKINGS"
	PermissionAddUser           = "ADD_USER"
)

// BuiltinPermissions is the permission catalog. It is data, not logic: users
// store permission names and the API resolves them against this slice at
// evaluation time.
var BuiltinPermissions = []Permission{
	{Name: PermissionAll, Level: 100},
	{Name: PermissionManagePermissions, Level: 50},
	{Name: PermissionManageEvents, Level: 30},
	{Name: PermissionManageBookings, Level: 30},
	{Name: PermissionAddUser, Level: 20},
}

// PermissionsFromNames resolves permission names against the catalog.
// Unknown names are dropped silently; duplicates collapse to one entry.
func PermissionsFromNames(names []string) []Permission {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	var out []Permission
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		for _, p := range BuiltinPermissions {
			if p.Name == name {
				seen[name] = struct{}{}
				out = append(out, p)
				break
			}
		}
	}
	return out
}
