package shared

// Collection roles.
const (
	RoleAdmin = "admin"
	RoleSales = "sales"
)

// CollectionRoles lists the roles allowed to collect payments by default.
func CollectionRoles() []string {
	return []string{RoleAdmin, RoleSales}
}
