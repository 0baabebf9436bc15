package models

// Roles carried in the token claims.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Permission constants
const (
	PermissionWalletRead  = "wallet:read"
	PermissionWalletWrite = "wallet:write"

	PermissionTransactionRead  = "transaction:read"
	PermissionTransactionWrite = "transaction:write"
)

// GetDefaultPermissions returns default permissions based on role
func GetDefaultPermissions(role string) []string {
	switch role {
	case RoleAdmin, RoleUser:
		return []string{
			PermissionWalletRead,
			PermissionWalletWrite,
			PermissionTransactionRead,
			PermissionTransactionWrite,
		}
	default:
		return []string{}
	}
}
