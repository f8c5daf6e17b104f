package model

// Role constants
const (
	RoleClient     = "client"
	RoleStrategist = "strategist"
	RoleCompliance = "compliance"
)

// Principal is the authenticated caller of a workflow operation
type Principal struct {
	UserID string
	Role   string
}

// ValidRole reports whether role is one of the known roles
func ValidRole(role string) bool {
	return role == RoleClient || role == RoleStrategist || role == RoleCompliance
}
