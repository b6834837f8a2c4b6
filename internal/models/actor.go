package models

// Actor roles
const (
	RoleClient = "client"
	RoleDriver = "driver"
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

// Actor is an authenticated principal.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// SystemActor is used for transitions driven by timers.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

func (a Actor) IsDriver() bool { return a.Role == RoleDriver }
func (a Actor) IsClient() bool { return a.Role == RoleClient }
func (a Actor) IsAdmin() bool  { return a.Role == RoleAdmin }

func IsValidRole(role string) bool {
	return role == RoleClient || role == RoleDriver || role == RoleAdmin
}
