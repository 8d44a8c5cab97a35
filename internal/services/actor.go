package services

import "marketplace/internal/models"

// Actor is the authenticated caller. Every operation receives it explicitly.
type Actor struct {
	UserID string
	Roles  []models.Role
}

func (a Actor) Has(role models.Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// System is used by background jobs and verified gateway callbacks.
var System = Actor{UserID: "system", Roles: []models.Role{models.RoleAdmin}}
