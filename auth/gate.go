package auth

import (
	"gitlab.com/gridshare/gpu-cloud-service/models"
)

// The gate is polymorphic over capability, not identity: every operation
// declares what it requires and the check returns a typed deny rather than
// raising inline.

// RequireRole allows users whose declared account role matches. Admins pass
// every role check. The declared role gates what an account may own (host
// devices), while the active role only selects the listing perspective.
func RequireRole(user *models.User, role models.UserRole) error {
	if user == nil {
		return ErrNoCredential
	}
	if user.IsAdmin() {
		return nil
	}
	if user.Role != role {
		return ErrWrongRole
	}
	return nil
}

// RequireAdmin allows only accounts carrying the admin role.
func RequireAdmin(user *models.User) error {
	if user == nil {
		return ErrNoCredential
	}
	if !user.IsAdmin() {
		return ErrWrongRole
	}
	return nil
}

// RequireOwner allows the resource owner and admins.
func RequireOwner(user *models.User, ownerID string) error {
	if user == nil {
		return ErrNoCredential
	}
	if user.IsAdmin() {
		return nil
	}
	if user.ID != ownerID {
		return ErrNotOwner
	}
	return nil
}

// CanSwitchRole checks the capability flags behind a role switch: operating
// as host requires at least one registered host device.
func CanSwitchRole(user *models.User, role models.UserRole) error {
	if user == nil {
		return ErrNoCredential
	}
	switch role {
	case models.RoleHost:
		if !user.IsHost {
			return ErrWrongRole
		}
	case models.RoleRenter:
		if !user.IsRenter {
			return ErrWrongRole
		}
	default:
		return ErrWrongRole
	}
	return nil
}
