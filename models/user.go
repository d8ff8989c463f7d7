package models

import "time"

type UserRole string

const (
	RoleRenter UserRole = "renter"
	RoleHost   UserRole = "host"
	RoleAdmin  UserRole = "admin"
)

// User is an account backed by an external identity provider. The primary
// key is the provider's opaque subject id, not a local serial.
type User struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	Email           string    `json:"email" gorm:"uniqueIndex;not null"`
	Username        string    `json:"username"`
	FirstName       string    `json:"first_name,omitempty"`
	LastName        string    `json:"last_name,omitempty"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
	OauthProvider   string    `json:"oauth_provider" gorm:"default:google"`
	Role            UserRole  `json:"role" gorm:"default:renter"`
	ActiveRole      UserRole  `json:"active_role" gorm:"default:renter"`
	IsHost          bool      `json:"is_host" gorm:"default:false"`
	IsRenter        bool      `json:"is_renter" gorm:"default:true"`
	IsActive        bool      `json:"is_active" gorm:"default:true"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsAdmin reports whether the account carries the admin role, which is
// independent of the role the user is currently operating as.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
