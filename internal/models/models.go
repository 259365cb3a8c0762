package models

import (
	"time"
)

const (
	RoleUser   = "user"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
	RoleVendor = "vendor"
)

func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleEditor, RoleAdmin, RoleVendor:
		return true
	}
	return false
}

// User is the persisted identity. RefreshToken holds the single active
// rotation credential: a new rotation overwrites the previous value, there is
// no session table.
type User struct {
	ID           string     `gorm:"primaryKey"            json:"id"`
	Email        string     `gorm:"uniqueIndex;not null"  json:"email"`
	FederatedUID string     `gorm:"index"                 json:"federated_uid,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Role         string     `gorm:"not null;default:user" json:"role"`
	PasswordHash string     `json:"-"`
	RefreshToken *string    `json:"-"`
	Banned       bool       `gorm:"default:false"         json:"banned"`
	BanEndsAt    *time.Time `json:"ban_ends_at,omitempty"`
	BanReason    string     `json:"ban_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BannedNow reports whether the ban is currently in effect.
func (u *User) BannedNow(now time.Time) bool {
	if !u.Banned {
		return false
	}
	if u.BanEndsAt == nil {
		return true
	}
	return now.Before(*u.BanEndsAt)
}
