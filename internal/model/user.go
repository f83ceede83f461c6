package model

import "gorm.io/gorm"

// Role is a user's role in the dashboard.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// UserStatus is the account state managed from the admin panel.
type UserStatus string

const (
	UserActive  UserStatus = "active"
	UserPending UserStatus = "pending"
	UserBanned  UserStatus = "banned"
)

// Valid reports whether s is a known user status.
func (s UserStatus) Valid() bool {
	return s == UserActive || s == UserPending || s == UserBanned
}

// User is a dashboard account. Token authorizes calls to the user API.
type User struct {
	gorm.Model
	Name   string     `gorm:"type:varchar(255);not null" json:"name"`
	Email  string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Role   Role       `gorm:"type:varchar(16);default:'user';not null" json:"role"`
	Status UserStatus `gorm:"type:varchar(16);default:'active';not null" json:"status"`
	Token  string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"token,omitempty"`
	Avatar string     `gorm:"type:varchar(512)" json:"avatar,omitempty"`
}
