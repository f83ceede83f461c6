package model

import (
	"time"

	"gorm.io/gorm"
)

// Pool identifies which credential pool a key belongs to.
type Pool string

const (
	// PoolAdmin holds admin-managed rotation keys used by the trend scraper.
	PoolAdmin Pool = "admin"
	// PoolUser holds keys supplied by a user for their own batch jobs.
	PoolUser Pool = "user"
)

// CredentialStatus is the recorded health of a credential.
type CredentialStatus string

const (
	StatusActive        CredentialStatus = "active"
	StatusRateLimited   CredentialStatus = "rate_limited"
	StatusQuotaExceeded CredentialStatus = "quota_exceeded"
	StatusError         CredentialStatus = "error"
	StatusExpired       CredentialStatus = "expired"
)

// Valid reports whether s is a known status.
func (s CredentialStatus) Valid() bool {
	switch s {
	case StatusActive, StatusRateLimited, StatusQuotaExceeded, StatusError, StatusExpired:
		return true
	}
	return false
}

// Credential is a Gemini API key stored in the database.
// CreatedAt anchors the rotation window for admin-pool keys.
type Credential struct {
	gorm.Model
	Key          string           `gorm:"type:varchar(255);not null;uniqueIndex:idx_pool_owner_key" json:"-"`
	Label        string           `gorm:"type:varchar(255)" json:"label"`
	Pool         Pool             `gorm:"type:varchar(16);not null;uniqueIndex:idx_pool_owner_key;index" json:"pool"`
	OwnerID      uint             `gorm:"not null;default:0;uniqueIndex:idx_pool_owner_key" json:"owner_id"`
	Status       CredentialStatus `gorm:"type:varchar(50);default:'active';not null" json:"status"`
	FailureCount int              `gorm:"default:0;not null" json:"failure_count"`
	UsageCount   int64            `gorm:"default:0;not null" json:"usage_count"`
	LastUsedAt   *time.Time       `json:"last_used_at,omitempty"`
	StatusAt     *time.Time       `json:"status_at,omitempty"`
}
