package model

import "time"

// SettingsID is the primary key of the single settings row.
const SettingsID = 1

// Settings holds the scraper schedule shared by the whole installation.
type Settings struct {
	ID                  uint      `gorm:"primaryKey" json:"-"`
	AutoScrapeTime      string    `gorm:"type:varchar(5);default:'09:00';not null" json:"autoScrapeTime"`
	LastScrapedDate     string    `gorm:"type:varchar(10)" json:"lastScrapedDate"`
	IsAutoScrapeEnabled bool      `gorm:"default:false;not null" json:"isAutoScrapeEnabled"`
	UpdatedAt           time.Time `json:"-"`
}

// DefaultSettings returns the settings used before an admin saves any.
func DefaultSettings() Settings {
	return Settings{ID: SettingsID, AutoScrapeTime: "09:00"}
}
