package model

import "gorm.io/gorm"

// Competition is the estimated contributor competition for a niche.
type Competition string

const (
	CompetitionLow    Competition = "Low"
	CompetitionMedium Competition = "Medium"
	CompetitionHigh   Competition = "High"
)

// Trend is a trending microstock niche, either from the built-in catalog or a live scrape.
type Trend struct {
	gorm.Model   `json:"-"`
	Ref          string      `gorm:"type:varchar(64);index" json:"id"`
	Title        string      `gorm:"type:varchar(255);not null" json:"title"`
	Description  string      `gorm:"type:text" json:"description"`
	Competition  Competition `gorm:"type:varchar(16)" json:"competition"`
	SearchVolume string      `gorm:"type:varchar(32)" json:"searchVolume"`
	Category     string      `gorm:"type:varchar(128)" json:"category"`
	Keywords     []string    `gorm:"serializer:json" json:"keywords"`
	Concepts     []string    `gorm:"serializer:json" json:"concepts"`
	Position     int         `gorm:"not null;default:0" json:"-"`
}

// Keyword is a low-competition keyword suggestion.
type Keyword struct {
	ID              string   `json:"id"`
	Keyword         string   `json:"keyword"`
	Difficulty      int      `json:"difficulty"`
	Volume          string   `json:"volume"`
	Trend           string   `json:"trend"`
	SuggestedPrompt string   `json:"suggestedPrompt,omitempty"`
	Concepts        []string `json:"concepts,omitempty"`
}

// GeneratedPrompt is an image-generation prompt idea.
type GeneratedPrompt struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
}
