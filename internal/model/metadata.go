package model

import (
	"sort"
	"strings"
)

// MetadataResult is the stock metadata generated for one file.
// Keyword order is significant: relevance order or alphabetical.
type MetadataResult struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Keywords    []string `json:"keywords"`
}

// GenerationOptions are the user's generation parameters for a batch or a single item.
type GenerationOptions struct {
	Platform        string `json:"platform"`
	TitleLength     int    `json:"titleLength"`
	KeywordCount    int    `json:"keywordCount"`
	Prefix          string `json:"prefix,omitempty"`
	SortByRelevance bool   `json:"sortByRelevance"`
}

const (
	DefaultPlatform     = "Shutterstock"
	DefaultTitleLength  = 100
	DefaultKeywordCount = 50
	MaxKeywordCount     = 100
	MaxTitleLength      = 200
)

// DefaultGenerationOptions mirrors the dashboard defaults.
func DefaultGenerationOptions() GenerationOptions {
	return GenerationOptions{
		Platform:        DefaultPlatform,
		TitleLength:     DefaultTitleLength,
		KeywordCount:    DefaultKeywordCount,
		SortByRelevance: true,
	}
}

// Normalize fills zero values with defaults and clamps out-of-range values.
func (o GenerationOptions) Normalize() GenerationOptions {
	if strings.TrimSpace(o.Platform) == "" {
		o.Platform = DefaultPlatform
	}
	if o.TitleLength <= 0 {
		o.TitleLength = DefaultTitleLength
	} else if o.TitleLength > MaxTitleLength {
		o.TitleLength = MaxTitleLength
	}
	if o.KeywordCount <= 0 {
		o.KeywordCount = DefaultKeywordCount
	} else if o.KeywordCount > MaxKeywordCount {
		o.KeywordCount = MaxKeywordCount
	}
	o.Prefix = strings.TrimSpace(o.Prefix)
	return o
}

// Apply post-processes a generated result: the prefix is prepended to title and
// description, and keywords are sorted A-Z when relevance ordering is disabled.
// The input is not modified.
func (o GenerationOptions) Apply(r MetadataResult) MetadataResult {
	out := r
	out.Keywords = append([]string(nil), r.Keywords...)
	if o.Prefix != "" {
		out.Title = o.Prefix + " " + r.Title
		out.Description = o.Prefix + " " + r.Description
	}
	if !o.SortByRelevance {
		sort.SliceStable(out.Keywords, func(i, j int) bool {
			return strings.ToLower(out.Keywords[i]) < strings.ToLower(out.Keywords[j])
		})
	}
	return out
}
