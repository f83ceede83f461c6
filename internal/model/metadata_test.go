package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerationOptionsApply(t *testing.T) {
	result := MetadataResult{
		Title:       "Solar city at dusk",
		Description: "Futuristic city with vertical gardens.",
		Category:    "Technology",
		Keywords:    []string{"solarpunk", "City", "neon", "architecture"},
	}

	t.Run("prefix and alphabetical sort", func(t *testing.T) {
		opts := GenerationOptions{Prefix: "AI Generated", SortByRelevance: false}
		out := opts.Apply(result)
		assert.Equal(t, "AI Generated Solar city at dusk", out.Title)
		assert.Equal(t, "AI Generated Futuristic city with vertical gardens.", out.Description)
		assert.Equal(t, []string{"architecture", "City", "neon", "solarpunk"}, out.Keywords)
		// the input keeps its relevance order
		assert.Equal(t, "solarpunk", result.Keywords[0])
	})

	t.Run("relevance order kept without prefix", func(t *testing.T) {
		out := GenerationOptions{SortByRelevance: true}.Apply(result)
		assert.Equal(t, result, out)
	})
}

func TestGenerationOptionsNormalize(t *testing.T) {
	opts := GenerationOptions{TitleLength: 1000, KeywordCount: -1, Prefix: "  pre  "}.Normalize()
	assert.Equal(t, DefaultPlatform, opts.Platform)
	assert.Equal(t, MaxTitleLength, opts.TitleLength)
	assert.Equal(t, DefaultKeywordCount, opts.KeywordCount)
	assert.Equal(t, "pre", opts.Prefix)
}
