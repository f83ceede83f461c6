package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"

	"github.com/ubuygold/stockmeta/internal/model"
)

// TrendCount is the number of niches requested per scrape.
const TrendCount = 6

var trendSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":        {Type: genai.TypeString},
			"description":  {Type: genai.TypeString},
			"competition":  {Type: genai.TypeString, Enum: []string{"Low", "Medium", "High"}},
			"searchVolume": {Type: genai.TypeString},
			"category":     {Type: genai.TypeString},
			"keywords":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"concepts":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		},
		Required: []string{"title", "description", "competition", "category"},
	},
}

type scrapedTrend struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Competition  string   `json:"competition"`
	SearchVolume string   `json:"searchVolume"`
	Category     string   `json:"category"`
	Keywords     []string `json:"keywords"`
	Concepts     []string `json:"concepts"`
}

func trendInstruction(now time.Time) string {
	date := now.Format("Mon Jan 02 2006")
	return fmt.Sprintf(`You are a real-time market data analyst for microstock photography.

TASK: report current global trends, news events and seasonal demand suitable for stock
photography (Shutterstock, Adobe Stock). Generate fresh data for %[1]s, never generic data.

Rules:
1. Identify %[2]d distinct, high-potential niches for %[1]s.
2. Estimate search volume and competition difficulty from market knowledge.
3. Suggest 3-5 visual concepts for each trend.
4. Provide relevant keywords.
5. Format as JSON.`, date, TrendCount)
}

// ScrapeTrends asks the model for today's trending niches, in the order returned.
func (g *Generator) ScrapeTrends(ctx context.Context, key string, now time.Time) ([]model.Trend, error) {
	text, err := g.generate(ctx, key, request{
		op:     "trends",
		system: trendInstruction(now),
		schema: trendSchema,
		parts: []genai.Part{genai.Text(fmt.Sprintf(
			"Perform a deep market analysis for today, %s at %s. List %d trending microstock niches with low to medium competition that are rising right now.",
			now.Format("Mon Jan 02 2006"), now.Format("15:04:05 MST"), TrendCount))},
	})
	if err != nil {
		return nil, err
	}

	var scraped []scrapedTrend
	if err := decode(text, &scraped); err != nil {
		return nil, err
	}

	trends := make([]model.Trend, 0, len(scraped))
	for _, s := range scraped {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		trends = append(trends, model.Trend{
			Ref:          uuid.NewString(),
			Title:        strings.TrimSpace(s.Title),
			Description:  strings.TrimSpace(s.Description),
			Competition:  normalizeCompetition(s.Competition),
			SearchVolume: s.SearchVolume,
			Category:     s.Category,
			Keywords:     cleanKeywords(s.Keywords, 0),
			Concepts:     s.Concepts,
		})
		if len(trends) == TrendCount {
			break
		}
	}
	if len(trends) == 0 {
		return nil, ErrEmptyResponse
	}
	return trends, nil
}

func normalizeCompetition(s string) model.Competition {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return model.CompetitionLow
	case "high":
		return model.CompetitionHigh
	}
	return model.CompetitionMedium
}
