package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"

	"github.com/ubuygold/stockmeta/internal/model"
)

// PromptCounts are the batch sizes a user may request.
var PromptCounts = []int{10, 20, 50, 100}

// PromptStyles are the supported visual styles.
var PromptStyles = []string{
	"Photorealistic",
	"Vector Illustration",
	"3D Render",
	"Flat Icon",
	"Watercolor",
	"Line Art",
}

// PromptRequest asks for image-prompt ideas on a topic. Liked and Disliked carry
// prompts from earlier generations as feedback.
type PromptRequest struct {
	Topic    string   `json:"topic"`
	Keywords []string `json:"keywords"`
	Count    int      `json:"count"`
	Style    string   `json:"style"`
	Liked    []string `json:"liked,omitempty"`
	Disliked []string `json:"disliked,omitempty"`
}

// Validate checks the request and fills the default style.
func (r *PromptRequest) Validate() error {
	r.Topic = strings.TrimSpace(r.Topic)
	if r.Topic == "" {
		return validationf("topic is required")
	}
	if r.Count == 0 {
		r.Count = PromptCounts[0]
	}
	if !slices.Contains(PromptCounts, r.Count) {
		return validationf("count must be one of %v", PromptCounts)
	}
	if r.Style == "" {
		r.Style = PromptStyles[0]
	}
	if !slices.Contains(PromptStyles, r.Style) {
		return validationf("unknown style %q", r.Style)
	}
	return nil
}

var promptSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"text":           {Type: genai.TypeString, Description: "The full prompt text."},
			"negativePrompt": {Type: genai.TypeString, Description: "Keywords to avoid artifacts and bad quality."},
			"aspectRatio":    {Type: genai.TypeString, Description: "Recommended aspect ratio like 16:9, 3:2, 1:1."},
		},
		Required: []string{"text"},
	},
}

func keywordList(keywords []string) string {
	if len(keywords) == 0 {
		return "commercial stock photography terms"
	}
	return strings.Join(keywords, ", ")
}

func promptInstruction(req PromptRequest) string {
	return fmt.Sprintf(`You are an expert microstock contributor and AI artist assistant.
Generate high-quality, commercial-grade image prompts for stock sites (Shutterstock, Adobe Stock, Freepik).

STYLE: %s

Rules:
1. Prompts are highly detailed, visual and descriptive.
2. Focus on commercial value, copy space, lighting and composition.
3. Avoid trademarked brands, celebrities and logos.
4. Include technical keywords relevant to the style ('8k', 'photorealistic' for photos; 'vector', 'flat design', 'white background' for vectors).
5. Consider diversity and inclusion for human subjects.
6. Incorporate these keywords subtly where appropriate: %s.
7. Output EXACTLY the requested number of prompts.
8. English only.
9. Include a negativePrompt that avoids common AI artifacts (extra fingers, deformed, blurry, text, watermark).
10. Suggest the best aspectRatio for the composition (3:2, 16:9, 1:1, 9:16).`, req.Style, keywordList(req.Keywords))
}

func promptUserText(req PromptRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate %d unique, high-selling microstock prompts for the topic: %q in the style of %s. Optimize them for the keywords: %s.",
		req.Count, req.Topic, req.Style, keywordList(req.Keywords))
	if len(req.Liked) > 0 {
		liked, _ := json.Marshal(req.Liked)
		fmt.Fprintf(&sb, "\n\nFEEDBACK FROM USER: the user LIKED these prompts from previous generations. Generate new prompts with similar structure and qualities:\n%s", liked)
	}
	if len(req.Disliked) > 0 {
		disliked, _ := json.Marshal(req.Disliked)
		fmt.Fprintf(&sb, "\n\nFEEDBACK FROM USER: the user DISLIKED these prompts. Avoid this style and structure:\n%s", disliked)
	}
	return sb.String()
}

// GeneratePrompts returns image-prompt ideas for a topic.
func (g *Generator) GeneratePrompts(ctx context.Context, key string, req PromptRequest) ([]model.GeneratedPrompt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	text, err := g.generate(ctx, key, request{
		op:     "prompts",
		system: promptInstruction(req),
		schema: promptSchema,
		parts:  []genai.Part{genai.Text(promptUserText(req))},
	})
	if err != nil {
		return nil, err
	}

	var raw []model.GeneratedPrompt
	if err := decode(text, &raw); err != nil {
		return nil, err
	}
	prompts := make([]model.GeneratedPrompt, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		p.ID = uuid.NewString()
		prompts = append(prompts, p)
	}
	return prompts, nil
}
