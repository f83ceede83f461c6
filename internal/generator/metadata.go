package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/ubuygold/stockmeta/internal/model"
)

// maxSVGChars bounds the SVG source sent to the model.
const maxSVGChars = 10000

var rasterTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// MetadataRequest is one queue item to describe. Text items carry a description
// instead of file data.
type MetadataRequest struct {
	FileName string
	MIMEType string
	Data     []byte
	Text     string
	Options  model.GenerationOptions
}

var metadataSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":       {Type: genai.TypeString},
		"description": {Type: genai.TypeString},
		"category":    {Type: genai.TypeString},
		"keywords":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"title", "description", "category", "keywords"},
}

func metadataInstruction(opts model.GenerationOptions) string {
	return fmt.Sprintf(`You are an expert Microstock Metadata Keyworder.
Analyze the input (image or text description) and generate SEO-optimized metadata for %[1]s.

Rules:
1. Title: a descriptive title of at most %[2]d characters. Include main subjects and actions.
2. Description: 15-40 words, complete sentences, include mood, lighting and concepts.
3. Keywords: generate EXACTLY %[3]d keywords, most relevant first.
4. Keywords are single words or short phrases.
5. No trademarks, brand names or protected landmarks.
6. Include conceptual keywords (e.g. "success", "freedom", "technology").
7. Category: the most appropriate stock category (e.g. Business, Technology, Lifestyle, Nature).
8. Output pure JSON.`, opts.Platform, opts.TitleLength, opts.KeywordCount)
}

// metadataParts builds the model input for one item, rejecting types the model
// cannot analyze.
func metadataParts(req MetadataRequest, platform string) ([]genai.Part, error) {
	if strings.TrimSpace(req.Text) != "" && len(req.Data) == 0 {
		return []genai.Part{genai.Text(fmt.Sprintf(
			"Generate metadata for a stock image described as: %q. Optimized for %s.", req.Text, platform))}, nil
	}

	mimeType := strings.ToLower(strings.TrimSpace(req.MIMEType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	if len(req.Data) == 0 {
		return nil, validationf("%s: file is empty", req.FileName)
	}

	switch {
	case mimeType == "application/postscript":
		return nil, validationf("%s: visual analysis requires a JPG/PNG preview, upload a preview instead of EPS", req.FileName)
	case mimeType == "image/svg+xml":
		svg := []rune(string(req.Data))
		if len(svg) > maxSVGChars {
			svg = svg[:maxSVGChars]
		}
		return []genai.Part{genai.Text(fmt.Sprintf(
			"Analyze this SVG code and generate metadata optimized for %s. Describe what the code draws visually.\n\nCode: %s",
			platform, string(svg)))}, nil
	case rasterTypes[mimeType]:
		return []genai.Part{
			genai.Blob{MIMEType: mimeType, Data: req.Data},
			genai.Text(fmt.Sprintf("Generate metadata for this image optimized for %s.", platform)),
		}, nil
	}
	return nil, validationf("%s: unsupported file type %s", req.FileName, mimeType)
}

// GenerateMetadata describes one file or text item. The result is returned as the
// model produced it, cleaned of blank and duplicate keywords; prefix and sort
// post-processing is up to the caller.
func (g *Generator) GenerateMetadata(ctx context.Context, key string, req MetadataRequest) (model.MetadataResult, error) {
	opts := req.Options.Normalize()
	parts, err := metadataParts(req, opts.Platform)
	if err != nil {
		return model.MetadataResult{}, err
	}

	text, err := g.generate(ctx, key, request{
		op:     "metadata",
		system: metadataInstruction(opts),
		schema: metadataSchema,
		parts:  parts,
	})
	if err != nil {
		return model.MetadataResult{}, err
	}

	var result model.MetadataResult
	if err := decode(text, &result); err != nil {
		return model.MetadataResult{}, err
	}
	result.Title = strings.TrimSpace(result.Title)
	result.Description = strings.TrimSpace(result.Description)
	result.Category = strings.TrimSpace(result.Category)
	result.Keywords = cleanKeywords(result.Keywords, opts.KeywordCount)
	if result.Title == "" && len(result.Keywords) == 0 {
		return model.MetadataResult{}, ErrEmptyResponse
	}
	return result, nil
}

func cleanKeywords(in []string, limit int) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		lower := strings.ToLower(kw)
		if kw == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, kw)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
