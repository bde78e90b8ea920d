package generator

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"dorian/internal/logger"
)

// DefaultGeminiModel is the image-capable Gemini model.
const DefaultGeminiModel = "gemini-2.5-flash-image-preview"

// Gemini edits images with Gemini's generateContent.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration) (*Gemini, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, timeout: timeout}, nil
}

func (g *Gemini) Name() string { return "gemini:" + g.model }

func (g *Gemini) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	mime := req.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(req.Prompt),
			genai.NewPartFromBytes(req.Image, mime),
		}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini generateContent: %w", err)
	}
	res, err := resultFromGemini(resp)
	if err != nil {
		return nil, err
	}
	if res.ModelVersion == "" {
		res.ModelVersion = g.model
	}
	return res, nil
}

// resultFromGemini takes the first inline image of the first candidate and the
// first text part as the note. Further image parts are dropped with a warning.
func resultFromGemini(resp *genai.GenerateContentResponse) (*Result, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ErrNoCandidates
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return nil, ErrNoImagePart
	}

	res := &Result{ModelVersion: resp.ModelVersion, ResponseID: resp.ResponseID}
	images := 0
	for _, part := range cand.Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			images++
			if res.Image == nil {
				res.Image = part.InlineData.Data
				res.MIMEType = part.InlineData.MIMEType
			}
		}
		if part.Text != "" && res.Note == "" && !part.Thought {
			res.Note = part.Text
		}
	}
	if res.Image == nil {
		return nil, ErrNoImagePart
	}
	if images > 1 {
		logger.GetLogger().Warnf("Gemini response %s carried %d images, keeping the first", resp.ResponseID, images)
	}
	if res.MIMEType == "" {
		res.MIMEType = "image/png"
	}
	return res, nil
}
