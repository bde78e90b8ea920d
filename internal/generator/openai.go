package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// DefaultOpenAIModel is OpenAI's image edit model.
	DefaultOpenAIModel = "gpt-image-1"
	// DefaultOpenAIBaseURL is the public OpenAI endpoint.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// OpenAI edits images through the Images edit endpoint.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(apiKey, baseURL, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return &OpenAI{client: client, model: model}
}

func (o *OpenAI) Name() string { return "openai:" + o.model }

func (o *OpenAI) Generate(ctx context.Context, req Request) (*Result, error) {
	mime := req.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	resp, err := o.client.Images.Edit(ctx, openai.ImageEditParams{
		Image: openai.ImageEditParamsImageUnion{
			OfFile: openai.File(bytes.NewReader(req.Image), "portrait"+extensionFor(mime), mime),
		},
		Prompt: req.Prompt,
		Model:  openai.ImageModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai image edit: %w", err)
	}
	res, err := resultFromOpenAI(resp)
	if err != nil {
		return nil, err
	}
	res.ModelVersion = o.model
	return res, nil
}

func resultFromOpenAI(resp *openai.ImagesResponse) (*Result, error) {
	if resp == nil || len(resp.Data) == 0 {
		return nil, ErrNoCandidates
	}
	first := resp.Data[0]
	if first.B64JSON == "" {
		return nil, ErrNoImagePart
	}
	img, err := base64.StdEncoding.DecodeString(first.B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode openai image: %w", err)
	}
	return &Result{
		Image:    img,
		MIMEType: "image/png",
		Note:     first.RevisedPrompt,
	}, nil
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
