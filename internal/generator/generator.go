// Package generator wraps the image-edit services that transform a portrait.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoCandidates means the service answered without any candidate output.
	ErrNoCandidates = errors.New("no candidates in response")
	// ErrNoImagePart means the first candidate carried no image bytes.
	ErrNoImagePart = errors.New("no image part in response")
)

// DefaultTimeout bounds one generation call.
const DefaultTimeout = 120 * time.Second

// Request is one image edit: an instruction applied to a reference image.
type Request struct {
	Prompt   string
	Image    []byte
	MIMEType string
}

// Result is the edited image plus the service's bookkeeping.
type Result struct {
	Image        []byte
	MIMEType     string
	Note         string
	ModelVersion string
	ResponseID   string
}

// Generator performs image edits.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
	Name() string
}

// Config selects and configures a backend.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// New builds the configured backend.
func New(ctx context.Context, cfg Config) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generator api key not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		return NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.Timeout)
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}
