package generator

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"dorian/internal/logger"
)

func TestResultFromGemini(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		ResponseID:   "resp-1",
		ModelVersion: "gemini-2.5-flash-image-preview",
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Added cracks to the varnish."},
				{InlineData: &genai.Blob{Data: []byte("png-bytes"), MIMEType: "image/png"}},
				{InlineData: &genai.Blob{Data: []byte("second"), MIMEType: "image/png"}},
			}},
		}},
	}

	hook := logtest.NewLocal(logger.GetLogger())
	defer hook.Reset()

	res, err := resultFromGemini(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), res.Image)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "carried 2 images")
	assert.Equal(t, "image/png", res.MIMEType)
	assert.Equal(t, "Added cracks to the varnish.", res.Note)
	assert.Equal(t, "resp-1", res.ResponseID)
	assert.Equal(t, "gemini-2.5-flash-image-preview", res.ModelVersion)
}

func TestResultFromGemini_Failures(t *testing.T) {
	_, err := resultFromGemini(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, ErrNoCandidates)

	_, err = resultFromGemini(nil)
	assert.ErrorIs(t, err, ErrNoCandidates)

	textOnly := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: "I cannot edit this image."}}},
	}}}
	_, err = resultFromGemini(textOnly)
	assert.ErrorIs(t, err, ErrNoImagePart)

	_, err = resultFromGemini(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}})
	assert.ErrorIs(t, err, ErrNoImagePart)
}

func TestResultFromOpenAI(t *testing.T) {
	resp := &openai.ImagesResponse{Data: []openai.Image{{B64JSON: base64.StdEncoding.EncodeToString([]byte("img"))}}}
	res, err := resultFromOpenAI(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), res.Image)

	_, err = resultFromOpenAI(&openai.ImagesResponse{})
	assert.ErrorIs(t, err, ErrNoCandidates)

	_, err = resultFromOpenAI(&openai.ImagesResponse{Data: []openai.Image{{URL: "https://example.com/x.png"}}})
	assert.ErrorIs(t, err, ErrNoImagePart)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "gemini"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Provider: "midjourney", APIKey: "k"})
	assert.Error(t, err)

	g, err := New(context.Background(), Config{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-image-1", g.Name())
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".jpg", extensionFor("image/jpeg"))
	assert.Equal(t, ".png", extensionFor("image/png"))
	assert.Equal(t, ".png", extensionFor(""))
}
