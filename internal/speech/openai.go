package speech

import (
	"bytes"
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/snarg/vox-engine/internal/fault"
)

// OpenAIClient transcribes via the OpenAI audio transcription API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI speech backend.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (c *OpenAIClient) Name() string  { return "openai" }
func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, codecHint string) (string, error) {
	name := "audio." + codecHint
	resp, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), name, "application/octet-stream"),
		Model: openai.AudioModel(c.model),
	})
	if err != nil {
		return "", classifyAPIError(err, "speech transcribe")
	}
	return resp.Text, nil
}

// classifyAPIError maps OpenAI client errors onto the fault taxonomy.
func classifyAPIError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fault.Errorf(fault.Timeout, err, "%s", op)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fault.Errorf(fault.RateLimited, err, "%s", op)
		case apiErr.StatusCode >= 500:
			return fault.Errorf(fault.Unavailable, err, "%s", op)
		case apiErr.StatusCode >= 400:
			return fault.Errorf(fault.InvalidInput, err, "%s", op)
		}
	}
	return fault.Errorf(fault.Unavailable, err, "%s", op)
}
