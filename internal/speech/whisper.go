package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/snarg/vox-engine/internal/fault"
)

// WhisperClient calls a self-hosted OpenAI-compatible /v1/audio/transcriptions
// endpoint (speaches, whisper-server, etc). Implements Provider.
type WhisperClient struct {
	url     string
	model   string
	timeout time.Duration
	client  *http.Client
}

// whisperResponse is the parsed response (json format).
type whisperResponse struct {
	Text string `json:"text"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:     url,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (wc *WhisperClient) Name() string  { return "whisper" }
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe sends audio bytes to the Whisper API using multipart/form-data.
func (wc *WhisperClient) Transcribe(ctx context.Context, audio []byte, codecHint string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "audio."+codecHint)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if wc.model != "" {
		w.WriteField("model", wc.model)
	}
	w.WriteField("response_format", "json")
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := wc.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return "", fault.Errorf(fault.Timeout, err, "whisper request")
		}
		return "", fault.Errorf(fault.Unavailable, err, "whisper request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fault.Errorf(fault.Unavailable, err, "whisper read response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fault.New(fault.RateLimited, "whisper rate limited")
	case resp.StatusCode >= 500:
		return "", fault.New(fault.Unavailable, fmt.Sprintf("whisper status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return "", fault.New(fault.InvalidInput, fmt.Sprintf("whisper status %d", resp.StatusCode))
	}

	var wr whisperResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return "", fault.Errorf(fault.Unavailable, err, "whisper decode response")
	}
	return wr.Text, nil
}
