// Package summarize turns one local day of transcripts into a categorized
// digest via an LLM.
package summarize

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/snarg/vox-engine/internal/fault"
)

//go:embed prompt.txt
var defaultPrompt string

// Keep the request bounded; a day of voice notes can exceed the model window.
const maxTranscriptChars = 30000

// Result is the structured summary plus token accounting for the ledger.
type Result struct {
	Family    []string `json:"family"`
	Business  []string `json:"business"`
	Misc      []string `json:"misc"`
	TokensIn  int64    `json:"-"`
	TokensOut int64    `json:"-"`
}

// Client calls the summary LLM.
type Client struct {
	client openai.Client
	model  string
	prompt *PromptTemplate
}

// NewClient creates a summary client. baseURL is optional (OpenAI-compatible
// gateways); prompt may be nil to use the embedded default.
func NewClient(apiKey, model, baseURL string, prompt *PromptTemplate) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
		prompt: prompt,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Summarize submits the concatenated transcripts and parses the categorized
// response. An empty transcript is valid and yields three empty lists.
func (c *Client) Summarize(ctx context.Context, transcripts string) (*Result, error) {
	if len(transcripts) > maxTranscriptChars {
		transcripts = transcripts[:maxTranscriptChars]
	}

	prompt := defaultPrompt
	if c.prompt != nil {
		prompt = c.prompt.Current()
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage("Transcripts for the day:\n\n" + transcripts),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, classifyAPIError(err, "summarize")
	}
	if len(resp.Choices) == 0 {
		return nil, fault.New(fault.Unavailable, "summary model returned no choices")
	}

	var r Result
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &r); err != nil {
		return nil, fault.Errorf(fault.Unavailable, err, "summary model returned malformed JSON")
	}
	if r.Family == nil {
		r.Family = []string{}
	}
	if r.Business == nil {
		r.Business = []string{}
	}
	if r.Misc == nil {
		r.Misc = []string{}
	}
	r.TokensIn = resp.Usage.PromptTokens
	r.TokensOut = resp.Usage.CompletionTokens
	return &r, nil
}

// FormatTranscripts renders transcripts for the model, one timestamped block
// per recording.
func FormatTranscripts(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", e.RecordedAt, strings.TrimSpace(e.Text))
	}
	return b.String()
}

// Entry is one transcript as fed to the model.
type Entry struct {
	RecordedAt string // HH:MM local
	Text       string
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
		}
	}
	return fault.Errorf(fault.Unavailable, err, "%s", op)
}
