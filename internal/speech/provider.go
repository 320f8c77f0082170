// Package speech calls external speech-to-text services.
package speech

import "context"

// Provider is the interface for speech-to-text backends.
type Provider interface {
	// Transcribe submits normalized audio bytes and returns the text.
	// Empty text is a legitimate outcome (silent audio), not an error.
	Transcribe(ctx context.Context, audio []byte, codecHint string) (string, error)
	Name() string  // "openai", "whisper"
	Model() string // model identifier for logs
}
