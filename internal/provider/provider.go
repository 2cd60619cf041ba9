// Package provider implements text-generation collaborators used to turn a
// ranked suggestion into prose. Providers are optional: every decision is
// made without them and their output is only ever attached as rationale.
package provider

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds a single provider call when the caller sets none.
const DefaultTimeout = 10 * time.Second

// DefaultMaxTokens bounds the length of generated prose.
const DefaultMaxTokens = 300

// Provider names.
const (
	NameAnthropic = "anthropic"
	NameClaudeCLI = "claude-cli"
	NameNone      = "none"
	NameAuto      = "auto"
)

// ErrUnavailable is returned when no usable provider is configured.
var ErrUnavailable = errors.New("no text provider available")

// Provider generates free text from a prompt.
type Provider interface {
	// Name returns the provider name (e.g., "anthropic", "claude-cli").
	Name() string

	// Available reports whether the provider can be called (API key present,
	// CLI found).
	Available() bool

	// Complete returns the generated text for req.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single prompt.
type CompletionRequest struct {
	System    string
	Prompt    string
	MaxTokens int64
}

// CompletionResponse is the generated text.
type CompletionResponse struct {
	Text         string
	ProviderName string
	LatencyMs    int64
}
