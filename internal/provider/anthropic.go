package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// messageClient is the subset of the SDK message service used here.
type messageClient interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	messages messageClient
	apiKey   string
	model    string
}

// NewAnthropicProvider creates a provider using apiKey, falling back to
// ANTHROPIC_API_KEY when apiKey is empty.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	p := &AnthropicProvider{apiKey: apiKey, model: model}
	if apiKey != "" {
		client := sdk.NewClient(option.WithAPIKey(apiKey))
		p.messages = &client.Messages
	}
	return p
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return NameAnthropic
}

// Available reports whether an API key is configured.
func (p *AnthropicProvider) Available() bool {
	return p.messages != nil
}

// Complete sends req as a single user message.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if p.messages == nil {
		return nil, fmt.Errorf("anthropic: %w: no API key", ErrUnavailable)
	}
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: create message: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &CompletionResponse{
		Text:         CleanProse(sb.String()),
		ProviderName: p.Name(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}
