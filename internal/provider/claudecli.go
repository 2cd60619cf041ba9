package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ClaudeCLIProvider shells out to the claude CLI in print mode.
type ClaudeCLIProvider struct {
	binary string
	model  string

	lookPath func(string) (string, error)
}

// NewClaudeCLIProvider creates a CLI-backed provider.
func NewClaudeCLIProvider(model string) *ClaudeCLIProvider {
	return &ClaudeCLIProvider{binary: "claude", model: model, lookPath: exec.LookPath}
}

// Name returns the provider name.
func (p *ClaudeCLIProvider) Name() string {
	return NameClaudeCLI
}

// Available reports whether the CLI is on PATH.
func (p *ClaudeCLIProvider) Available() bool {
	_, err := p.lookPath(p.binary)
	return err == nil
}

// Complete pipes the prompt to the CLI and returns its stdout.
func (p *ClaudeCLIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	args := []string{"--print"}
	if p.model != "" {
		args = append(args, "--model", p.model)
	}
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + prompt
	}

	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return nil, fmt.Errorf("claude-cli: interrupted: %w", ctx.Err())
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("claude-cli: timeout: %w", ctx.Err())
		case stderr.Len() > 0:
			return nil, fmt.Errorf("claude-cli: %s", strings.TrimSpace(stderr.String()))
		default:
			return nil, fmt.Errorf("claude-cli: run: %w", err)
		}
	}

	return &CompletionResponse{
		Text:         CleanProse(stdout.String()),
		ProviderName: p.Name(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}
