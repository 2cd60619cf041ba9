package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/runger/prizm/internal/config"
	"github.com/runger/prizm/internal/suggestions/api"
	"github.com/runger/prizm/internal/suggestions/learning"
	"github.com/runger/prizm/internal/suggestions/model"
)

func TestRenderSuggestion_Empty(t *testing.T) {
	setColors(false)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s := &model.Suggestion{
		ID:        "s-1",
		ActionID:  "task-1",
		Category:  model.CategoryAssignment,
		State:     model.StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(2 * time.Hour),
		Excluded: []model.Exclusion{
			{OptionID: "assign-alice", OptionType: "skill-based-assignment", ResourceID: "alice", Reason: model.ExcludedOverCeiling},
		},
	}

	var buf bytes.Buffer
	renderSuggestion(&buf, s, false, now)
	out := buf.String()
	for _, want := range []string{"task-1 · assignment", "expires in 2h0m0s", "No eligible options.", "excluded alice (skill-based-assignment): utilization_ceiling"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSuggestion_Factors(t *testing.T) {
	setColors(false)
	s := &model.Suggestion{
		ID:       "s-2",
		ActionID: "task-1",
		Category: model.CategoryCoaching,
		State:    model.StateAccepted,
		Ranked: []model.RankedOption{{
			Rank:       1,
			Option:     model.Option{ID: "coach-bob", Type: "pair-with-mentor", ResourceID: "bob"},
			Score:      0.71,
			Confidence: 0.9,
			Factors: []model.Factor{
				{Name: "reliability_gap", Value: 0.8, Weight: 0.5, Contribution: 0.4, Percent: 56},
				{Name: "quality", Value: 0.62, Weight: 0.5, Contribution: 0.31, Percent: 44, Defaulted: true},
			},
		}},
		Rationale:       "Ranked #1 coach-bob due to: reliability gap 56%.",
		RationaleSource: "template",
	}

	var buf bytes.Buffer
	renderSuggestion(&buf, s, true, time.Now())
	out := buf.String()
	for _, want := range []string{"#1  bob (pair-with-mentor)", "reliability_gap", "quality", "(default)", "Ranked #1 coach-bob", "(template)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "expires in") {
		t.Errorf("resolved suggestion should not show expiry:\n%s", out)
	}
}

func TestRenderStats(t *testing.T) {
	setColors(false)
	avg := 4.5
	resp := api.StatsResponse{
		Stats: []learning.Summary{{
			Stat:        learning.Stat{Key: learning.Key{Category: model.CategoryAssignment, OptionType: "skill-based-assignment"}, Samples: 6},
			HelpfulRate: 0.5,
			ActionRate:  0.25,
			AvgRating:   &avg,
			Multiplier:  1.2,
			Trusted:     true,
			Suppressed:  true,
		}},
		Counters: map[string]int64{"suggest_requests": 3},
	}

	var buf bytes.Buffer
	renderStats(&buf, resp)
	out := buf.String()
	for _, want := range []string{"skill-based-assignment", "50%", "25%", "4.5", "1.20", "suppressed", "suggest_requests"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "untrusted") {
		t.Errorf("trusted stat rendered as untrusted:\n%s", out)
	}

	buf.Reset()
	renderStats(&buf, api.StatsResponse{})
	if !strings.Contains(buf.String(), "No feedback recorded yet.") {
		t.Errorf("empty stats output = %q", buf.String())
	}
}

func TestFormatHelpers(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{formatSize(512), "512 B"},
		{formatSize(2048), "2.0 KB"},
		{formatSize(5 * 1024 * 1024), "5.0 MB"},
		{formatPct(0.333), "33%"},
		{formatWeight(0.25), "0.25"},
		{formatWeight(1), "1"},
		{optionLabel(model.Option{ID: "alice", Type: "skill-based-assignment", ResourceID: "alice"}), "alice (skill-based-assignment)"},
		{optionLabel(model.Option{ID: "escalate", Type: "escalate-to-lead"}), "escalate (escalate-to-lead)"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNewDaemonLogger(t *testing.T) {
	dir := t.TempDir()
	paths := &config.Paths{DataDir: dir}
	cfg := config.DefaultConfig()
	cfg.Daemon.LogLevel = "debug"

	var stderr bytes.Buffer
	logger, closer, err := NewDaemonLogger(cfg, paths, true, &stderr)
	if err != nil {
		t.Fatalf("NewDaemonLogger() error = %v", err)
	}
	logger.Debug("hello", "k", "v")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !strings.Contains(stderr.String(), "hello") {
		t.Errorf("stderr = %q, want log line", stderr.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, "logs", "prizmd.log"))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "k=v") {
		t.Errorf("log file = %q", data)
	}

	cfg.Daemon.LogLevel = "loud"
	if _, _, err := NewDaemonLogger(cfg, paths, false, &stderr); err == nil {
		t.Error("expected error for invalid level")
	}
}
