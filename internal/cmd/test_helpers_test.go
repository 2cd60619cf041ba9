package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/runger/prizm/internal/daemon"
	"github.com/runger/prizm/internal/suggestions/api"
	"github.com/runger/prizm/internal/suggestions/engine"
	"github.com/runger/prizm/internal/suggestions/learning"
	"github.com/runger/prizm/internal/suggestions/score"
)

// newTestDaemon serves the HTTP API over an in-memory engine seeded with
// alice (go), bob and task-1 (go, 4h).
func newTestDaemon(t *testing.T) (string, *daemon.Client) {
	t.Helper()
	e, err := engine.New(context.Background(), engine.Config{
		Scoring:  score.DefaultConfig(),
		Learning: learning.DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	t.Cleanup(e.Close)

	srv := httptest.NewServer(api.NewHandler(e, nil).Router())
	t.Cleanup(srv.Close)

	client := daemon.NewClient(srv.URL, 0)
	ctx := context.Background()
	if _, err := client.PutResource(ctx, "alice", api.ResourceRequest{CapacityHours: 40, Skills: []string{"go"}}); err != nil {
		t.Fatalf("PutResource(alice) error = %v", err)
	}
	if _, err := client.PutResource(ctx, "bob", api.ResourceRequest{CapacityHours: 40}); err != nil {
		t.Fatalf("PutResource(bob) error = %v", err)
	}
	if err := client.PutAction(ctx, "task-1", api.ActionRequest{Title: "Fix login", Skills: []string{"go"}, EffortHours: 4}); err != nil {
		t.Fatalf("PutAction(task-1) error = %v", err)
	}
	return srv.URL, client
}

// runCLI executes the root command with args and returns its output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag to its default so commands do not see
// values from a previous run.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}
