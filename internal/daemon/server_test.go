package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/runger/prizm/internal/config"
	"github.com/runger/prizm/internal/suggestions/api"
	"github.com/runger/prizm/internal/suggestions/model"
)

func testPaths(t *testing.T) *config.Paths {
	t.Helper()
	dir := t.TempDir()
	return &config.Paths{
		ConfigDir:  filepath.Join(dir, "config"),
		DataDir:    filepath.Join(dir, "data"),
		RuntimeDir: filepath.Join(dir, "run"),
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Daemon.HTTPAddr = "127.0.0.1:0"
	cfg.Daemon.GRPCAddr = "127.0.0.1:0"
	cfg.Daemon.SweepInterval = 0
	cfg.Storage.DBPath = MemoryDBPath
	cfg.Explain.Provider = "none"
	return cfg
}

// startServer runs a server until the test ends.
func startServer(t *testing.T, sc *ServerConfig) *Server {
	t.Helper()
	if sc.Paths == nil {
		sc.Paths = testPaths(t)
	}
	if sc.Logger == nil {
		sc.Logger = discardLogger()
	}

	s, err := NewServer(context.Background(), sc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("server exited before ready: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return s
}

func TestNewServer_RequiresConfig(t *testing.T) {
	_, err := NewServer(context.Background(), &ServerConfig{})
	assert.Error(t, err)
	_, err = NewServer(context.Background(), nil)
	assert.Error(t, err)
}

func TestServer_RoundTrip(t *testing.T) {
	pub := &fakePublisher{}
	s := startServer(t, &ServerConfig{Config: testConfig(), Publisher: pub})
	ctx := context.Background()

	c := NewClient(s.HTTPAddr(), 5*time.Second)
	require.NoError(t, c.Health(ctx))

	_, err := c.PutResource(ctx, "alice", api.ResourceRequest{CapacityHours: 40, Skills: []string{"go"}})
	require.NoError(t, err)
	_, err = c.PutResource(ctx, "bob", api.ResourceRequest{CapacityHours: 40})
	require.NoError(t, err)
	require.NoError(t, c.PutAction(ctx, "task-1", api.ActionRequest{Title: "Fix login", Skills: []string{"go"}, EffortHours: 4}))

	profiles, err := c.Resources(ctx)
	require.NoError(t, err)
	assert.Len(t, profiles, 2)

	sug, err := c.Suggest(ctx, "task-1", model.CategoryAssignment, false)
	require.NoError(t, err)
	require.NotEmpty(t, sug.Ranked)
	assert.Equal(t, "alice", sug.Ranked[0].Option.ResourceID)
	assert.Equal(t, model.StatePending, sug.State)

	again, err := c.Suggest(ctx, "task-1", model.CategoryAssignment, false)
	require.NoError(t, err)
	assert.Equal(t, sug.ID, again.ID)

	fb, err := c.Feedback(ctx, sug.ID, api.FeedbackRequest{Outcome: model.OutcomeAccepted})
	require.NoError(t, err)
	assert.True(t, fb.OK)
	assert.Equal(t, sug.ID, fb.Feedback.SuggestionID)

	_, err = c.Feedback(ctx, sug.ID, api.FeedbackRequest{Outcome: model.OutcomeRejected})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodeConflict, apiErr.Code)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Counters["feedback_accepted"])

	got, err := c.Get(ctx, sug.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateAccepted, got.State)

	assert.Eventually(t, func() bool {
		subjects := pub.subjects()
		return len(subjects) >= 2 && subjects[len(subjects)-1] == "prizm.suggestions.accepted"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_GRPCHealth(t *testing.T) {
	s := startServer(t, &ServerConfig{Config: testConfig()})
	require.NotEmpty(t, s.GRPCAddr())

	conn, err := grpc.NewClient(s.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := healthpb.NewHealthClient(conn)
	for _, service := range []string{"", HealthService} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus(), "service %q", service)
	}
}

func TestServer_FileDatabase(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.MkdirAll(paths.DataDir, 0o700))

	cfg := testConfig()
	cfg.Storage.DBPath = ""

	s, err := NewServer(context.Background(), &ServerConfig{Config: cfg, Paths: paths, Logger: discardLogger()})
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(paths.DatabaseFile())
	assert.NoError(t, err)
}

func TestServer_Reload(t *testing.T) {
	paths := testPaths(t)
	path := paths.ConfigFile()

	cfg := testConfig()
	require.NoError(t, cfg.SaveToFile(path))

	s, err := NewServer(context.Background(), &ServerConfig{
		Config:     cfg,
		ConfigPath: path,
		Paths:      paths,
		Logger:     discardLogger(),
	})
	require.NoError(t, err)
	defer s.Close()

	updated := testConfig()
	updated.Lifecycle.SuggestionTTL = 2 * time.Hour
	updated.Scoring.Weights = map[string]map[string]float64{
		"coaching": {"reliability_gap": 0.6, "quality": 0.4},
	}
	require.NoError(t, updated.SaveToFile(path))

	require.NoError(t, s.Reload(context.Background(), "test"))
	assert.Equal(t, 2*time.Hour, s.Config().Lifecycle.SuggestionTTL)

	require.NoError(t, os.WriteFile(path, []byte("scoring:\n  weights:\n    coaching:\n      quality: 0.5\n"), 0o600))
	assert.Error(t, s.Reload(context.Background(), "test"))
	assert.Equal(t, 2*time.Hour, s.Config().Lifecycle.SuggestionTTL)
}

func TestServer_ReloadWithoutFile(t *testing.T) {
	s, err := NewServer(context.Background(), &ServerConfig{Config: testConfig(), Paths: testPaths(t), Logger: discardLogger()})
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Reload(context.Background(), "test"))
}
