package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/internal/queue"
	"github.com/ShayCichocki/foreman/pkg/models"
)

const testRoster = `
workers:
  - id: ada
    role: backend engineer
    skills: [go, sql]
  - id: grace
    skills: [docs]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.State.Dir = t.TempDir()
	return cfg
}

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewApp_RequiresWorkers(t *testing.T) {
	_, err := newApp(context.Background(), testConfig(t), nil, appOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestNewApp_RosterIsStored(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := newApp(ctx, cfg, nil, appOptions{roster: writeRoster(t, testRoster)})
	require.NoError(t, err)
	assert.Equal(t, 2, a.registry.Count())
	require.NoError(t, a.Close())

	// A later run without --roster starts from the stored roster.
	b, err := newApp(ctx, cfg, nil, appOptions{})
	require.NoError(t, err)
	defer b.Close()
	w, err := b.registry.Get("ada")
	require.NoError(t, err)
	assert.Equal(t, "ada", w.Name)
	assert.Equal(t, models.WorkerStatusActive, w.Status)

	// Importing a smaller roster replaces rather than merges.
	require.NoError(t, b.Close())
	c, err := newApp(ctx, cfg, nil, appOptions{roster: writeRoster(t, "workers:\n  - id: linus\n")})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 1, c.registry.Count())
}

func TestApp_Idle(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), nil, appOptions{roster: writeRoster(t, testRoster)})
	require.NoError(t, err)
	defer a.Close()

	idle, stranded := a.idle()
	assert.True(t, idle)
	assert.Zero(t, stranded)

	first := a.queue.Create(queue.Spec{Title: "first"})
	a.queue.Create(queue.Spec{Title: "second", Dependencies: []string{first.ID}})
	idle, _ = a.idle()
	assert.False(t, idle, "a ready task is still work to do")

	require.True(t, a.queue.Cancel(first.ID, "not needed"))
	idle, stranded = a.idle()
	assert.True(t, idle)
	assert.Equal(t, 1, stranded)
}

func TestSupervisorConfigAndLimits(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "")
	cfg := testConfig(t)
	cfg.Anthropic.APIKey = "sk-test-key"
	cfg.Supervisor.Env = map[string]string{"MODE": "batch"}
	cfg.Resources.MaxTasksPerWorker = 2

	sc := supervisorConfig(cfg)
	assert.Equal(t, cfg.Supervisor.MaxProcesses, sc.MaxProcesses)
	assert.Equal(t, "batch", sc.Env["MODE"])
	assert.Equal(t, "sk-test-key", sc.Env[config.APIKeyEnv])

	assert.Equal(t, 2, resourceLimits(cfg).MaxTasksPerWorker)
}
