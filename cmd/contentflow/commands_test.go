package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runApp(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()

	var out bytes.Buffer

	app := NewApp()
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}

	err := app.Run(context.Background(), append([]string{"contentflow"}, args...))

	return &out, err
}

func TestStartAndInspect(t *testing.T) {
	dir := t.TempDir()

	out, err := runApp(t, "--database-url", dir, "--log-level", "error", "start", "--title", "Go tips")
	require.NoError(t, err)

	var run models.Run
	require.NoError(t, json.Unmarshal(out.Bytes(), &run))
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, models.StageContent, run.CurrentStage)
	assert.Equal(t, "Go tips", run.Seed["title"])

	out, err = runApp(t, "--database-url", dir, "--log-level", "error", "runs", "--status", "failed")
	require.NoError(t, err)

	var runs []*models.Run
	require.NoError(t, json.Unmarshal(out.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	out, err = runApp(t, "--database-url", dir, "--log-level", "error", "logs", "--run", run.ID, "--severity", "info")
	require.NoError(t, err)

	var entries []*models.LogEntry
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	assert.NotEmpty(t, entries)

	_, err = runApp(t, "--database-url", dir, "--log-level", "error", "abort", run.ID)
	assert.Error(t, err)
}

func TestShowRequiresRunID(t *testing.T) {
	_, err := runApp(t, "--database-url", t.TempDir(), "--log-level", "error", "show")
	assert.ErrorContains(t, err, "missing run id")
}

func TestParseSeed(t *testing.T) {
	seed, err := parseSeed(`{"title":"Go","tags":["a"]}`)
	require.NoError(t, err)
	assert.Equal(t, "Go", seed["title"])

	seed, err = parseSeed("")
	require.NoError(t, err)
	assert.Empty(t, seed)

	_, err = parseSeed("{")
	assert.Error(t, err)
}
