package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/orchestrator"
	"github.com/dukex/contentflow/pkg/persistence/file"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir(), 100)
	require.NoError(t, err)

	o, err := orchestrator.New(orchestrator.Config{
		Persistence: store,
		Logger:      slog.Default(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = o.Shutdown(context.Background())
	})

	return o
}

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	return NewAPI(slog.Default(), newTestOrchestrator(t), nil).App()
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "contentflow API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		require.NoError(t, resp.Body.Close())
	}
}

func TestAPI_RoutesMounted(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/runs", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		Runs       []*models.Run `json:"runs"`
		TotalCount int           `json:"total_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.NoError(t, resp.Body.Close())
	assert.Empty(t, listed.Runs)
	assert.Equal(t, 0, listed.TotalCount)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/runs/unknown", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}
