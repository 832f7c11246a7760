package postgresql_test

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"log_entries", "approvals", "runs", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T, logCapacity int) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("contentflow_test"),
			postgres.WithUsername("contentflow"),
			postgres.WithPassword("contentflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL, logCapacity)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t, 10)

	require.NoError(t, p.HealthCheck(ctx))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	for _, table := range []string{"runs", "approvals", "log_entries"} {
		var exists bool

		err = db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}
}

func TestRunRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t, 10)
	repo := p.RunRepository()

	run := models.NewRun(uuid.NewString(), models.TriggerManual, "", map[string]any{"topic": "go"})
	require.NoError(t, repo.Create(ctx, run))
	assert.ErrorIs(t, repo.Create(ctx, run), persistence.ErrRunAlreadyExists)

	updated, err := repo.Update(ctx, run.ID, func(r *models.Run) error {
		r.CompleteStage(models.StageTopic, models.Checkpoint{"topic": "go"}, time.Now().UTC())

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageContent, got.CurrentStage)
	assert.Equal(t, []models.Stage{models.StageTopic}, got.CompletedStages)
	assert.Equal(t, "go", got.Checkpoint(models.StageTopic)["topic"])
	assert.Equal(t, "go", got.Seed["topic"])

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsRunNotFound(err))

	failed := models.RunStatusFailed
	_, err = repo.Update(ctx, run.ID, func(r *models.Run) error {
		r.FailStage(models.StageContent, "boom", time.Now().UTC())

		return nil
	})
	require.NoError(t, err)

	runs, err := repo.List(ctx, persistence.ListRunsOptions{Status: &failed, Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "boom", runs[0].Error)
	assert.NotNil(t, runs[0].CompletedAt)
}

func TestApprovalRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t, 10)

	run := models.NewRun(uuid.NewString(), models.TriggerManual, "", nil)
	require.NoError(t, p.RunRepository().Create(ctx, run))

	repo := p.ApprovalRepository()
	now := time.Now().UTC()
	approval := &models.Approval{
		ID:        uuid.NewString(),
		Kind:      models.ApprovalKindPrePublish,
		RelatedID: run.ID,
		RunID:     run.ID,
		Stage:     models.StageApproval,
		Status:    models.ApprovalStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	require.NoError(t, repo.Create(ctx, approval))
	require.NoError(t, repo.SetMessageRef(ctx, approval.ID, "msg-1"))

	byRef, err := repo.GetByMessageRef(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, approval.ID, byRef.ID)

	pending, err := repo.List(ctx, models.ApprovalStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	resolved, err := repo.Resolve(ctx, approval.ID, models.Decision{
		Status:   models.ApprovalStatusChangesRequested,
		Reviewer: "editor",
		Feedback: "shorter intro",
	}, now)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusChangesRequested, resolved.Status)
	assert.Equal(t, "shorter intro", resolved.Feedback)

	_, err = repo.Resolve(ctx, approval.ID, models.Decision{Status: models.ApprovalStatusApproved}, now)
	assert.True(t, persistence.IsApprovalNotPending(err))

	_, err = repo.Resolve(ctx, "missing", models.Decision{Status: models.ApprovalStatusApproved}, now)
	assert.True(t, persistence.IsApprovalNotFound(err))

	byRun, err := repo.ListByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, byRun, 1)
}

func TestLogRepository_Ring(t *testing.T) {
	p, ctx, _ := setupTestDB(t, 3)
	repo := p.LogRepository()

	for i := range 5 {
		require.NoError(t, repo.Append(ctx, &models.LogEntry{
			ID:            uuid.NewString(),
			Timestamp:     time.Now().UTC(),
			Severity:      models.SeverityInfo,
			Message:       fmt.Sprintf("entry %d", i),
			CorrelationID: "run-1",
			Data:          map[string]any{"i": i},
		}))
	}

	entries, err := repo.Query(ctx, models.LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 4", entries[0].Message)
	assert.Equal(t, "entry 2", entries[2].Message)
	assert.Greater(t, entries[0].Sequence, entries[1].Sequence)

	entries, err = repo.Query(ctx, models.LogFilter{CorrelationID: "run-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 4, entries[0].Data["i"], 0)
}
