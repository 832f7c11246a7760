package template

import (
	"testing"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_SimpleExpression(t *testing.T) {
	data := map[string]any{
		"name": "John",
		"user": map[string]any{"email": "john@example.com"},
	}

	result, err := Render("{{ .name }} <{{ .user.email }}>", data)
	require.NoError(t, err)
	assert.Equal(t, "John <john@example.com>", result)

	result, err = Render("{{ upper .name }} {{ json .user }}", data)
	require.NoError(t, err)
	assert.Equal(t, `JOHN {"email":"john@example.com"}`, result)
}

func TestRender_ErrorHandling(t *testing.T) {
	_, err := Render("{{ .name ", nil)
	assert.ErrorContains(t, err, "failed to parse template")

	_, err = Render("{{ index .items 5 }}", map[string]any{"items": []any{1}})
	assert.ErrorContains(t, err, "failed to execute template")
}

func TestRenderRun(t *testing.T) {
	run := models.NewRun("run-1", models.TriggerManual, "", map[string]any{"audience": "gophers"})
	run.CompleteStage(models.StageTopic, models.Checkpoint{"title": "Go generics"}, run.StartedAt)
	run.CompleteStage(models.StageContent, models.Checkpoint{"title": "Generics in practice"}, run.StartedAt)

	result, err := RenderRun("Cover for {{ .content.title }} aimed at {{ .seed.audience }} ({{ .run.kind }})", run)
	require.NoError(t, err)
	assert.Equal(t, "Cover for Generics in practice aimed at gophers (article)", result)

	result, err = RenderRun("plain prompt", run)
	require.NoError(t, err)
	assert.Equal(t, "plain prompt", result)
}

func TestNeedsTemplating(t *testing.T) {
	assert.True(t, NeedsTemplating("{{ .topic.title }}"))
	assert.False(t, NeedsTemplating("A hand drawn gopher"))
}
