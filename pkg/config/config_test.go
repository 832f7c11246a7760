package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/config"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
languages: [es, pt-BR]
preview_base_url: https://preview.example.com
poll:
  timeout: 15m
  interval: 10s
  backoff_after: 6
  max_interval: 2m
  multiplier: 2
media:
  - kind: image
  - kind: video
    prompt: "Short teaser"
collaborators:
  generator:
    base_url: https://generator.internal
    token: secret
    timeout: 2m
  translator:
    base_url: https://translator.internal
  media:
    base_url: https://media.internal
  seo:
    base_url: https://seo.internal
  publisher:
    base_url: https://blog.internal
    attempts: 5
  social:
    base_url: https://social.internal
schedules:
  - name: morning
    cron: "0 8 * * 1-5"
    kind: article
    active: true
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contentflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"es", "pt-BR"}, cfg.Languages)
	assert.Equal(t, 15*time.Minute, cfg.Poll.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Collaborators.Generator.Timeout)
	assert.Equal(t, uint(5), cfg.Collaborators.Publisher.Attempts)
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "0 8 * * 1-5", cfg.Schedules[0].CronExpression)

	settings := cfg.Settings()
	assert.Equal(t, 10*time.Second, settings.Poll.Interval)
	assert.Equal(t, 6, settings.Poll.BackoffAfter)
	require.Len(t, settings.Media, 2)
	assert.Equal(t, "Short teaser", settings.Media[1].Prompt)

	collaborators := cfg.BuildCollaborators(nil)
	assert.NotNil(t, collaborators.Generator)
	assert.NotNil(t, collaborators.Translator)
	assert.NotNil(t, collaborators.Social)
	assert.Nil(t, collaborators.Podcast)
	assert.Nil(t, collaborators.Notifier)
	assert.Nil(t, collaborators.Topics)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "malformed yaml",
			yaml: "languages: [es",
		},
		{
			name: "missing required endpoint",
			yaml: `
collaborators:
  generator:
    base_url: https://generator.internal
  seo:
    base_url: https://seo.internal
`,
		},
		{
			name: "endpoint without url",
			yaml: `
collaborators:
  generator:
    token: only-a-token
  seo:
    base_url: https://seo.internal
  publisher:
    base_url: https://blog.internal
`,
		},
		{
			name: "languages without translator",
			yaml: `
languages: [es]
collaborators:
  generator: {base_url: "https://g.internal"}
  seo: {base_url: "https://s.internal"}
  publisher: {base_url: "https://p.internal"}
`,
		},
		{
			name: "bad cron",
			yaml: `
collaborators:
  generator: {base_url: "https://g.internal"}
  seo: {base_url: "https://s.internal"}
  publisher: {base_url: "https://p.internal"}
schedules:
  - name: broken
    cron: "every morning"
`,
		},
		{
			name: "duplicate schedule",
			yaml: `
collaborators:
  generator: {base_url: "https://g.internal"}
  seo: {base_url: "https://s.internal"}
  publisher: {base_url: "https://p.internal"}
schedules:
  - {name: daily, cron: "0 8 * * *"}
  - {name: daily, cron: "0 9 * * *"}
`,
		},
		{
			name: "unknown approval kind",
			yaml: `
approval_kind: legal
collaborators:
  generator: {base_url: "https://g.internal"}
  seo: {base_url: "https://s.internal"}
  publisher: {base_url: "https://p.internal"}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_Minimal(t *testing.T) {
	cfg, err := config.Parse([]byte(`
collaborators:
  generator: {base_url: "https://g.internal"}
  seo: {base_url: "https://s.internal"}
  publisher: {base_url: "https://p.internal"}
`))
	require.NoError(t, err)

	settings := cfg.Settings()
	assert.Empty(t, settings.Languages)
	assert.Empty(t, settings.Media)
	assert.Equal(t, models.ApprovalKind(""), settings.ApprovalKind)
}
