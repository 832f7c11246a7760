// Package template renders the configurable text of a run, such as media
// prompts and approval summaries, from the run's checkpoints.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/contentflow/pkg/models"
)

// NeedsTemplating reports whether input contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// RunData exposes a run to templates: .run holds identity fields, .seed the
// seed and every completed stage is available under its name.
func RunData(run *models.Run) map[string]any {
	data := map[string]any{
		"run": map[string]any{
			"id":      run.ID,
			"kind":    run.Kind,
			"trigger": string(run.Trigger),
			"stage":   string(run.CurrentStage),
		},
		"seed": run.Seed,
	}

	for stage, checkpoint := range run.Checkpoints {
		data[string(stage)] = map[string]any(checkpoint)
	}

	return data
}

// RenderRun renders input against RunData(run). Input without template
// actions is returned unchanged.
func RenderRun(input string, run *models.Run) (string, error) {
	if !NeedsTemplating(input) {
		return input, nil
	}

	return Render(input, RunData(run))
}

func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("text").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"json": func(v any) (string, error) {
				encoded, err := json.Marshal(v)

				return string(encoded), err
			},
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.TrimSpace(buf.String()), nil
}
