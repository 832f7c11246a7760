package web

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// webhookSchema describes the approval callback sent by the chat integration.
var webhookSchema = gojsonschema.NewGoLoader(map[string]any{
	"type":     "object",
	"required": []any{"message_ref", "decision"},
	"properties": map[string]any{
		"message_ref": map[string]any{"type": "string", "minLength": 1},
		"decision": map[string]any{
			"type": "string",
			"enum": []any{"approved", "rejected", "changes-requested"},
		},
		"reviewer": map[string]any{"type": "string"},
		"feedback": map[string]any{"type": "string"},
	},
})

// validateWebhookPayload checks payload against the callback schema.
func validateWebhookPayload(payload map[string]any) error {
	result, err := gojsonschema.Validate(webhookSchema, gojsonschema.NewGoLoader(payload))
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}
