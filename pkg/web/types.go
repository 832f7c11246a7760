package web

import "github.com/dukex/contentflow/pkg/models"

// StartRunRequest represents the request body for starting a run.
type StartRunRequest struct {
	Trigger models.TriggerKind `json:"trigger" validate:"omitempty,oneof=manual scheduled"`
	Kind    string             `json:"kind"    validate:"omitempty,max=64"`
	Seed    map[string]any     `json:"seed"`
}

// ResolveApprovalRequest represents a reviewer decision. Feedback is
// required when changes are requested.
type ResolveApprovalRequest struct {
	Decision models.ApprovalStatus `json:"decision" validate:"required,oneof=approved rejected changes-requested"`
	Reviewer string                `json:"reviewer" validate:"omitempty,max=128"`
	Feedback string                `json:"feedback" validate:"required_if=Decision changes-requested,max=4000"`
}

// WebhookDecision is the chat callback payload, correlated by message reference.
type WebhookDecision struct {
	MessageRef string                `json:"message_ref"`
	Decision   models.ApprovalStatus `json:"decision"`
	Reviewer   string                `json:"reviewer"`
	Feedback   string                `json:"feedback"`
}

type AbortRunRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ResolutionResponse is returned after a decision was applied.
type ResolutionResponse struct {
	Approval *models.Approval `json:"approval"`
	Run      *models.Run      `json:"run,omitempty"`
	Resumed  bool             `json:"resumed"`
}

func (r ResolveApprovalRequest) decision() models.Decision {
	return models.Decision{Status: r.Decision, Reviewer: r.Reviewer, Feedback: r.Feedback}
}
