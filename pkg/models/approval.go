package models

import "time"

// ApprovalKind identifies what a reviewer is asked to sign off.
type ApprovalKind string

const (
	ApprovalKindTopic      ApprovalKind = "topic"
	ApprovalKindContent    ApprovalKind = "content"
	ApprovalKindMedia      ApprovalKind = "media"
	ApprovalKindPrePublish ApprovalKind = "pre-publish"
)

// ApprovalStatus represents the state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending          ApprovalStatus = "pending"
	ApprovalStatusApproved         ApprovalStatus = "approved"
	ApprovalStatusRejected         ApprovalStatus = "rejected"
	ApprovalStatusChangesRequested ApprovalStatus = "changes-requested"
)

// IsDecision reports whether status is a valid resolution of a pending approval.
func (s ApprovalStatus) IsDecision() bool {
	switch s {
	case ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusChangesRequested:
		return true
	default:
		return false
	}
}

// Approval is a human sign-off request raised by a gate stage.
type Approval struct {
	ID         string         `json:"id"`
	Kind       ApprovalKind   `json:"kind"`
	RelatedID  string         `json:"related_id"`
	RunID      string         `json:"run_id"`
	Stage      Stage          `json:"stage"`
	Status     ApprovalStatus `json:"status"`
	Summary    string         `json:"summary,omitempty"`
	MessageRef string         `json:"message_ref,omitempty"`
	Reviewer   string         `json:"reviewer,omitempty"`
	Feedback   string         `json:"feedback,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Decision is the outcome submitted by a reviewer.
type Decision struct {
	Status   ApprovalStatus `json:"status"`
	Reviewer string         `json:"reviewer,omitempty"`
	Feedback string         `json:"feedback,omitempty"`
}
