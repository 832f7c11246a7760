// Package events defines the run lifecycle and dispatch events published on the bus.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/contentflow/pkg/models"
)

type EventType string

// Topics.
const (
	Topic         = "contentflow.events"   // run lifecycle notifications
	DispatchTopic = "contentflow.dispatch" // work requests consumed by workers
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunStartedEvent   EventType = "run.started"
	RunPausedEvent    EventType = "run.paused"
	RunResumedEvent   EventType = "run.resumed"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"

	// Stage events.
	StageCompletedEvent EventType = "stage.completed"
	StageFailedEvent    EventType = "stage.failed"

	// Approval events.
	ApprovalRequestedEvent EventType = "approval.requested"
	ApprovalResolvedEvent  EventType = "approval.resolved"

	// Dispatch events.
	RunRequestedEvent       EventType = "run.requested"
	RunResumeRequestedEvent EventType = "run.resume.requested"
)

// TopicFor returns the topic events of eventType are published to.
func TopicFor(eventType EventType) string {
	switch eventType {
	case RunRequestedEvent, RunResumeRequestedEvent:
		return DispatchTopic
	default:
		return Topic
	}
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// GetRunID returns the run the event belongs to; it keys bus messages.
func (b BaseEvent) GetRunID() string {
	return b.RunID
}

// NewBaseEvent stamps an event of eventType for runID.
func NewBaseEvent(id string, eventType EventType, runID string) BaseEvent {
	return BaseEvent{
		ID:        id,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
	}
}

type RunStarted struct {
	BaseEvent

	Trigger models.TriggerKind `json:"trigger"`
	Kind    string             `json:"kind"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunPaused struct {
	BaseEvent

	Stage      models.Stage `json:"stage"`
	ApprovalID string       `json:"approval_id"`
}

func (e RunPaused) GetType() EventType {
	return RunPausedEvent
}

type RunResumed struct {
	BaseEvent

	Stage      models.Stage `json:"stage"`
	ApprovalID string       `json:"approval_id"`
}

func (e RunResumed) GetType() EventType {
	return RunResumedEvent
}

type RunCompleted struct {
	BaseEvent

	DurationMs int64 `json:"duration_ms"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	Stage models.Stage `json:"stage"`
	Error string       `json:"error"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type StageCompleted struct {
	BaseEvent

	Stage      models.Stage `json:"stage"`
	Skipped    bool         `json:"skipped,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

func (e StageCompleted) GetType() EventType {
	return StageCompletedEvent
}

type StageFailed struct {
	BaseEvent

	Stage    models.Stage `json:"stage"`
	Error    string       `json:"error"`
	Required bool         `json:"required"`
}

func (e StageFailed) GetType() EventType {
	return StageFailedEvent
}

type ApprovalRequested struct {
	BaseEvent

	ApprovalID string              `json:"approval_id"`
	Kind       models.ApprovalKind `json:"kind"`
	Summary    string              `json:"summary,omitempty"`
}

func (e ApprovalRequested) GetType() EventType {
	return ApprovalRequestedEvent
}

type ApprovalResolved struct {
	BaseEvent

	ApprovalID string                `json:"approval_id"`
	Decision   models.ApprovalStatus `json:"decision"`
	Reviewer   string                `json:"reviewer,omitempty"`
}

func (e ApprovalResolved) GetType() EventType {
	return ApprovalResolvedEvent
}

// RunRequested asks a worker to execute a freshly created run from its current stage.
type RunRequested struct {
	BaseEvent
}

func (e RunRequested) GetType() EventType {
	return RunRequestedEvent
}

// RunResumeRequested asks a worker to continue a run after its gate was approved.
type RunResumeRequested struct {
	BaseEvent

	Stage models.Stage `json:"stage"`
}

func (e RunResumeRequested) GetType() EventType {
	return RunResumeRequestedEvent
}

// Decode unmarshals payload into the concrete event type registered for eventType.
func Decode(eventType EventType, payload []byte) (any, error) {
	var event any

	switch eventType {
	case RunStartedEvent:
		event = &RunStarted{}
	case RunPausedEvent:
		event = &RunPaused{}
	case RunResumedEvent:
		event = &RunResumed{}
	case RunCompletedEvent:
		event = &RunCompleted{}
	case RunFailedEvent:
		event = &RunFailed{}
	case StageCompletedEvent:
		event = &StageCompleted{}
	case StageFailedEvent:
		event = &StageFailed{}
	case ApprovalRequestedEvent:
		event = &ApprovalRequested{}
	case ApprovalResolvedEvent:
		event = &ApprovalResolved{}
	case RunRequestedEvent:
		event = &RunRequested{}
	case RunResumeRequestedEvent:
		event = &RunResumeRequested{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	err := json.Unmarshal(payload, event)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}
