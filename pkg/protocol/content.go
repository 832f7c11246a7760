// Package protocol defines the capability contracts of the external collaborators a pipeline run calls.
package protocol

import (
	"context"

	"github.com/dukex/contentflow/pkg/models"
)

type Topic struct {
	Title    string         `json:"title"`
	Angle    string         `json:"angle,omitempty"`
	Keywords []string       `json:"keywords,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Content struct {
	Title        string         `json:"title"`
	Body         string         `json:"body"`
	Summary      string         `json:"summary,omitempty"`
	Language     string         `json:"language,omitempty"`
	QualityScore float64        `json:"quality_score"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type MediaSpec struct {
	Kind    string         `json:"kind"`
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options,omitempty"`
}

type MediaAsset struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

type SEOResult struct {
	Score       float64  `json:"score"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Slug        string   `json:"slug"`
	Keywords    []string `json:"keywords,omitempty"`
}

type PublishRequest struct {
	Content      Content           `json:"content"`
	SEO          SEOResult         `json:"seo"`
	Media        []MediaAsset      `json:"media,omitempty"`
	Translations map[string]string `json:"translations,omitempty"`
}

type Publication struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type DistributionRequest struct {
	Publication Publication `json:"publication"`
	Title       string      `json:"title"`
	Summary     string      `json:"summary,omitempty"`
	Body        string      `json:"body,omitempty"`
	Language    string      `json:"language,omitempty"`
}

// Distribution is the per-platform outcome of a fan-out. Error is set when
// that platform failed.
type Distribution struct {
	Platform string `json:"platform"`
	Status   string `json:"status"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether this platform did not accept the content.
func (d Distribution) Failed() bool {
	return d.Error != "" || d.Status == "failed"
}

type TopicSource interface {
	Next(ctx context.Context, seed map[string]any) (Topic, error)
}

type ContentGenerator interface {
	Generate(ctx context.Context, topic Topic) (Content, error)
}

type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// MediaGenerator starts slow render jobs whose status is then polled.
type MediaGenerator interface {
	StartJob(ctx context.Context, spec MediaSpec) (string, error)
	Status(ctx context.Context, taskID string) (models.TaskStatus, error)
}

type SEOScorer interface {
	Optimize(ctx context.Context, content Content) (SEOResult, error)
}

type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (Publication, error)
	Update(ctx context.Context, id string, patch map[string]any) error
}

type SocialDistributor interface {
	Distribute(ctx context.Context, req DistributionRequest) ([]Distribution, error)
}

type PodcastProducer interface {
	Distribute(ctx context.Context, req DistributionRequest) ([]Distribution, error)
}

// Notifier delivers an approval request to reviewers and returns the
// reference of the sent message, used to match chat callbacks.
type Notifier interface {
	Notify(ctx context.Context, approvalID, summary, previewLink string) (string, error)
}

// Collaborators bundles every capability a run uses.
type Collaborators struct {
	Topics     TopicSource
	Generator  ContentGenerator
	Translator Translator
	Media      MediaGenerator
	SEO        SEOScorer
	Publisher  Publisher
	Social     SocialDistributor
	Podcast    PodcastProducer
	Notifier   Notifier
}
