package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/contentflow/pkg/approval"
	"github.com/dukex/contentflow/pkg/journal"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/pipeline"
	"github.com/dukex/contentflow/pkg/poller"
	"github.com/dukex/contentflow/pkg/protocol"
	"github.com/dukex/contentflow/pkg/template"
)

var (
	// ErrNotConfigured indicates a required collaborator is missing.
	ErrNotConfigured = errors.New("collaborator not configured")

	// ErrMissingCheckpoint indicates a stage ran without the checkpoint of a stage it depends on.
	ErrMissingCheckpoint = errors.New("missing checkpoint")

	// ErrAllPlatformsFailed indicates a distribution where no platform accepted the content.
	ErrAllPlatformsFailed = errors.New("every platform failed")
)

// Settings tunes the stage work functions.
type Settings struct {
	// Languages the content body is translated to.
	Languages []string
	// Media lists the render jobs started for every run. Prompts may use
	// template actions over the run's checkpoints.
	Media []protocol.MediaSpec
	Poll  poller.Options
	// PreviewBaseURL prefixes the preview link sent with approval requests.
	PreviewBaseURL string
	ApprovalKind   models.ApprovalKind
	// SummaryTemplate renders the approval summary. Empty uses the title
	// and SEO score.
	SummaryTemplate string
}

type mediaCheckpoint struct {
	Assets   []protocol.MediaAsset `json:"assets"`
	Failures []string              `json:"failures,omitempty"`
}

type translationCheckpoint struct {
	Translations map[string]string `json:"translations"`
}

type distributionCheckpoint struct {
	Distributions []protocol.Distribution `json:"distributions"`
	PodcastURL    string                  `json:"podcast_url,omitempty"`
}

// stageWorker binds the stage work functions to their collaborators.
type stageWorker struct {
	collaborators protocol.Collaborators
	gate          *approval.Gate
	runs          persistence.RunRepository
	journal       *journal.Journal
	settings      Settings
	logger        *slog.Logger
}

// NewStageTable wires every stage of the pipeline to its collaborator.
// Media, social and podcast are best-effort; approval is the gate.
func NewStageTable(
	collaborators protocol.Collaborators,
	gate *approval.Gate,
	runs persistence.RunRepository,
	jrnl *journal.Journal,
	settings Settings,
	logger *slog.Logger,
) (pipeline.StageTable, error) {
	if settings.ApprovalKind == "" {
		settings.ApprovalKind = models.ApprovalKindPrePublish
	}

	w := &stageWorker{
		collaborators: collaborators,
		gate:          gate,
		runs:          runs,
		journal:       jrnl,
		settings:      settings,
		logger:        logger,
	}

	return pipeline.NewStageTable(
		pipeline.StageDefinition{Stage: models.StageTopic, Policy: pipeline.Required, Work: w.topic},
		pipeline.StageDefinition{Stage: models.StageContent, Policy: pipeline.Required, Work: w.content},
		pipeline.StageDefinition{Stage: models.StageMedia, Policy: pipeline.BestEffort, Work: w.media},
		pipeline.StageDefinition{Stage: models.StageTranslate, Policy: pipeline.Required, Work: w.translate},
		pipeline.StageDefinition{Stage: models.StageSEO, Policy: pipeline.Required, Work: w.seo},
		pipeline.StageDefinition{Stage: models.StageApproval, Policy: pipeline.Gate, Work: w.approval},
		pipeline.StageDefinition{Stage: models.StagePublish, Policy: pipeline.Required, Work: w.publish},
		pipeline.StageDefinition{Stage: models.StageSocial, Policy: pipeline.BestEffort, Work: w.social},
		pipeline.StageDefinition{Stage: models.StagePodcast, Policy: pipeline.BestEffort, Work: w.podcast},
	)
}

func decodeStage(run *models.Run, stage models.Stage, target any) error {
	checkpoint := run.Checkpoint(stage)
	if checkpoint == nil {
		return fmt.Errorf("%w: %s", ErrMissingCheckpoint, stage)
	}

	return checkpoint.Decode(target)
}

// topic takes the topic from the seed when it carries a title, otherwise
// asks the topic source.
func (w *stageWorker) topic(ctx context.Context, run *models.Run) (models.Checkpoint, error) {
	var topic protocol.Topic

	if title, _ := run.Seed["title"].(string); title != "" {
		err := models.Checkpoint(run.Seed).Decode(&topic)
		if err != nil {
			return nil, fmt.Errorf("invalid seed topic: %w", err)
		}

		return models.ToCheckpoint(topic)
	}

	if w.collaborators.Topics == nil {
		return nil, fmt.Errorf("%w: topic source", ErrNotConfigured)
	}

	topic, err := w.collaborators.Topics.Next(ctx, run.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to select topic: %w", err)
	}

	return models.ToCheckpoint(topic)
}

func (w *stageWorker) content(ctx context.Context, run *models.Run) (models.Checkpoint, error) {
	if w.collaborators.Generator == nil {
		return nil, fmt.Errorf("%w: content generator", ErrNotConfigured)
	}

	var topic protocol.Topic

	err := decodeStage(run, models.StageTopic, &topic)
	if err != nil {
		return nil, err
	}

	content, err := w.collaborators.Generator.Generate(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	return models.ToCheckpoint(content)
}

// media starts every configured render job and polls each to completion.
// Jobs that fail are recorded; the stage fails only when none succeeded.
func (w *stageWorker) media(ctx context.Context, run *models.Run) (models.Checkpoint, error) {
	if w.collaborators.Media == nil || len(w.settings.Media) == 0 {
		return models.ToCheckpoint(mediaCheckpoint{Assets: []protocol.MediaAsset{}})
	}

	var content protocol.Content

	err := decodeStage(run, models.StageContent, &content)
	if err != nil {
		return nil, err
	}

	opts := w.settings.Poll
	opts.Logger = w.logger
	opts.Check = w.stillRunning(run.ID)

	result := mediaCheckpoint{Assets: []protocol.MediaAsset{}}

	for _, spec := range w.settings.Media {
		if spec.Prompt == "" {
			spec.Prompt = content.Title
		}

		spec.Prompt, err = template.RenderRun(spec.Prompt, run)
		if err != nil {
			return nil, fmt.Errorf("invalid prompt for media %s: %w", spec.Kind, err)
		}

		asset, err := w.render(ctx, spec, opts)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, pipeline.ErrRunAborted) {
				return nil, err
			}

			w.journal.Warn(ctx, run.ID, "Media job failed", map[string]any{
				"kind":  spec.Kind,
				"error": err.Error(),
			})
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", spec.Kind, err))

			continue
		}

		result.Assets = append(result.Assets, asset)
	}

	if len(result.Assets) == 0 {
		return nil, fmt.Errorf("no media produced: %s", strings.Join(result.Failures, "; "))
	}

	return models.ToCheckpoint(result)
}

func (w *stageWorker) render(ctx context.Context, spec protocol.MediaSpec, opts poller.Options) (protocol.MediaAsset, error) {
	taskID, err := w.collaborators.Media.StartJob(ctx, spec)
	if err != nil {
		return protocol.MediaAsset{}, fmt.Errorf("failed to start media job: %w", err)
	}

	artifact, err := poller.PollUntilDone(ctx, taskID, w.collaborators.Media.Status, opts)
	if err != nil {
		return protocol.MediaAsset{}, err
	}

	url, _ := artifact["url"].(string)
	if url == "" {
		return protocol.MediaAsset{}, fmt.Errorf("media job %s returned no url", taskID)
	}

	return protocol.MediaAsset{Kind: spec.Kind, URL: url}, nil
}

// stillRunning stops polling once the run was aborted out of band.
func (w *stageWorker) stillRunning(runID string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		run, err := w.runs.GetByID(ctx, runID)
		if err != nil {
			return nil
		}

		if run.Status != models.RunStatusRunning {
			return fmt.Errorf("%w: run is %s", pipeline.ErrRunAborted, run.Status)
		}

		return nil
	}
}

func (w *stageWorker) translate(ctx context.Context, run *models.Run) (models.Checkpoint, error) {
	result := translationCheckpoint{Translations: make(map[string]string, len(w.settings.Languages))}

	if len(w.settings.Languages) == 0 {
		return models.ToCheckpoint(result)
	}

	if w.collaborators.Translator == nil {
		return nil, fmt.Errorf("%w: translator", ErrNotConfigured)
	}

	var content protocol.Content

	err := decodeStage(run, models.StageContent, &content)
	if err != nil {
		return nil, err
	}

	for _, language := range w.settings.Languages {
		text, err := w.collaborators.Translator.Translate(ctx, content.Body, language)
		if err != nil {
			return nil, fmt.Errorf("failed to translate to %s: %w", language, err)
		}

		result.Translations[language] = text
	}

	return models.ToCheckpoint(result)
}

func (w *stageWorker) seo(ctx context.Context, run *models.Run) (models.Checkpoint, error) {
	if w.collaborators.SEO == nil {
		return nil, fmt.Errorf("%w: seo scorer", ErrNotConfigured)
	}

	var content protocol.Content

	err := decodeStage(run, models.StageContent, &content)
	if err != nil {
		return nil, err
	}

	result, err := w.collaborators.SEO.Optimize(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("failed to optimize content: %w", err)
	}

	return models.ToCheckpoint(result)
}

// approval parks the run behind a pending approval and stops the executor.
func (w *stageWorker) approval(ctx context.Context, run *models.Run) (models.Checkpoint, error) {
	var (
		content protocol.Content
		seo     protocol.SEOResult
	)

	err := decodeStage(run, models.StageContent, &content)
	if err != nil {
		return nil, err
	}

	err = decodeStage(run, models.StageSEO, &seo)
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("%s (SEO score %.0f)", content.Title, seo.Score)
	if w.settings.SummaryTemplate != "" {
		summary, err = template.RenderRun(w.settings.SummaryTemplate, run)
		if err != nil {
			return nil, fmt.Errorf("invalid approval summary: %w", err)
		}
	}

	_, err = w.gate.RequestApproval(ctx, run, approval.Request{
		Kind:        w.settings.ApprovalKind,
		RelatedID:   run.ID,
		Summary:     summary,
		PreviewLink: w.previewLink(run.ID),
	})
	if err != nil {
		return nil, err
	}

	return nil, pipeline.ErrSuspended
}

func (w *stageWorker) previewLink(runID string) string {
	if w.settings.PreviewBaseURL == "" {
		return ""
	}

	return strings.TrimRight(w.settings.PreviewBaseURL, "/") + "/runs/" + runID
}

func (w *stageWorker) publish(ctx context.Context, run *models.Run) (models.Checkpoint, error) {
	if w.collaborators.Publisher == nil {
		return nil, fmt.Errorf("%w: publisher", ErrNotConfigured)
	}

	var (
		req          protocol.PublishRequest
		media        mediaCheckpoint
		translations translationCheckpoint
	)

	err := decodeStage(run, models.StageContent, &req.Content)
	if err != nil {
		return nil, err
	}

	err = decodeStage(run, models.StageSEO, &req.SEO)
	if err != nil {
		return nil, err
	}

	// Media and translation checkpoints may be absent on runs resumed from older records.
	_ = decodeStage(run, models.StageMedia, &media)
	_ = decodeStage(run, models.StageTranslate, &translations)

	req.Media = media.Assets
	req.Translations = translations.Translations

	publication, err := w.collaborators.Publisher.Publish(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to publish: %w", err)
	}

	w.journal.Success(ctx, run.ID, "Content published", map[string]any{
		"publication_id": publication.ID,
		"url":            publication.URL,
	})

	return models.ToCheckpoint(publication)
}

func (w *stageWorker) distributionRequest(run *models.Run) (protocol.DistributionRequest, error) {
	var (
		publication protocol.Publication
		content     protocol.Content
		seo         protocol.SEOResult
	)

	err := decodeStage(run, models.StagePublish, &publication)
	if err != nil {
		return protocol.DistributionRequest{}, err
	}

	err = decodeStage(run, models.StageContent, &content)
	if err != nil {
		return protocol.DistributionRequest{}, err
	}

	_ = decodeStage(run, models.StageSEO, &seo)

	title := seo.Title
	if title == "" {
		title = content.Title
	}

	summary := content.Summary
	if summary == "" {
		summary = seo.Description
	}

	return protocol.DistributionRequest{
		Publication: publication,
		Title:       title,
		Summary:     summary,
		Body:        content.Body,
		Language:    content.Language,
	}, nil
}

// social fans the publication out; a platform that fails is logged and
// does not fail the stage unless every platform failed.
func (w *stageWorker) social(ctx context.Context, run *models.Run) (models.Checkpoint, error) {
	if w.collaborators.Social == nil {
		return models.Checkpoint{"skipped": true, "reason": "no social distributor configured"}, nil
	}

	req, err := w.distributionRequest(run)
	if err != nil {
		return nil, err
	}

	distributions, err := w.collaborators.Social.Distribute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to distribute: %w", err)
	}

	err = w.reportDistributions(ctx, run.ID, models.StageSocial, distributions)
	if err != nil {
		return nil, err
	}

	return models.ToCheckpoint(distributionCheckpoint{Distributions: distributions})
}

// podcast produces the audio edition and links it from the publication.
func (w *stageWorker) podcast(ctx context.Context, run *models.Run) (models.Checkpoint, error) {
	if w.collaborators.Podcast == nil {
		return models.Checkpoint{"skipped": true, "reason": "no podcast producer configured"}, nil
	}

	req, err := w.distributionRequest(run)
	if err != nil {
		return nil, err
	}

	distributions, err := w.collaborators.Podcast.Distribute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to produce podcast: %w", err)
	}

	err = w.reportDistributions(ctx, run.ID, models.StagePodcast, distributions)
	if err != nil {
		return nil, err
	}

	result := distributionCheckpoint{Distributions: distributions}

	for _, distribution := range distributions {
		if !distribution.Failed() && distribution.URL != "" {
			result.PodcastURL = distribution.URL

			break
		}
	}

	if result.PodcastURL != "" && w.collaborators.Publisher != nil {
		err = w.collaborators.Publisher.Update(ctx, req.Publication.ID, map[string]any{"podcast_url": result.PodcastURL})
		if err != nil {
			return nil, fmt.Errorf("failed to link podcast: %w", err)
		}
	}

	return models.ToCheckpoint(result)
}

func (w *stageWorker) reportDistributions(
	ctx context.Context,
	runID string,
	stage models.Stage,
	distributions []protocol.Distribution,
) error {
	failed := 0

	for _, distribution := range distributions {
		if !distribution.Failed() {
			continue
		}

		failed++

		w.journal.Warn(ctx, runID, "Distribution to platform failed", map[string]any{
			"stage":    stage,
			"platform": distribution.Platform,
			"error":    distribution.Error,
		})
	}

	if len(distributions) > 0 && failed == len(distributions) {
		return fmt.Errorf("%w: %d platforms", ErrAllPlatformsFailed, failed)
	}

	return nil
}
