// Package config loads the pipeline configuration file: collaborator
// endpoints, target languages, media jobs, poll timings and schedules.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dukex/contentflow/pkg/collaborators/httpapi"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/orchestrator"
	"github.com/dukex/contentflow/pkg/poller"
	"github.com/dukex/contentflow/pkg/protocol"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the structure of the pipeline YAML file.
type Config struct {
	Languages      []string            `yaml:"languages"        validate:"dive,required"`
	PreviewBaseURL string              `yaml:"preview_base_url" validate:"omitempty,url"`
	ApprovalKind   models.ApprovalKind `yaml:"approval_kind"    validate:"omitempty,oneof=topic content media pre-publish"`
	// SummaryTemplate renders the approval summary from the run's checkpoints.
	SummaryTemplate string `yaml:"summary_template"`
	Poll           PollConfig          `yaml:"poll"`
	Media          []MediaJob          `yaml:"media"            validate:"dive"`
	Collaborators  Collaborators       `yaml:"collaborators"`
	Schedules      []models.Schedule   `yaml:"schedules"        validate:"dive"`
}

type PollConfig struct {
	Timeout      time.Duration `yaml:"timeout"       validate:"gte=0"`
	Interval     time.Duration `yaml:"interval"      validate:"gte=0"`
	BackoffAfter int           `yaml:"backoff_after" validate:"gte=0"`
	MaxInterval  time.Duration `yaml:"max_interval"  validate:"gte=0"`
	Multiplier   float64       `yaml:"multiplier"    validate:"omitempty,gt=1"`
}

type MediaJob struct {
	Kind    string         `yaml:"kind"    validate:"required"`
	Prompt  string         `yaml:"prompt"`
	Options map[string]any `yaml:"options"`
}

// Collaborators lists the endpoint of every collaborator service. Unset
// optional ones disable their stage; required ones fail the run when used.
type Collaborators struct {
	Topics     *httpapi.Endpoint `yaml:"topics"     validate:"omitempty"`
	Generator  *httpapi.Endpoint `yaml:"generator"  validate:"required"`
	Translator *httpapi.Endpoint `yaml:"translator" validate:"omitempty"`
	Media      *httpapi.Endpoint `yaml:"media"      validate:"omitempty"`
	SEO        *httpapi.Endpoint `yaml:"seo"        validate:"required"`
	Publisher  *httpapi.Endpoint `yaml:"publisher"  validate:"required"`
	Social     *httpapi.Endpoint `yaml:"social"     validate:"omitempty"`
	Podcast    *httpapi.Endpoint `yaml:"podcast"    validate:"omitempty"`
	Notifier   *httpapi.Endpoint `yaml:"notifier"   validate:"omitempty"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints, translation prerequisites and every
// schedule expression.
func (c *Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if len(c.Languages) > 0 && c.Collaborators.Translator == nil {
		return errors.New("invalid config: languages are set but no translator endpoint is configured")
	}

	if len(c.Media) > 0 && c.Collaborators.Media == nil {
		return errors.New("invalid config: media jobs are set but no media endpoint is configured")
	}

	names := make(map[string]bool, len(c.Schedules))

	for i := range c.Schedules {
		schedule := &c.Schedules[i]

		err = schedule.Validate()
		if err != nil {
			return fmt.Errorf("invalid schedule %q: %w", schedule.Name, err)
		}

		if names[schedule.Name] {
			return fmt.Errorf("duplicate schedule %q", schedule.Name)
		}

		names[schedule.Name] = true
	}

	return nil
}

// Settings returns the stage settings of the orchestrator.
func (c *Config) Settings() orchestrator.Settings {
	media := make([]protocol.MediaSpec, 0, len(c.Media))
	for _, job := range c.Media {
		media = append(media, protocol.MediaSpec{Kind: job.Kind, Prompt: job.Prompt, Options: job.Options})
	}

	return orchestrator.Settings{
		Languages: c.Languages,
		Media:     media,
		Poll: poller.Options{
			Timeout:      c.Poll.Timeout,
			Interval:     c.Poll.Interval,
			BackoffAfter: c.Poll.BackoffAfter,
			MaxInterval:  c.Poll.MaxInterval,
			Multiplier:   c.Poll.Multiplier,
		},
		PreviewBaseURL:  c.PreviewBaseURL,
		ApprovalKind:    c.ApprovalKind,
		SummaryTemplate: c.SummaryTemplate,
	}
}

// BuildCollaborators creates an HTTP adapter for every configured endpoint.
// httpClient may be nil.
func (c *Config) BuildCollaborators(httpClient *http.Client) protocol.Collaborators {
	var collaborators protocol.Collaborators

	client := func(endpoint *httpapi.Endpoint) *httpapi.Client {
		return httpapi.NewClient(*endpoint, httpClient)
	}

	eps := c.Collaborators

	if eps.Topics != nil {
		collaborators.Topics = httpapi.NewTopicSource(client(eps.Topics))
	}

	if eps.Generator != nil {
		collaborators.Generator = httpapi.NewContentGenerator(client(eps.Generator))
	}

	if eps.Translator != nil {
		collaborators.Translator = httpapi.NewTranslator(client(eps.Translator))
	}

	if eps.Media != nil {
		collaborators.Media = httpapi.NewMediaGenerator(client(eps.Media))
	}

	if eps.SEO != nil {
		collaborators.SEO = httpapi.NewSEOScorer(client(eps.SEO))
	}

	if eps.Publisher != nil {
		collaborators.Publisher = httpapi.NewPublisher(client(eps.Publisher))
	}

	if eps.Social != nil {
		collaborators.Social = httpapi.NewDistributor(client(eps.Social))
	}

	if eps.Podcast != nil {
		collaborators.Podcast = httpapi.NewDistributor(client(eps.Podcast))
	}

	if eps.Notifier != nil {
		collaborators.Notifier = httpapi.NewNotifier(client(eps.Notifier))
	}

	return collaborators
}
