package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/protocol"
)

// TopicSource asks POST /topics/next for the next topic.
type TopicSource struct{ client *Client }

func NewTopicSource(client *Client) *TopicSource { return &TopicSource{client: client} }

func (s *TopicSource) Next(ctx context.Context, seed map[string]any) (protocol.Topic, error) {
	var topic protocol.Topic

	err := s.client.Do(ctx, http.MethodPost, "/topics/next", map[string]any{"seed": seed}, &topic)

	return topic, err
}

// ContentGenerator calls POST /generate.
type ContentGenerator struct{ client *Client }

func NewContentGenerator(client *Client) *ContentGenerator { return &ContentGenerator{client: client} }

func (g *ContentGenerator) Generate(ctx context.Context, topic protocol.Topic) (protocol.Content, error) {
	var content protocol.Content

	err := g.client.Do(ctx, http.MethodPost, "/generate", topic, &content)
	if err == nil && content.Body == "" {
		return content, errors.New("content generator returned an empty body")
	}

	return content, err
}

// Translator calls POST /translate.
type Translator struct{ client *Client }

func NewTranslator(client *Client) *Translator { return &Translator{client: client} }

func (t *Translator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}

	err := t.client.Do(ctx, http.MethodPost, "/translate", map[string]string{
		"text":            text,
		"target_language": targetLanguage,
	}, &out)

	return out.Text, err
}

// MediaGenerator starts jobs with POST /jobs and reads them with GET /jobs/{id}.
type MediaGenerator struct{ client *Client }

func NewMediaGenerator(client *Client) *MediaGenerator { return &MediaGenerator{client: client} }

func (m *MediaGenerator) StartJob(ctx context.Context, spec protocol.MediaSpec) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}

	err := m.client.Do(ctx, http.MethodPost, "/jobs", spec, &out)
	if err == nil && out.TaskID == "" {
		return "", errors.New("media generator returned no task id")
	}

	return out.TaskID, err
}

func (m *MediaGenerator) Status(ctx context.Context, taskID string) (models.TaskStatus, error) {
	var status models.TaskStatus

	err := m.client.Do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(taskID), nil, &status)

	return status, err
}

// SEOScorer calls POST /optimize.
type SEOScorer struct{ client *Client }

func NewSEOScorer(client *Client) *SEOScorer { return &SEOScorer{client: client} }

func (s *SEOScorer) Optimize(ctx context.Context, content protocol.Content) (protocol.SEOResult, error) {
	var result protocol.SEOResult

	err := s.client.Do(ctx, http.MethodPost, "/optimize", content, &result)

	return result, err
}

// Publisher creates posts with POST /posts and patches them with PATCH /posts/{id}.
type Publisher struct{ client *Client }

func NewPublisher(client *Client) *Publisher { return &Publisher{client: client} }

func (p *Publisher) Publish(ctx context.Context, req protocol.PublishRequest) (protocol.Publication, error) {
	var publication protocol.Publication

	err := p.client.Do(ctx, http.MethodPost, "/posts", req, &publication)

	return publication, err
}

func (p *Publisher) Update(ctx context.Context, id string, patch map[string]any) error {
	return p.client.Do(ctx, http.MethodPatch, "/posts/"+url.PathEscape(id), patch, nil)
}

// Distributor fans content out with POST /distribute. It serves both the
// social and the podcast capability.
type Distributor struct{ client *Client }

func NewDistributor(client *Client) *Distributor { return &Distributor{client: client} }

func (d *Distributor) Distribute(ctx context.Context, req protocol.DistributionRequest) ([]protocol.Distribution, error) {
	var out struct {
		Results []protocol.Distribution `json:"results"`
	}

	err := d.client.Do(ctx, http.MethodPost, "/distribute", req, &out)

	return out.Results, err
}

// Notifier posts approval requests to POST /notify.
type Notifier struct{ client *Client }

func NewNotifier(client *Client) *Notifier { return &Notifier{client: client} }

func (n *Notifier) Notify(ctx context.Context, approvalID, summary, previewLink string) (string, error) {
	var out struct {
		MessageRef string `json:"message_ref"`
	}

	err := n.client.Do(ctx, http.MethodPost, "/notify", map[string]string{
		"approval_id":  approvalID,
		"summary":      summary,
		"preview_link": previewLink,
	}, &out)

	return out.MessageRef, err
}
