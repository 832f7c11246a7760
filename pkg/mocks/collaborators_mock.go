package mocks

import (
	"context"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockTopicSource is a mock implementation of protocol.TopicSource interface.
type MockTopicSource struct {
	mock.Mock
}

func (m *MockTopicSource) Next(ctx context.Context, seed map[string]any) (protocol.Topic, error) {
	args := m.Called(ctx, seed)

	return args.Get(0).(protocol.Topic), args.Error(1)
}

// MockContentGenerator is a mock implementation of protocol.ContentGenerator interface.
type MockContentGenerator struct {
	mock.Mock
}

func (m *MockContentGenerator) Generate(ctx context.Context, topic protocol.Topic) (protocol.Content, error) {
	args := m.Called(ctx, topic)

	return args.Get(0).(protocol.Content), args.Error(1)
}

// MockTranslator is a mock implementation of protocol.Translator interface.
type MockTranslator struct {
	mock.Mock
}

func (m *MockTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	args := m.Called(ctx, text, targetLanguage)

	return args.String(0), args.Error(1)
}

// MockMediaGenerator is a mock implementation of protocol.MediaGenerator interface.
type MockMediaGenerator struct {
	mock.Mock
}

func (m *MockMediaGenerator) StartJob(ctx context.Context, spec protocol.MediaSpec) (string, error) {
	args := m.Called(ctx, spec)

	return args.String(0), args.Error(1)
}

func (m *MockMediaGenerator) Status(ctx context.Context, taskID string) (models.TaskStatus, error) {
	args := m.Called(ctx, taskID)

	return args.Get(0).(models.TaskStatus), args.Error(1)
}

// MockSEOScorer is a mock implementation of protocol.SEOScorer interface.
type MockSEOScorer struct {
	mock.Mock
}

func (m *MockSEOScorer) Optimize(ctx context.Context, content protocol.Content) (protocol.SEOResult, error) {
	args := m.Called(ctx, content)

	return args.Get(0).(protocol.SEOResult), args.Error(1)
}

// MockPublisher is a mock implementation of protocol.Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, req protocol.PublishRequest) (protocol.Publication, error) {
	args := m.Called(ctx, req)

	return args.Get(0).(protocol.Publication), args.Error(1)
}

func (m *MockPublisher) Update(ctx context.Context, id string, patch map[string]any) error {
	args := m.Called(ctx, id, patch)

	return args.Error(0)
}

// MockDistributor is a mock implementation of the protocol.SocialDistributor
// and protocol.PodcastProducer interfaces.
type MockDistributor struct {
	mock.Mock
}

func (m *MockDistributor) Distribute(ctx context.Context, req protocol.DistributionRequest) ([]protocol.Distribution, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]protocol.Distribution), args.Error(1)
}

// MockNotifier is a mock implementation of protocol.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, approvalID, summary, previewLink string) (string, error) {
	args := m.Called(ctx, approvalID, summary, previewLink)

	return args.String(0), args.Error(1)
}
