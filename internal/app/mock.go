package app

import (
	"context"
	"sync"
)

// MockBackend simulates the model API for tests and for running the app
// offline with --mock. Streams echo the last user message in small chunks;
// summaries are canned unless a script overrides them.
type MockBackend struct {
	events chan<- StreamChunk

	mu             sync.Mutex
	streamCalls    int
	summarizeCalls int
	summaries      []string
	summarizeErr   error
	stopped        map[topicKey]bool
}

func NewMockBackend(events chan<- StreamChunk) *MockBackend {
	return &MockBackend{
		events:  events,
		stopped: make(map[topicKey]bool),
	}
}

// ScriptSummaries queues summarizer outputs returned in order; once the
// script is exhausted the canned default comes back.
func (m *MockBackend) ScriptSummaries(outputs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, outputs...)
}

// FailSummaries makes every summarizer call return err.
func (m *MockBackend) FailSummaries(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summarizeErr = err
}

func (m *MockBackend) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

func (m *MockBackend) SummarizeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summarizeCalls
}

func (m *MockBackend) Stopped(assistantID, topicID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped[topicKey{assistantID, topicID}]
}

func (m *MockBackend) CallLLMStream(ctx context.Context, req StreamRequest) error {
	m.mu.Lock()
	m.streamCalls++
	m.mu.Unlock()

	text := "收到。"
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser && req.Messages[i].Text != "" {
			text = "回声: " + req.Messages[i].Text
			break
		}
	}

	go func() {
		for _, word := range splitChunks(text) {
			m.events <- StreamChunk{
				AssistantID: req.AssistantID,
				TopicID:     req.TopicID,
				Gen:         req.Gen,
				Content:     word,
			}
		}
		m.events <- StreamChunk{
			AssistantID: req.AssistantID,
			TopicID:     req.TopicID,
			Gen:         req.Gen,
			Done:        true,
		}
	}()
	return nil
}

func (m *MockBackend) StopLLMStream(ctx context.Context, assistantID, topicID string) error {
	m.mu.Lock()
	m.stopped[topicKey{assistantID, topicID}] = true
	m.mu.Unlock()
	return nil
}

func (m *MockBackend) SummarizeHistory(ctx context.Context, req SummarizeRequest) (string, error) {
	m.mu.Lock()
	m.summarizeCalls++
	if m.summarizeErr != nil {
		err := m.summarizeErr
		m.mu.Unlock()
		return "", err
	}
	if len(m.summaries) > 0 {
		out := m.summaries[0]
		m.summaries = m.summaries[1:]
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()
	return "模拟摘要", nil
}

// splitChunks slices text into small pieces so streamed rendering is
// exercised even in mock mode.
func splitChunks(text string) []string {
	runes := []rune(text)
	const size = 4
	out := make([]string, 0, len(runes)/size+1)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}
