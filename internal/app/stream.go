package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StreamState is the per-topic streaming state. Completed and Idle are
// equivalent for send-eligibility, so only two states are materialized.
type StreamState int

const (
	StateIdle StreamState = iota
	StateStreaming
)

var (
	// ErrTopicStreaming rejects a send while the same topic has a response
	// in flight.
	ErrTopicStreaming = errors.New("a response is already streaming for this topic")
	// ErrAssistantBusy rejects a send while a sibling topic of the same
	// assistant is streaming.
	ErrAssistantBusy = errors.New("another topic of this assistant is streaming")
)

type topicKey struct {
	assistantID string
	topicID     string
}

// CompletionHook runs after a stream reaches Completed. Hooks are invoked
// sequentially; each is best-effort.
type CompletionHook func(ctx context.Context, assistantID, topicID string)

// StreamCoordinator owns the per-topic streaming state machine. It consumes
// the inbound chunk channel, applies deltas to the placeholder message, and
// filters stale deliveries by generation token. Chunks for a single
// generation arrive on one channel and are applied in delivery order; the
// coordinator never reorders, it only filters.
type StreamCoordinator struct {
	store   *EntityStore
	backend LLMBackend
	logger  *zap.Logger

	mu     sync.Mutex
	active map[topicKey]string // generation token per streaming topic

	target func() ModelTarget
	hooks  []CompletionHook
}

func NewStreamCoordinator(store *EntityStore, backend LLMBackend, target func() ModelTarget, logger *zap.Logger) *StreamCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamCoordinator{
		store:   store,
		backend: backend,
		logger:  logger,
		active:  make(map[topicKey]string),
		target:  target,
	}
}

// AddCompletionHook registers post-processing run after every completed
// stream, in registration order.
func (c *StreamCoordinator) AddCompletionHook(h CompletionHook) {
	c.hooks = append(c.hooks, h)
}

// State reports the streaming state for one topic.
func (c *StreamCoordinator) State(assistantID, topicID string) StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[topicKey{assistantID, topicID}]; ok {
		return StateStreaming
	}
	return StateIdle
}

// Send appends the user message and an empty assistant placeholder,
// transitions the topic to Streaming under a fresh generation token, and
// issues the streaming call. On issue failure the topic returns to Idle,
// the error is surfaced, and the placeholder is left as-is.
func (c *StreamCoordinator) Send(ctx context.Context, assistantID, topicID string, msg Message) error {
	key := topicKey{assistantID, topicID}

	c.mu.Lock()
	if _, ok := c.active[key]; ok {
		c.mu.Unlock()
		return ErrTopicStreaming
	}
	for k := range c.active {
		if k.assistantID == assistantID {
			c.mu.Unlock()
			return ErrAssistantBusy
		}
	}
	gen := uuid.NewString()
	c.active[key] = gen
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		if c.active[key] == gen {
			delete(c.active, key)
		}
		c.mu.Unlock()
		return err
	}

	msg.Role = RoleUser
	if err := c.store.AppendMessage(assistantID, topicID, msg); err != nil {
		return fail(err)
	}

	target := c.target()
	snapshot, ok := c.store.AssistantSnapshot(assistantID)
	if !ok {
		return fail(ErrAssistantNotFound)
	}
	var topic Topic
	for i := range snapshot.Topics {
		if snapshot.Topics[i].ID == topicID {
			topic = snapshot.Topics[i]
		}
	}
	messages := BuildWireMessages(snapshot, topic)

	placeholder := Message{Role: RoleAssistant, ModelID: target.Model}
	if err := c.store.AppendMessage(assistantID, topicID, placeholder); err != nil {
		return fail(err)
	}

	req := StreamRequest{
		ModelTarget: target,
		AssistantID: assistantID,
		TopicID:     topicID,
		Gen:         gen,
		Messages:    messages,
	}
	if err := c.backend.CallLLMStream(ctx, req); err != nil {
		c.logger.Error("stream issue failed",
			zap.String("assistant_id", assistantID),
			zap.String("topic_id", topicID),
			zap.Error(err))
		return fail(fmt.Errorf("start stream: %w", err))
	}
	return nil
}

// Cancel sends a best-effort stop to the backend and flips the topic to
// Idle immediately. The generation token is invalidated first, so any chunk
// of the cancelled generation that arrives later is dropped.
func (c *StreamCoordinator) Cancel(ctx context.Context, assistantID, topicID string) {
	key := topicKey{assistantID, topicID}
	c.mu.Lock()
	_, ok := c.active[key]
	delete(c.active, key)
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.backend.StopLLMStream(ctx, assistantID, topicID); err != nil {
		c.logger.Warn("stop stream failed",
			zap.String("assistant_id", assistantID),
			zap.String("topic_id", topicID),
			zap.Error(err))
	}
}

// HandleChunk applies one inbound chunk event. Chunks whose generation
// token does not match the topic's current generation are silently dropped;
// stale delivery is expected across a cancel/restart boundary and is not an
// error.
func (c *StreamCoordinator) HandleChunk(ctx context.Context, chunk StreamChunk) {
	key := topicKey{chunk.AssistantID, chunk.TopicID}

	c.mu.Lock()
	gen, ok := c.active[key]
	if !ok || gen != chunk.Gen {
		c.mu.Unlock()
		c.logger.Debug("dropped stale chunk",
			zap.String("topic_id", chunk.TopicID),
			zap.String("gen", chunk.Gen))
		return
	}
	if chunk.Done {
		delete(c.active, key)
	}
	c.mu.Unlock()

	if !chunk.Done {
		if err := c.store.AppendToLastMessage(chunk.AssistantID, chunk.TopicID, chunk.Content); err != nil {
			c.logger.Error("apply chunk failed",
				zap.String("topic_id", chunk.TopicID),
				zap.Error(err))
		}
		return
	}

	// Terminal chunks may still carry a tail, e.g. the backend's
	// "\n[Error: …]" marker on transport failure.
	if chunk.Content != "" {
		_ = c.store.AppendToLastMessage(chunk.AssistantID, chunk.TopicID, chunk.Content)
	}
	for _, h := range c.hooks {
		h(ctx, chunk.AssistantID, chunk.TopicID)
	}
}

// Run consumes the chunk event channel until the context ends or the
// channel closes. The single consumer preserves delivery order.
func (c *StreamCoordinator) Run(ctx context.Context, events <-chan StreamChunk) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-events:
			if !ok {
				return
			}
			c.HandleChunk(ctx, chunk)
		}
	}
}
