package app

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	// compactThreshold is the history length above which a topic is
	// compacted after a completed stream.
	compactThreshold = 25
	// compactBatch is how many of the oldest entries are folded into the
	// summary per compaction.
	compactBatch = 15
)

// compactInstruction asks the summarizer for a long-term-memory digest of
// the conversation prefix.
const compactInstruction = "请简要总结以上对话的核心内容和用户需求，作为后续交流的长期记忆（500字以内）。"

// Compactor folds old history into the topic summary so request payloads
// stay bounded. It runs only as a post-completion hook, never while a
// stream is in flight for the topic, and at most once per completion.
type Compactor struct {
	store       *EntityStore
	coordinator *StreamCoordinator
	backend     LLMBackend
	gateway     *PersistenceGateway
	target      func() ModelTarget
	logger      *zap.Logger

	mu      sync.Mutex
	pending map[topicKey]bool
}

func NewCompactor(store *EntityStore, coordinator *StreamCoordinator, backend LLMBackend, gateway *PersistenceGateway, target func() ModelTarget, logger *zap.Logger) *Compactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compactor{
		store:       store,
		coordinator: coordinator,
		backend:     backend,
		gateway:     gateway,
		target:      target,
		logger:      logger,
		pending:     make(map[topicKey]bool),
	}
}

// OnCompletion checks compaction eligibility for one topic. Failure of the
// summarizer leaves history and summary untouched and is not retried.
func (p *Compactor) OnCompletion(ctx context.Context, assistantID, topicID string) {
	key := topicKey{assistantID, topicID}
	p.mu.Lock()
	if p.pending[key] {
		p.mu.Unlock()
		return
	}
	p.pending[key] = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, key)
		p.mu.Unlock()
	}()

	if p.coordinator != nil && p.coordinator.State(assistantID, topicID) == StateStreaming {
		return
	}

	topic, ok := p.store.TopicSnapshot(assistantID, topicID)
	if !ok || len(topic.History) <= compactThreshold {
		return
	}

	toSummarize := make([]WireMessage, 0, compactBatch)
	for _, m := range topic.History[:compactBatch] {
		toSummarize = append(toSummarize, WireMessageFrom(m))
	}

	summary, err := p.backend.SummarizeHistory(ctx, SummarizeRequest{
		ModelTarget: p.target(),
		Messages:    toSummarize,
		Instruction: compactInstruction,
	})
	if err != nil {
		p.logger.Error("history summarization failed",
			zap.String("assistant_id", assistantID),
			zap.String("topic_id", topicID),
			zap.Error(err))
		return
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return
	}

	merged := MergeSummaries(topic.Summary, summary)
	guard := func() bool {
		return p.coordinator == nil || p.coordinator.State(assistantID, topicID) != StateStreaming
	}
	if err := p.store.ApplyCompaction(assistantID, topicID, compactBatch, merged, guard); err != nil {
		p.logger.Warn("compaction not applied",
			zap.String("topic_id", topicID),
			zap.Error(err))
		return
	}
	p.logger.Info("topic compacted",
		zap.String("assistant_id", assistantID),
		zap.String("topic_id", topicID),
		zap.Int("summarized", compactBatch))
	if p.gateway != nil {
		p.gateway.SaveAssistant(assistantID)
	}
}

// MergeSummaries appends the fresh digest to the prior one. Information is
// only ever added: the first compaction adopts the new summary verbatim,
// later ones keep the prior text under a "[prior]" marker.
func MergeSummaries(prior, fresh string) string {
	if strings.TrimSpace(prior) == "" {
		return fresh
	}
	return "[prior]: " + prior + "\n[recent]: " + fresh
}
