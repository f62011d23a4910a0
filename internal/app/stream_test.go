package app

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// scriptBackend records calls and lets tests inject chunk events manually.
type scriptBackend struct {
	mu        sync.Mutex
	reqs      []StreamRequest
	stops     []topicKey
	streamErr error
	summary   string
	sumErr    error
	sumReqs   []SummarizeRequest
}

func (b *scriptBackend) CallLLMStream(ctx context.Context, req StreamRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamErr != nil {
		return b.streamErr
	}
	b.reqs = append(b.reqs, req)
	return nil
}

func (b *scriptBackend) StopLLMStream(ctx context.Context, assistantID, topicID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops = append(b.stops, topicKey{assistantID, topicID})
	return nil
}

func (b *scriptBackend) SummarizeHistory(ctx context.Context, req SummarizeRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sumReqs = append(b.sumReqs, req)
	if b.sumErr != nil {
		return "", b.sumErr
	}
	return b.summary, nil
}

func (b *scriptBackend) lastGen(t *testing.T) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.reqs) == 0 {
		t.Fatalf("no stream request was issued")
	}
	return b.reqs[len(b.reqs)-1].Gen
}

func testTarget() ModelTarget {
	return ModelTarget{APIURL: "http://example.invalid", Model: "test-model"}
}

func newTestCoordinator(t *testing.T) (*StreamCoordinator, *scriptBackend, *EntityStore, string, string) {
	t.Helper()
	st, aid, tid := newTestStore(t)
	backend := &scriptBackend{}
	c := NewStreamCoordinator(st, backend, testTarget, nil)
	return c, backend, st, aid, tid
}

func TestSendAppendsUserAndPlaceholder(t *testing.T) {
	c, backend, st, aid, tid := newTestCoordinator(t)
	if err := c.Send(context.Background(), aid, tid, Message{Content: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	topic, _ := st.TopicSnapshot(aid, tid)
	if len(topic.History) != 2 {
		t.Fatalf("expected user+placeholder, got %d entries", len(topic.History))
	}
	if topic.History[0].Role != RoleUser || topic.History[0].Content != "hello" {
		t.Fatalf("first entry wrong: %+v", topic.History[0])
	}
	if topic.History[1].Role != RoleAssistant || topic.History[1].Content != "" {
		t.Fatalf("placeholder wrong: %+v", topic.History[1])
	}
	if topic.History[1].ModelID != "test-model" {
		t.Fatalf("placeholder should carry the model id, got %q", topic.History[1].ModelID)
	}
	if c.State(aid, tid) != StateStreaming {
		t.Fatalf("topic should be streaming after send")
	}

	backend.mu.Lock()
	req := backend.reqs[0]
	backend.mu.Unlock()
	// The outbound request must not include the empty placeholder.
	if n := len(req.Messages); n != 1 {
		t.Fatalf("expected 1 wire message, got %d", n)
	}
	if req.Gen == "" {
		t.Fatalf("request must carry a generation token")
	}
}

func TestChunksAccumulateAndComplete(t *testing.T) {
	c, backend, st, aid, tid := newTestCoordinator(t)
	hookRuns := 0
	c.AddCompletionHook(func(ctx context.Context, a, topic string) {
		hookRuns++
		if a != aid || topic != tid {
			t.Fatalf("hook ids mismatch: %q %q", a, topic)
		}
	})
	if err := c.Send(context.Background(), aid, tid, Message{Content: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	gen := backend.lastGen(t)

	ctx := context.Background()
	c.HandleChunk(ctx, StreamChunk{AssistantID: aid, TopicID: tid, Gen: gen, Content: "Hi"})
	c.HandleChunk(ctx, StreamChunk{AssistantID: aid, TopicID: tid, Gen: gen, Content: " there"})
	c.HandleChunk(ctx, StreamChunk{AssistantID: aid, TopicID: tid, Gen: gen, Done: true})

	topic, _ := st.TopicSnapshot(aid, tid)
	if got := topic.History[1].Content; got != "Hi there" {
		t.Fatalf("expected accumulated content, got %q", got)
	}
	if c.State(aid, tid) != StateIdle {
		t.Fatalf("topic should be idle after done")
	}
	if hookRuns != 1 {
		t.Fatalf("completion hook should run once, ran %d times", hookRuns)
	}
}

func TestSendRejectedWhileStreaming(t *testing.T) {
	c, _, st, aid, tid := newTestCoordinator(t)
	if err := c.Send(context.Background(), aid, tid, Message{Content: "one"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Send(context.Background(), aid, tid, Message{Content: "two"}); !errors.Is(err, ErrTopicStreaming) {
		t.Fatalf("expected ErrTopicStreaming, got %v", err)
	}

	sibling := st.AddTopic(aid)
	if err := c.Send(context.Background(), aid, sibling, Message{Content: "three"}); !errors.Is(err, ErrAssistantBusy) {
		t.Fatalf("expected ErrAssistantBusy, got %v", err)
	}

	// A different assistant is unaffected.
	other := st.AddAssistant("other")
	otherTopic := st.Assistants()[1].Topics[0].ID
	if err := c.Send(context.Background(), other, otherTopic, Message{Content: "four"}); err != nil {
		t.Fatalf("sibling assistant send: %v", err)
	}
}

func TestCancelDropsLateChunks(t *testing.T) {
	c, backend, st, aid, tid := newTestCoordinator(t)
	if err := c.Send(context.Background(), aid, tid, Message{Content: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	gen := backend.lastGen(t)
	c.HandleChunk(context.Background(), StreamChunk{AssistantID: aid, TopicID: tid, Gen: gen, Content: "par"})

	c.Cancel(context.Background(), aid, tid)
	if c.State(aid, tid) != StateIdle {
		t.Fatalf("cancel must flip the topic to idle immediately")
	}
	backend.mu.Lock()
	stops := len(backend.stops)
	backend.mu.Unlock()
	if stops != 1 {
		t.Fatalf("expected one stop call, got %d", stops)
	}

	// In-flight chunk of the cancelled generation arrives afterwards.
	c.HandleChunk(context.Background(), StreamChunk{AssistantID: aid, TopicID: tid, Gen: gen, Content: "tial"})
	topic, _ := st.TopicSnapshot(aid, tid)
	if got := topic.History[1].Content; got != "par" {
		t.Fatalf("stale chunk must be dropped, content=%q", got)
	}
}

func TestChunkAfterDoneDropped(t *testing.T) {
	c, backend, st, aid, tid := newTestCoordinator(t)
	if err := c.Send(context.Background(), aid, tid, Message{Content: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	gen := backend.lastGen(t)
	c.HandleChunk(context.Background(), StreamChunk{AssistantID: aid, TopicID: tid, Gen: gen, Done: true})
	c.HandleChunk(context.Background(), StreamChunk{AssistantID: aid, TopicID: tid, Gen: gen, Content: "late"})

	topic, _ := st.TopicSnapshot(aid, tid)
	if got := topic.History[1].Content; got != "" {
		t.Fatalf("post-done chunk must be dropped, content=%q", got)
	}
}

func TestErrorMarkerOnTerminalChunk(t *testing.T) {
	c, backend, st, aid, tid := newTestCoordinator(t)
	if err := c.Send(context.Background(), aid, tid, Message{Content: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	gen := backend.lastGen(t)
	c.HandleChunk(context.Background(), StreamChunk{
		AssistantID: aid, TopicID: tid, Gen: gen,
		Content: "\n[Error: connection reset]", Done: true,
	})
	topic, _ := st.TopicSnapshot(aid, tid)
	if got := topic.History[1].Content; got != "\n[Error: connection reset]" {
		t.Fatalf("terminal tail not applied, content=%q", got)
	}
	if c.State(aid, tid) != StateIdle {
		t.Fatalf("topic should be idle after an error completion")
	}
}

func TestSendIssueFailureReturnsToIdle(t *testing.T) {
	c, backend, st, aid, tid := newTestCoordinator(t)
	backend.streamErr = errors.New("dial refused")
	if err := c.Send(context.Background(), aid, tid, Message{Content: "hello"}); err == nil {
		t.Fatalf("expected a surfaced error")
	}
	if c.State(aid, tid) != StateIdle {
		t.Fatalf("failed issue must return the topic to idle")
	}
	// History keeps the appended pair; a retry appends again.
	topic, _ := st.TopicSnapshot(aid, tid)
	if len(topic.History) != 2 {
		t.Fatalf("expected 2 entries after failed issue, got %d", len(topic.History))
	}

	backend.streamErr = nil
	if err := c.Send(context.Background(), aid, tid, Message{Content: "retry"}); err != nil {
		t.Fatalf("retry send: %v", err)
	}
}

func TestBuildWireMessagesIncludesPromptAndSummary(t *testing.T) {
	a := Assistant{Prompt: "你是助理"}
	topic := Topic{
		Summary: "之前的结论",
		History: []Message{{Role: RoleUser, Content: "继续"}},
	}
	msgs := BuildWireMessages(a, topic)
	if len(msgs) != 3 {
		t.Fatalf("expected prompt+summary+history, got %d messages", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].Text != "你是助理" {
		t.Fatalf("system prompt missing: %+v", msgs[0])
	}
	if msgs[1].Role != RoleSystem {
		t.Fatalf("summary must be a system message: %+v", msgs[1])
	}
	if msgs[2].Role != RoleUser {
		t.Fatalf("history must follow: %+v", msgs[2])
	}
}
