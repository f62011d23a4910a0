package app

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entity store errors. These are the user-visible invariant violations from
// the error taxonomy: the operation is refused locally and no state changes.
var (
	ErrAssistantNotFound = errors.New("assistant not found")
	ErrTopicNotFound     = errors.New("topic not found")
	ErrEmptyName         = errors.New("name must not be empty")
	ErrLastTopic         = errors.New("an assistant must keep at least one topic")
)

// StoreEvent is published to subscribers after every committed mutation.
type StoreEvent struct {
	Version     uint64
	Kind        string
	AssistantID string
	TopicID     string
}

// Subscription is a handle for a store change feed. Close releases it; the
// lifetime is explicit rather than tied to any UI component tree.
type Subscription struct {
	store *EntityStore
	id    int
}

func (s *Subscription) Close() {
	if s == nil || s.store == nil {
		return
	}
	s.store.mu.Lock()
	delete(s.store.subs, s.id)
	s.store.mu.Unlock()
	s.store = nil
}

// EntityStore is the canonical in-memory model of assistants, topics and
// messages. All mutations are synchronous and atomic from the caller's
// perspective; persistence is a separate, best-effort concern handled by the
// gateway. The store carries a monotonic version so subscribers and the
// persistence layer can order snapshots explicitly.
type EntityStore struct {
	mu         sync.Mutex
	assistants []*Assistant

	selectedAssistant string
	selectedTopic     string

	version uint64
	subs    map[int]chan StoreEvent
	nextSub int

	logger *zap.Logger
	now    func() time.Time
}

func NewEntityStore(logger *zap.Logger) *EntityStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityStore{
		subs:   make(map[int]chan StoreEvent),
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe registers a buffered change feed. Events are dropped, not
// blocked on, when the subscriber lags; consumers resynchronize from a
// snapshot using the event version.
func (s *EntityStore) Subscribe() (<-chan StoreEvent, *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan StoreEvent, 64)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, &Subscription{store: s, id: id}
}

// notifyLocked publishes an event. Callers hold s.mu.
func (s *EntityStore) notifyLocked(kind, assistantID, topicID string) {
	s.version++
	ev := StoreEvent{Version: s.version, Kind: kind, AssistantID: assistantID, TopicID: topicID}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Version returns the current mutation counter.
func (s *EntityStore) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Bootstrap installs the loaded assistant list. An empty load synthesizes a
// default assistant/topic pair so the invariant "every assistant has a
// topic" holds from the first frame.
func (s *EntityStore) Bootstrap(loaded []Assistant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assistants = s.assistants[:0]
	for i := range loaded {
		a := loaded[i]
		if len(a.Topics) == 0 {
			a.Topics = []Topic{NewDefaultTopic(uuid.NewString(), s.now())}
		}
		s.assistants = append(s.assistants, &a)
	}
	if len(s.assistants) == 0 {
		a := &Assistant{
			ID:     uuid.NewString(),
			Name:   "默认助手",
			Topics: []Topic{NewDefaultTopic(uuid.NewString(), s.now())},
		}
		s.assistants = append(s.assistants, a)
		s.logger.Info("bootstrapped default assistant", zap.String("assistant_id", a.ID))
	}
	s.selectedAssistant = s.assistants[0].ID
	s.selectedTopic = s.assistants[0].Topics[0].ID
	s.notifyLocked("bootstrap", s.selectedAssistant, s.selectedTopic)
}

// AddAssistant creates an assistant with one default topic and returns its id.
func (s *EntityStore) AddAssistant(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		name = "新助手"
	}
	a := &Assistant{
		ID:     uuid.NewString(),
		Name:   name,
		Topics: []Topic{NewDefaultTopic(uuid.NewString(), s.now())},
	}
	s.assistants = append(s.assistants, a)
	s.notifyLocked("assistant-added", a.ID, "")
	return a.ID
}

// AddTopic appends a new default-named topic. A missing assistant is a
// silent no-op, matching the optimistic UI contract.
func (s *EntityStore) AddTopic(assistantID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.findLocked(assistantID)
	if a == nil {
		return ""
	}
	t := NewDefaultTopic(uuid.NewString(), s.now())
	a.Topics = append(a.Topics, t)
	s.notifyLocked("topic-added", assistantID, t.ID)
	return t.ID
}

// RenameAssistant rejects empty or whitespace-only names without mutating.
func (s *EntityStore) RenameAssistant(assistantID, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.findLocked(assistantID)
	if a == nil {
		return ErrAssistantNotFound
	}
	a.Name = name
	s.notifyLocked("assistant-renamed", assistantID, "")
	return nil
}

// RenameTopic rejects empty or whitespace-only names without mutating.
func (s *EntityStore) RenameTopic(assistantID, topicID, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findTopicLocked(assistantID, topicID)
	if t == nil {
		return ErrTopicNotFound
	}
	t.Name = name
	s.notifyLocked("topic-renamed", assistantID, topicID)
	return nil
}

// DeleteAssistant removes the assistant. When the deleted assistant was
// selected, selection moves to the previous sibling, else the next, else
// nothing remains selected.
func (s *EntityStore) DeleteAssistant(assistantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, a := range s.assistants {
		if a.ID == assistantID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrAssistantNotFound
	}
	s.assistants = append(s.assistants[:idx], s.assistants[idx+1:]...)
	if s.selectedAssistant == assistantID {
		switch {
		case idx > 0:
			s.selectAssistantLocked(s.assistants[idx-1])
		case len(s.assistants) > 0:
			s.selectAssistantLocked(s.assistants[0])
		default:
			s.selectedAssistant = ""
			s.selectedTopic = ""
		}
	}
	s.notifyLocked("assistant-deleted", assistantID, "")
	return nil
}

// DeleteTopic refuses to remove an assistant's only topic. When the deleted
// topic was active, selection moves to the assistant's first remaining topic.
func (s *EntityStore) DeleteTopic(assistantID, topicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.findLocked(assistantID)
	if a == nil {
		return ErrAssistantNotFound
	}
	if len(a.Topics) <= 1 {
		return ErrLastTopic
	}
	idx := -1
	for i := range a.Topics {
		if a.Topics[i].ID == topicID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrTopicNotFound
	}
	a.Topics = append(a.Topics[:idx], a.Topics[idx+1:]...)
	if s.selectedAssistant == assistantID && s.selectedTopic == topicID {
		s.selectedTopic = a.Topics[0].ID
	}
	s.notifyLocked("topic-deleted", assistantID, topicID)
	return nil
}

// AppendMessage pushes a message onto a topic's history.
func (s *EntityStore) AppendMessage(assistantID, topicID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findTopicLocked(assistantID, topicID)
	if t == nil {
		return ErrTopicNotFound
	}
	t.History = append(t.History, msg)
	s.notifyLocked("message-appended", assistantID, topicID)
	return nil
}

// AppendToLastMessage grows the content of the topic's last message. The
// stream coordinator is the only caller; during an active stream the last
// history entry is always the assistant placeholder being filled.
func (s *EntityStore) AppendToLastMessage(assistantID, topicID, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findTopicLocked(assistantID, topicID)
	if t == nil {
		return ErrTopicNotFound
	}
	if len(t.History) == 0 {
		return ErrTopicNotFound
	}
	t.History[len(t.History)-1].Content += delta
	s.notifyLocked("message-updated", assistantID, topicID)
	return nil
}

// SelectAssistant switches selection; with no explicit topic choice the
// assistant's first topic becomes active.
func (s *EntityStore) SelectAssistant(assistantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.findLocked(assistantID)
	if a == nil {
		return
	}
	s.selectAssistantLocked(a)
	s.notifyLocked("selection", s.selectedAssistant, s.selectedTopic)
}

func (s *EntityStore) selectAssistantLocked(a *Assistant) {
	s.selectedAssistant = a.ID
	if len(a.Topics) > 0 {
		s.selectedTopic = a.Topics[0].ID
	} else {
		s.selectedTopic = ""
	}
}

// SelectTopic switches the active topic of the given assistant.
func (s *EntityStore) SelectTopic(assistantID, topicID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findTopicLocked(assistantID, topicID) == nil {
		return
	}
	s.selectedAssistant = assistantID
	s.selectedTopic = topicID
	s.notifyLocked("selection", assistantID, topicID)
}

// Selection returns the currently selected assistant and topic ids.
func (s *EntityStore) Selection() (assistantID, topicID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedAssistant, s.selectedTopic
}

// Assistants returns deep copies of all assistants in display order.
func (s *EntityStore) Assistants() []Assistant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Assistant, 0, len(s.assistants))
	for _, a := range s.assistants {
		out = append(out, copyAssistant(a))
	}
	return out
}

// AssistantSnapshot returns a deep copy of one assistant subtree.
func (s *EntityStore) AssistantSnapshot(assistantID string) (Assistant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.findLocked(assistantID)
	if a == nil {
		return Assistant{}, false
	}
	return copyAssistant(a), true
}

// TopicSnapshot returns a deep copy of one topic.
func (s *EntityStore) TopicSnapshot(assistantID, topicID string) (Topic, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findTopicLocked(assistantID, topicID)
	if t == nil {
		return Topic{}, false
	}
	return copyTopic(t), true
}

// ApplyCompaction atomically replaces a topic's history with everything
// after the summarized prefix and installs the merged summary. The guard is
// re-evaluated under the store lock so a stream that started while the
// summarizer was running aborts the swap.
func (s *EntityStore) ApplyCompaction(assistantID, topicID string, drop int, summary string, guard func() bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if guard != nil && !guard() {
		return errors.New("compaction aborted: topic busy")
	}
	t := s.findTopicLocked(assistantID, topicID)
	if t == nil {
		return ErrTopicNotFound
	}
	if drop <= 0 || drop > len(t.History) {
		return errors.New("compaction aborted: history changed")
	}
	t.History = append([]Message{}, t.History[drop:]...)
	t.Summary = summary
	s.notifyLocked("topic-compacted", assistantID, topicID)
	return nil
}

// SetTopicNameIfDefault renames a topic only while its name still matches
// the creation placeholder pattern. A user rename that happened in the
// meantime wins.
func (s *EntityStore) SetTopicNameIfDefault(assistantID, topicID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findTopicLocked(assistantID, topicID)
	if t == nil || !strings.HasPrefix(t.Name, DefaultTopicPrefix) {
		return false
	}
	t.Name = name
	s.notifyLocked("topic-renamed", assistantID, topicID)
	return true
}

func (s *EntityStore) findLocked(assistantID string) *Assistant {
	for _, a := range s.assistants {
		if a.ID == assistantID {
			return a
		}
	}
	return nil
}

func (s *EntityStore) findTopicLocked(assistantID, topicID string) *Topic {
	a := s.findLocked(assistantID)
	if a == nil {
		return nil
	}
	for i := range a.Topics {
		if a.Topics[i].ID == topicID {
			return &a.Topics[i]
		}
	}
	return nil
}

func copyAssistant(a *Assistant) Assistant {
	out := *a
	out.Topics = make([]Topic, len(a.Topics))
	for i := range a.Topics {
		out.Topics[i] = copyTopic(&a.Topics[i])
	}
	return out
}

func copyTopic(t *Topic) Topic {
	out := *t
	out.History = append([]Message{}, t.History...)
	return out
}
