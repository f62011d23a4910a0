package app

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// titleInstruction asks the summarizer for a short topic title.
const titleInstruction = "请用不超过10个字总结本次对话的主题作为标题，不要使用标点符号和引号。"

const titleMaxRunes = 10

// AutoTitler derives a topic name after the first completed exchange. It
// fires only when the history holds exactly one user/assistant turn and the
// topic still carries its creation placeholder name; a user rename in the
// meantime breaks the pattern and wins.
type AutoTitler struct {
	store   *EntityStore
	backend LLMBackend
	gateway *PersistenceGateway
	target  func() ModelTarget
	logger  *zap.Logger
}

func NewAutoTitler(store *EntityStore, backend LLMBackend, gateway *PersistenceGateway, target func() ModelTarget, logger *zap.Logger) *AutoTitler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoTitler{store: store, backend: backend, gateway: gateway, target: target, logger: logger}
}

// OnCompletion evaluates the trigger once per stream completion.
func (t *AutoTitler) OnCompletion(ctx context.Context, assistantID, topicID string) {
	topic, ok := t.store.TopicSnapshot(assistantID, topicID)
	if !ok {
		return
	}
	if len(topic.History) != 2 || !strings.HasPrefix(topic.Name, DefaultTopicPrefix) {
		return
	}

	messages := make([]WireMessage, 0, 2)
	for _, m := range topic.History {
		messages = append(messages, WireMessageFrom(m))
	}
	raw, err := t.backend.SummarizeHistory(ctx, SummarizeRequest{
		ModelTarget: t.target(),
		Messages:    messages,
		Instruction: titleInstruction,
	})
	if err != nil {
		t.logger.Error("title generation failed",
			zap.String("topic_id", topicID),
			zap.Error(err))
		return
	}
	title := CleanTitle(raw)
	if title == "" {
		return
	}
	// The name may have been edited while the summarizer ran; the store
	// re-checks the placeholder pattern before writing.
	if t.store.SetTopicNameIfDefault(assistantID, topicID, title) {
		t.logger.Info("topic auto-titled",
			zap.String("topic_id", topicID),
			zap.String("title", title))
		if t.gateway != nil {
			t.gateway.SaveAssistant(assistantID)
		}
	}
}

// CleanTitle strips quotes, surrounding whitespace and punctuation from the
// model output and caps the result at ten characters.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'“”‘’「」《》`")
	title = strings.TrimFunc(title, unicode.IsPunct)
	title = strings.TrimSpace(title)
	if line := strings.IndexAny(title, "\r\n"); line >= 0 {
		title = strings.TrimSpace(title[:line])
	}
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		runes = runes[:titleMaxRunes]
	}
	return string(runes)
}
