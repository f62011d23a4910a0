package app

import "context"

// ModelTarget carries the connection settings for one model call. The
// engine threads it through untouched; which provider it points at is the
// client's business.
type ModelTarget struct {
	APIURL string
	APIKey string
	Model  string
}

// StreamRequest asks the LLM backend to start a streamed completion for one
// topic. Chunk events tagged with Gen are emitted asynchronously on the
// session's event channel.
type StreamRequest struct {
	ModelTarget
	AssistantID string
	TopicID     string
	Gen         string
	Messages    []WireMessage
}

// SummarizeRequest is a one-shot, non-streamed completion used by the
// compactor and the auto-titler. Instruction is appended as a trailing
// system message.
type SummarizeRequest struct {
	ModelTarget
	Messages    []WireMessage
	Instruction string
}

// LLMBackend is the opaque boundary to the model provider.
type LLMBackend interface {
	CallLLMStream(ctx context.Context, req StreamRequest) error
	StopLLMStream(ctx context.Context, assistantID, topicID string) error
	SummarizeHistory(ctx context.Context, req SummarizeRequest) (string, error)
}

// AssistantStore is the durable store behind the persistence gateway. The
// backend performs whole-snapshot overwrites, so overlapping saves for the
// same assistant resolve to the last submission.
type AssistantStore interface {
	LoadAssistants(ctx context.Context) ([]Assistant, error)
	SaveAssistant(ctx context.Context, a Assistant) error
	DeleteAssistant(ctx context.Context, id string) error
	Close() error
}

// FileProcessor extracts text or base64 payloads from dropped files.
type FileProcessor interface {
	ProcessFileContent(ctx context.Context, path string) (string, error)
}

// BuildWireMessages formats a topic for the model: the assistant's system
// prompt first, then the compacted summary as long-term memory context,
// then the full history with display-only fields stripped.
func BuildWireMessages(a Assistant, t Topic) []WireMessage {
	out := make([]WireMessage, 0, len(t.History)+2)
	if a.Prompt != "" {
		out = append(out, WireMessage{Role: RoleSystem, Text: a.Prompt})
	}
	if t.Summary != "" {
		out = append(out, WireMessage{
			Role: RoleSystem,
			Text: "以下是之前对话的长期记忆总结，请作为上下文参考：\n" + t.Summary,
		})
	}
	for _, m := range t.History {
		out = append(out, WireMessageFrom(m))
	}
	return out
}
