package app

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message roles accepted by the engine and the model API.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultTopicPrefix is the placeholder prefix used when a topic is created.
// The auto-titler only renames topics whose name still carries this prefix,
// which is the sole guard against clobbering a user-chosen name.
const DefaultTopicPrefix = "新话题"

// FileMeta describes one attachment shown next to a message.
type FileMeta struct {
	Name string `json:"name"`
}

// ContentPart is one element of a multimodal user message. Type is either
// "text" or "image_url"; image payloads are base64 data URIs produced by
// the file processor.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

// ImageRef wraps an image reference in the OpenAI wire shape.
type ImageRef struct {
	URL string `json:"url"`
}

// Message is a single chat message. Content holds plain text; Parts is set
// instead for multimodal user messages with attachments. DisplayText and
// DisplayFiles exist purely for rendering and are never sent to the model.
type Message struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	Parts        []ContentPart `json:"parts,omitempty"`
	ModelID      string        `json:"modelId,omitempty"`
	DisplayText  string        `json:"displayText,omitempty"`
	DisplayFiles []FileMeta    `json:"displayFiles,omitempty"`
}

// Topic is one conversation thread with its own history and compacted
// long-term memory.
type Topic struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	History []Message `json:"history"`
	Summary string    `json:"summary,omitempty"`
}

// Assistant is a configured AI persona. Every assistant owns at least one
// topic at all times; the entity store enforces the invariant.
type Assistant struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Prompt string  `json:"prompt"`
	Topics []Topic `json:"topics"`
}

// StreamChunk is one increment of a streamed model response. Gen tags the
// chunk with the generation token of the request that produced it so the
// coordinator can discard stale deliveries after a cancel/restart.
type StreamChunk struct {
	AssistantID string `json:"assistant_id"`
	TopicID     string `json:"topic_id"`
	Gen         string `json:"gen"`
	Content     string `json:"content"`
	Done        bool   `json:"done"`
}

// ModelInfo is one entry of a provider's model catalog.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ActivatedModel is a model the user enabled, with its connection settings.
type ActivatedModel struct {
	APIURL  string `json:"api_url"`
	APIKey  string `json:"api_key"`
	ModelID string `json:"model_id"`
	OwnedBy string `json:"owned_by"`
}

// WireMessage is a message formatted for the model API. Content is either a
// plain string or a list of content parts, matching the OpenAI chat schema.
type WireMessage struct {
	Role  string
	Text  string
	Parts []ContentPart
}

func (m WireMessage) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Text})
}

// WireMessageFrom converts a stored message to its API form, dropping the
// display-only fields.
func WireMessageFrom(m Message) WireMessage {
	return WireMessage{Role: m.Role, Text: m.Content, Parts: m.Parts}
}

// NewDefaultTopic creates a topic with the placeholder name pattern the
// auto-titler recognizes, e.g. "新话题 12:00:01".
func NewDefaultTopic(id string, at time.Time) Topic {
	return Topic{
		ID:      id,
		Name:    fmt.Sprintf("%s %s", DefaultTopicPrefix, at.Format("15:04:05")),
		History: []Message{},
	}
}
