package app

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Attachment is one processed dropped file, ready to be folded into a
// multimodal user message.
type Attachment struct {
	Name    string
	Content string
	IsImage bool
}

// ChatSession wires the entity store, stream coordinator, persistence
// gateway and the post-completion hooks into one object with an explicit
// lifetime. The chunk-event subscription lives exactly as long as the
// session: Close releases it deterministically.
type ChatSession struct {
	Store       *EntityStore
	Coordinator *StreamCoordinator
	Gateway     *PersistenceGateway

	backend LLMBackend
	files   FileProcessor
	events  chan StreamChunk
	target  func() ModelTarget
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// Events returns the send side of the session's chunk channel. The LLM
// backend emits llm-chunk payloads here; the coordinator is the single
// consumer, which keeps per-generation delivery order intact.
func (s *ChatSession) Events() chan<- StreamChunk { return s.events }

// NewChatSession loads persisted assistants (bootstrapping a default pair
// when the store is empty), wires the completion hooks in their fixed order
// (persist, then title, then compaction) and starts the ingest loop.
func NewChatSession(ctx context.Context, backend LLMBackend, store AssistantStore, files FileProcessor, target func() ModelTarget, logger *zap.Logger) *ChatSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	entities := NewEntityStore(logger)
	gateway := NewPersistenceGateway(entities, store, logger)
	coordinator := NewStreamCoordinator(entities, backend, target, logger)
	titler := NewAutoTitler(entities, backend, gateway, target, logger)
	compactor := NewCompactor(entities, coordinator, backend, gateway, target, logger)

	coordinator.AddCompletionHook(func(ctx context.Context, assistantID, topicID string) {
		gateway.SaveAssistant(assistantID)
	})
	coordinator.AddCompletionHook(titler.OnCompletion)
	coordinator.AddCompletionHook(compactor.OnCompletion)

	entities.Bootstrap(gateway.LoadAll(ctx))

	runCtx, cancel := context.WithCancel(context.Background())
	s := &ChatSession{
		Store:       entities,
		Coordinator: coordinator,
		Gateway:     gateway,
		backend:     backend,
		files:       files,
		events:      make(chan StreamChunk, 64),
		target:      target,
		logger:      logger,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		coordinator.Run(runCtx, s.events)
	}()
	return s
}

// Close stops the ingest loop and waits for in-flight persistence. The
// durable store itself is closed by whoever opened it.
func (s *ChatSession) Close() {
	s.cancel()
	<-s.done
	s.Gateway.Wait()
}

// AddAssistant creates an assistant and mirrors it to the store.
func (s *ChatSession) AddAssistant(name string) string {
	id := s.Store.AddAssistant(name)
	s.Gateway.SaveAssistant(id)
	return id
}

// AddTopic appends a topic and mirrors the assistant.
func (s *ChatSession) AddTopic(assistantID string) string {
	id := s.Store.AddTopic(assistantID)
	if id != "" {
		s.Gateway.SaveAssistant(assistantID)
	}
	return id
}

// RenameAssistant applies the rename and mirrors it; empty names are
// rejected upstream and nothing is persisted.
func (s *ChatSession) RenameAssistant(assistantID, name string) error {
	if err := s.Store.RenameAssistant(assistantID, name); err != nil {
		return err
	}
	s.Gateway.SaveAssistant(assistantID)
	return nil
}

func (s *ChatSession) RenameTopic(assistantID, topicID, name string) error {
	if err := s.Store.RenameTopic(assistantID, topicID, name); err != nil {
		return err
	}
	s.Gateway.SaveAssistant(assistantID)
	return nil
}

// DeleteAssistant removes the assistant and its persisted snapshot.
func (s *ChatSession) DeleteAssistant(assistantID string) error {
	if err := s.Store.DeleteAssistant(assistantID); err != nil {
		return err
	}
	s.Gateway.DeleteAssistant(assistantID)
	return nil
}

// DeleteTopic refuses to remove the last topic; otherwise it mirrors the
// new shape of the assistant.
func (s *ChatSession) DeleteTopic(assistantID, topicID string) error {
	if err := s.Store.DeleteTopic(assistantID, topicID); err != nil {
		return err
	}
	s.Gateway.SaveAssistant(assistantID)
	return nil
}

// Send starts a generation for the topic. Attachments become a multimodal
// message: extracted text is prepended to the prompt text, images travel as
// data-URI parts, and the raw input plus file names are kept as display-only
// fields so rendering never sees the stitched payload.
func (s *ChatSession) Send(ctx context.Context, assistantID, topicID, text string, attachments []Attachment) error {
	msg := BuildUserMessage(text, attachments)
	return s.Coordinator.Send(ctx, assistantID, topicID, msg)
}

// Cancel stops the active generation for the topic, if any.
func (s *ChatSession) Cancel(ctx context.Context, assistantID, topicID string) {
	s.Coordinator.Cancel(ctx, assistantID, topicID)
}

// ProcessDroppedFiles routes drag-drop paths through the file-ingestion
// collaborator. Files that fail to process are skipped and logged; the drop
// succeeds with whatever could be read.
func (s *ChatSession) ProcessDroppedFiles(ctx context.Context, paths []string) []Attachment {
	if s.files == nil {
		return nil
	}
	out := make([]Attachment, 0, len(paths))
	for _, path := range paths {
		content, err := s.files.ProcessFileContent(ctx, path)
		if err != nil {
			s.logger.Warn("attachment skipped",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		out = append(out, Attachment{
			Name:    filepath.Base(path),
			Content: content,
			IsImage: strings.HasPrefix(content, "data:image/"),
		})
	}
	return out
}

// BuildUserMessage folds attachments into a user message. Without
// attachments the message is plain text; with them it becomes a part list
// and the display fields preserve what the user actually typed.
func BuildUserMessage(text string, attachments []Attachment) Message {
	if len(attachments) == 0 {
		return Message{Role: RoleUser, Content: text}
	}

	var b strings.Builder
	b.WriteString(text)
	files := make([]FileMeta, 0, len(attachments))
	parts := []ContentPart{}
	for _, att := range attachments {
		files = append(files, FileMeta{Name: att.Name})
		if att.IsImage {
			parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageRef{URL: att.Content}})
			continue
		}
		b.WriteString("\n\n[附件 ")
		b.WriteString(att.Name)
		b.WriteString("]:\n")
		b.WriteString(att.Content)
	}
	parts = append([]ContentPart{{Type: "text", Text: b.String()}}, parts...)
	return Message{
		Role:         RoleUser,
		Parts:        parts,
		DisplayText:  text,
		DisplayFiles: files,
	}
}
