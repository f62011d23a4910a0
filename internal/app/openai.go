package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint.
// Streamed responses are parsed from SSE lines and emitted as llm-chunk
// events on the session channel; one background task runs per
// (assistant, topic) pair and starting a new one aborts the old, matching
// the desktop backend this replaces.
type OpenAIClient struct {
	HTTP   *http.Client
	events chan<- StreamChunk
	logger *zap.Logger

	mu    sync.Mutex
	tasks map[topicKey]*streamTask
}

type streamTask struct {
	cancel context.CancelFunc
}

func NewOpenAIClient(events chan<- StreamChunk, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		HTTP:   &http.Client{Timeout: 5 * time.Minute},
		events: events,
		logger: logger,
		tasks:  make(map[topicKey]*streamTask),
	}
}

type chatRequest struct {
	Model    string            `json:"model"`
	Messages []json.RawMessage `json:"messages"`
	Stream   bool              `json:"stream"`
}

type chatDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CompletionsURL normalizes a base URL so it ends in /chat/completions
// exactly once.
func CompletionsURL(apiURL string) string {
	base := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

// ModelsURL derives the model-catalog endpoint from a base or completions
// URL.
func ModelsURL(apiURL string) string {
	base := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	return base + "/models"
}

func encodeMessages(messages []WireMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(messages))
	for _, m := range messages {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// CallLLMStream issues the streaming request and returns once the
// background task is running. Chunks, the terminal done event, and the
// "\n[Error: …]" failure marker all arrive on the event channel.
func (c *OpenAIClient) CallLLMStream(ctx context.Context, req StreamRequest) error {
	if strings.TrimSpace(req.APIURL) == "" {
		return errors.New("api url is required")
	}
	encoded, err := encodeMessages(req.Messages)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(chatRequest{Model: req.Model, Messages: encoded, Stream: true})
	if err != nil {
		return err
	}

	key := topicKey{req.AssistantID, req.TopicID}
	streamCtx, cancel := context.WithCancel(context.Background())
	task := &streamTask{cancel: cancel}

	c.mu.Lock()
	if old, ok := c.tasks[key]; ok {
		old.cancel()
	}
	c.tasks[key] = task
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			if c.tasks[key] == task {
				delete(c.tasks, key)
			}
			c.mu.Unlock()
			cancel()
		}()
		if err := c.stream(streamCtx, req, payload); err != nil {
			c.logger.Error("stream failed",
				zap.String("topic_id", req.TopicID),
				zap.Error(err))
			c.emit(StreamChunk{
				AssistantID: req.AssistantID,
				TopicID:     req.TopicID,
				Gen:         req.Gen,
				Content:     fmt.Sprintf("\n[Error: %v]", err),
				Done:        true,
			})
		}
	}()
	return nil
}

func (c *OpenAIClient) stream(ctx context.Context, req StreamRequest, payload []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, CompletionsURL(req.APIURL), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Authorization", "Bearer "+req.APIKey)
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled locally; the coordinator already dropped the
			// generation, nothing to report.
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			c.emit(StreamChunk{
				AssistantID: req.AssistantID,
				TopicID:     req.TopicID,
				Gen:         req.Gen,
				Done:        true,
			})
			return nil
		}
		var delta chatDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			continue
		}
		if len(delta.Choices) == 0 || delta.Choices[0].Delta.Content == "" {
			continue
		}
		c.emit(StreamChunk{
			AssistantID: req.AssistantID,
			TopicID:     req.TopicID,
			Gen:         req.Gen,
			Content:     delta.Choices[0].Delta.Content,
		})
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	// Stream ended without an explicit [DONE]; close it out anyway.
	c.emit(StreamChunk{
		AssistantID: req.AssistantID,
		TopicID:     req.TopicID,
		Gen:         req.Gen,
		Done:        true,
	})
	return nil
}

func (c *OpenAIClient) emit(chunk StreamChunk) {
	if c.events == nil {
		return
	}
	c.events <- chunk
}

// StopLLMStream aborts the background task for one topic, if any.
func (c *OpenAIClient) StopLLMStream(ctx context.Context, assistantID, topicID string) error {
	key := topicKey{assistantID, topicID}
	c.mu.Lock()
	task, ok := c.tasks[key]
	delete(c.tasks, key)
	c.mu.Unlock()
	if ok {
		task.cancel()
	}
	return nil
}

// SummarizeHistory runs a non-streamed completion over the given messages
// with the instruction appended as a trailing system message.
func (c *OpenAIClient) SummarizeHistory(ctx context.Context, req SummarizeRequest) (string, error) {
	messages := append([]WireMessage{}, req.Messages...)
	if strings.TrimSpace(req.Instruction) != "" {
		messages = append(messages, WireMessage{Role: RoleSystem, Text: req.Instruction})
	}
	encoded, err := encodeMessages(messages)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(chatRequest{Model: req.Model, Messages: encoded, Stream: false})
	if err != nil {
		return "", err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, CompletionsURL(req.APIURL), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	request.Header.Set("Authorization", "Bearer "+req.APIKey)
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(request)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed chatDelta
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("invalid api response: %w", err)
	}
	if parsed.Error != nil {
		return "", errors.New(parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("empty api response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// FetchModels lists the provider's model catalog.
func (c *OpenAIClient) FetchModels(ctx context.Context, apiURL, apiKey string) ([]ModelInfo, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, ModelsURL(apiURL), nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.HTTP.Do(request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed.Data, nil
}
