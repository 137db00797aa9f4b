package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const historyLimit = 40

// AgentClient is the direct conversational fallback: an OpenAI-compatible
// chat-completions endpoint plus an in-memory working set of conversations.
// The working set does not survive a restart, which is exactly what the
// recovery path exists for.
type AgentClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger

	mu            sync.Mutex
	conversations map[string][]chatMessage
}

// NewAgentClient creates a direct agent client; baseURL must be non-empty.
func NewAgentClient(log *slog.Logger, baseURL, apiKey, model string, timeout time.Duration) *AgentClient {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AgentClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		model:         model,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        log.With(slog.String("component", "ai_agent")),
		conversations: map[string][]chatMessage{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// CreateConversation registers a fresh conversation in the working set.
func (c *AgentClient) CreateConversation(ctx context.Context) (string, error) {
	id := uuid.NewString()
	c.mu.Lock()
	c.conversations[id] = nil
	c.mu.Unlock()
	return id, nil
}

// Has reports whether the conversation id is in the working set.
func (c *AgentClient) Has(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.conversations[conversationID]
	return ok
}

// Dispatch sends the message with the conversation's history and returns the
// assistant reply. An unknown conversation id maps to ErrConversationNotFound.
func (c *AgentClient) Dispatch(ctx context.Context, req Request) (string, error) {
	c.mu.Lock()
	history, ok := c.conversations[req.ConversationID]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrConversationNotFound, req.ConversationID)
	}
	if strings.TrimSpace(c.model) == "" {
		return "", fmt.Errorf("no model configured for direct agent calls")
	}

	messages := append(append([]chatMessage{}, history...), chatMessage{Role: "user", Content: req.Content})
	body, err := json.Marshal(chatCompletionRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", err
	}

	url := c.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("agent error", slog.String("url", url), slog.Int("status", resp.StatusCode), slog.String("body_prefix", Truncate(string(respBody), 300)))
		return "", fmt.Errorf("agent error: %s", strings.TrimSpace(string(respBody)))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse agent response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	reply := parsed.Choices[0].Message.Content

	c.mu.Lock()
	history = append(history,
		chatMessage{Role: "user", Content: req.Content},
		chatMessage{Role: "assistant", Content: reply},
	)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	c.conversations[req.ConversationID] = history
	c.mu.Unlock()

	return reply, nil
}
