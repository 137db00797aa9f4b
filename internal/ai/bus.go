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
	"time"
)

// BusClient routes messages through the structured message-bus pipeline.
type BusClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBusClient creates a bus client; baseURL must be non-empty. An empty model
// leaves provider selection to the backend.
func NewBusClient(log *slog.Logger, baseURL, apiKey, model string, timeout time.Duration) *BusClient {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &BusClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("component", "ai_bus")),
	}
}

type busMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Content        string `json:"content"`
	Platform       string `json:"platform,omitempty"`
	ChannelID      string `json:"channel_id,omitempty"`
	Model          string `json:"model,omitempty"`
}

type busMessageResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type busConversationResponse struct {
	ID string `json:"id"`
}

// Dispatch posts the message on the bus and returns the AI response text.
// A 404 for the conversation id maps to ErrConversationNotFound.
func (c *BusClient) Dispatch(ctx context.Context, req Request) (string, error) {
	var parsed busMessageResponse
	status, err := c.post(ctx, "/v1/messages", busMessageRequest{
		ConversationID: req.ConversationID,
		UserID:         req.BackendUserID,
		Content:        req.Content,
		Platform:       req.Platform,
		ChannelID:      req.ChannelID,
		Model:          c.model,
	}, &parsed)
	if err != nil {
		if status == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrConversationNotFound, req.ConversationID)
		}
		return "", err
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("bus error: %s", parsed.Error)
	}
	return parsed.Response, nil
}

// CreateConversation asks the backend for a fresh conversation id.
func (c *BusClient) CreateConversation(ctx context.Context) (string, error) {
	var parsed busConversationResponse
	if _, err := c.post(ctx, "/v1/conversations", struct{}{}, &parsed); err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.ID) == "" {
		return "", fmt.Errorf("bus returned empty conversation id")
	}
	return parsed.ID, nil
}

func (c *BusClient) post(ctx context.Context, path string, payload, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	url := c.baseURL + path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("bus error", slog.String("url", url), slog.Int("status", resp.StatusCode), slog.String("body_prefix", Truncate(string(respBody), 300)))
		return resp.StatusCode, fmt.Errorf("message bus error: %s", strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to parse bus response: %w", err)
	}
	return resp.StatusCode, nil
}
