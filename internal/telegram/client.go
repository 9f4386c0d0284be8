package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/adjutant/core"
	"pkt.systems/adjutant/schema"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	// maxMessageLength is the Bot API's hard cap on message text.
	maxMessageLength = 4096
)

// Config holds configuration for a Bot API client.
type Config struct {
	// Token is the bot token issued by BotFather. Required.
	Token string
	// BaseURL overrides the API endpoint, mainly for tests. Defaults to
	// the public Bot API.
	BaseURL string
	// HTTPClient is used for all requests. Defaults to a client with a
	// timeout generous enough for long polling.
	HTTPClient *http.Client
	// Logger is used for request diagnostics.
	Logger pslog.Logger
}

// Client is a minimal Telegram Bot API client covering the methods the
// session controller needs. It implements core.ChatTransport.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     pslog.Logger
}

// NewClient constructs a Bot API client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		token:   cfg.Token,
		http:    httpClient,
		log:     cfg.Logger,
	}, nil
}

// APIError is a Bot API rejection with its error code and description.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: api error %d: %s", e.Code, e.Description)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// call posts one Bot API method and decodes its result envelope.
func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: encode %s: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: request %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}
	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("telegram: decode %s response (http %d): %w", method, resp.StatusCode, err)
	}
	if !envelope.OK {
		if isUnchangedDescription(envelope.Description) {
			return schema.ErrMessageUnchanged
		}
		if c.log != nil {
			c.log.Warn("telegram api rejected call", "method", method, "code", envelope.ErrorCode, "description", envelope.Description)
		}
		return &APIError{Code: envelope.ErrorCode, Description: envelope.Description}
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

// isUnchangedDescription matches the Bot API's rejection of an edit
// that does not change the message.
func isUnchangedDescription(description string) bool {
	return strings.Contains(strings.ToLower(description), "message is not modified")
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// Create implements core.ChatTransport.
func (c *Client) Create(ctx context.Context, chatID schema.ChatID, text string, spans []schema.FormatSpan) (schema.MessageID, error) {
	payload := map[string]any{
		"chat_id": string(chatID),
		"text":    text,
	}
	if entities := entitiesFromSpans(text, spans); len(entities) > 0 {
		payload["entities"] = entities
	}
	var sent sentMessage
	if err := c.call(ctx, "sendMessage", payload, &sent); err != nil {
		return "", err
	}
	return schema.MessageID(strconv.FormatInt(sent.MessageID, 10)), nil
}

// Edit implements core.ChatTransport.
func (c *Client) Edit(ctx context.Context, chatID schema.ChatID, messageID schema.MessageID, text string, spans []schema.FormatSpan) error {
	id, err := strconv.ParseInt(string(messageID), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad message id %q: %w", messageID, err)
	}
	payload := map[string]any{
		"chat_id":    string(chatID),
		"message_id": id,
		"text":       text,
	}
	if entities := entitiesFromSpans(text, spans); len(entities) > 0 {
		payload["entities"] = entities
	}
	return c.call(ctx, "editMessageText", payload, nil)
}

// MaxLength implements core.ChatTransport.
func (c *Client) MaxLength() int {
	return maxMessageLength
}

// SignalActivity implements core.ChatTransport.
func (c *Client) SignalActivity(ctx context.Context, chatID schema.ChatID) error {
	payload := map[string]any{
		"chat_id": string(chatID),
		"action":  "typing",
	}
	return c.call(ctx, "sendChatAction", payload, nil)
}

var _ core.ChatTransport = (*Client)(nil)
