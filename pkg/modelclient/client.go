package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the model endpoint used when none is configured.
	DefaultBaseURL = "https://api.anthropic.com"
	// DefaultModel is the model id used when none is configured.
	DefaultModel = "claude-sonnet-4-20250514"

	apiVersion   = "2023-06-01"
	messagesPath = "/v1/messages"
)

// HTTPError is a non-2xx reply from the model endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("model endpoint returned %d: %s", e.Status, e.Body)
}

// TransportError is a mid-stream decode or IO failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model stream transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config holds client configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client issues streaming requests against the model endpoint. One Stream
// call is made per agent turn.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

// Stream issues one streaming request. Events are yielded in wire order;
// the stream terminates on message_stop, upstream EOF, transport error, or
// ctx cancellation.
func (c *Client) Stream(ctx context.Context, req Request) (*Stream, error) {
	body := map[string]interface{}{
		"model":      c.model,
		"messages":   encodeMessages(req.Messages),
		"max_tokens": req.MaxTokens,
		"stream":     true,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	c.logger.Debug().
		Str("model", c.model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("Model call started")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(raw)}
	}

	return newStream(ctx, resp, c.logger), nil
}
