package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	writlet "github.com/Paranoid-AF/writlet"
	"github.com/Paranoid-AF/writlet/calllog"
)

// Request describes one generation request. MaxTokens 0 omits the cap.
type Request struct {
	System    string
	User      string
	MaxTokens int
}

// Generator produces text for a prepared request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// HTTPError is returned for any non-2xx API response, after the attempt has
// been logged.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Body)
}

// Client performs generation requests against an OpenAI-compatible API.
// Endpoint, key, model, style, and temperature are read from the settings
// store on every call, so edits and key rotations take effect on the next
// call. Every attempt is recorded in the call log.
type Client struct {
	settings *writlet.Store
	log      *calllog.Log
	client   *http.Client
}

var _ Generator = (*Client)(nil)

// NewClient creates a client reading from settings and logging to log.
func NewClient(settings *writlet.Store, log *calllog.Log) *Client {
	return &Client{
		settings: settings,
		log:      log,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Generate sends one request to the configured endpoint and returns the
// generated text. Exactly one call log entry is written per invocation,
// success or failure.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	endpoint := writlet.ResolveEndpoint(c.settings)
	if endpoint == "" {
		return "", fmt.Errorf("no API endpoint configured")
	}

	temperature, err := c.floatSetting(writlet.KeyTemperature)
	if err != nil {
		return "", err
	}

	style, _ := c.settings.Get(writlet.KeyAPIStyle)
	data, err := c.marshalBody(style, req, temperature)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.record(endpoint, string(data), err.Error(), 0)
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(endpoint, string(data), err.Error(), resp.StatusCode)
		return "", fmt.Errorf("read response: %w", err)
	}

	c.record(endpoint, string(data), string(body), resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	if style == "completion" {
		return parseCompletionResponse(body)
	}
	return parseChatResponse(body)
}

// record appends one call log entry. A logging failure must not mask the
// call's own outcome, so it is only reported.
func (c *Client) record(endpoint, request, response string, status int) {
	if err := c.log.Append(endpoint, request, response, status); err != nil {
		slog.Warn("failed to record call log entry", "error", err)
	}
}

// marshalBody builds the JSON request body for the configured API style.
func (c *Client) marshalBody(style string, req Request, temperature float64) ([]byte, error) {
	model := writlet.ResolveModel(c.settings)

	if style == "completion" {
		return json.Marshal(completionRequest{
			Model:       model,
			Prompt:      req.System + "\n\n" + req.User,
			MaxTokens:   req.MaxTokens,
			Temperature: temperature,
		})
	}

	return json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
	})
}

// setHeaders sets common headers for API requests. The key is resolved here
// so a rotation applies to the next call.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if apiKey := writlet.ResolveAPIKey(c.settings); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func (c *Client) floatSetting(key string) (float64, error) {
	v, _ := c.settings.Get(key)
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, &SettingError{Key: key, Value: v, Want: "a number"}
	}
	return f, nil
}

// --- Chat completions style ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func parseChatResponse(body []byte) (string, error) {
	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w (body: %s)", err, string(body))
	}
	if result.Error != nil {
		return "", fmt.Errorf("API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return result.Choices[0].Message.Content, nil
}

// --- Legacy completion style ---

type completionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Choices []completionChoice `json:"choices"`
	Error   *apiError          `json:"error,omitempty"`
}

type completionChoice struct {
	Text string `json:"text"`
}

func parseCompletionResponse(body []byte) (string, error) {
	var result completionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w (body: %s)", err, string(body))
	}
	if result.Error != nil {
		return "", fmt.Errorf("API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return result.Choices[0].Text, nil
}
