// Package slack posts Block Kit messages to a Slack channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Text is a Block Kit text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Block is a Block Kit layout block.
type Block struct {
	Type     string `json:"type"`
	Text     *Text  `json:"text,omitempty"`
	Elements []Text `json:"elements,omitempty"`
}

// Header returns a header block.
func Header(s string) Block {
	return Block{Type: "header", Text: &Text{Type: "plain_text", Text: s}}
}

// Section returns a section block with markdown text.
func Section(md string) Block {
	return Block{Type: "section", Text: &Text{Type: "mrkdwn", Text: md}}
}

// Context returns a context block with one markdown element.
func Context(md string) Block {
	return Block{Type: "context", Elements: []Text{{Type: "mrkdwn", Text: md}}}
}

// Divider returns a divider block.
func Divider() Block {
	return Block{Type: "divider"}
}

// Message is a chat.postMessage request.
type Message struct {
	Channel string  `json:"channel"`
	Text    string  `json:"text,omitempty"`
	Blocks  []Block `json:"blocks,omitempty"`
}

type postResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// APIError is a failed post: either a non-200 status or a response with ok false.
type APIError struct {
	StatusCode int
	Reason     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack API error (status %d): %s", e.StatusCode, e.Reason)
}

// Client is a wrapper for making authenticated calls to the Slack Web API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *slog.Logger
}

// NewClient returns a Slack client authenticating with a bot token.
func NewClient(ctx context.Context, baseURL, token string, logger *slog.Logger) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &Client{
		httpClient: oauth2.NewClient(ctx, ts),
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        logger,
	}
}

// PostMessage posts m, returning the message timestamp. Success needs both status 200
// and an ok acknowledgement in the response body.
func (c *Client) PostMessage(ctx context.Context, m Message) (string, error) {

	body, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	requestURL := c.baseURL + "/api/chat.postMessage"
	c.log.Debug(fmt.Sprintf("PostMessage: url %s channel %s", requestURL, m.Channel))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Error(fmt.Sprintf("PostMessage: status %d: %s", resp.StatusCode, respBody))
		return "", &APIError{StatusCode: resp.StatusCode, Reason: strings.TrimSpace(string(respBody))}
	}

	var pr postResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if !pr.OK {
		c.log.Error(fmt.Sprintf("PostMessage: not ok: %s", pr.Error))
		return "", &APIError{StatusCode: resp.StatusCode, Reason: pr.Error}
	}
	return pr.TS, nil
}
