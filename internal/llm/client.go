// Package llm talks to OpenAI-compatible chat-completions endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/hass-agent/internal/config"
	"github.com/af-corp/hass-agent/internal/types"
)

// ChatPath is appended to the configured base URL.
const ChatPath = "/chat/completions"

// maxResponseBody bounds how much of a response is read.
const maxResponseBody = 4 << 20

// Client issues exactly one POST per call: no retries, no streaming.
type Client struct {
	client *http.Client
}

// NewClient returns a client sharing one connection pool. Timeouts come
// from the per-call settings.
func NewClient() *Client {
	return &Client{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

// Send posts req to settings.EndpointURL + ChatPath and returns the first
// choice's text. Errors are *NetworkError, *HTTPError or
// *MalformedResponseError.
func (c *Client) Send(ctx context.Context, req *types.ChatRequest, settings config.Settings) (*types.ChatResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	if settings.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.RequestTimeout)
		defer cancel()
	}

	url := strings.TrimRight(settings.EndpointURL, "/") + ChatPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if settings.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+settings.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{URL: url, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &NetworkError{URL: url, Timeout: isTimeout(err), Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	return parseResponse(resp.StatusCode, body)
}

func parseResponse(status int, body []byte) (*types.ChatResponse, error) {
	var oaiResp chatResponseBody
	if err := json.Unmarshal(body, &oaiResp); err != nil {
		return nil, &MalformedResponseError{StatusCode: status, Reason: "invalid JSON", Err: err}
	}
	if len(oaiResp.Choices) == 0 {
		return nil, &MalformedResponseError{StatusCode: status, Reason: "no choices"}
	}
	first := oaiResp.Choices[0]
	if first.Message == nil || first.Message.Content == nil {
		return nil, &MalformedResponseError{StatusCode: status, Reason: "first choice has no message content"}
	}

	return &types.ChatResponse{
		Text:         strings.TrimSpace(*first.Message.Content),
		StatusCode:   status,
		Model:        oaiResp.Model,
		FinishReason: first.FinishReason,
		Usage: types.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type chatResponseBody struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message *struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
