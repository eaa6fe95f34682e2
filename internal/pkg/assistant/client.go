// Package assistant proxies chat prompts to the OpenAI Assistants API:
// create a thread, attach the prompt, start a run, poll until it settles,
// read the reply. The transcript of record lives in our own store; the
// provider thread is throwaway.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/regscout/regscout/internal/pkg/env"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	pollInterval   = 500 * time.Millisecond
)

// ErrRunFailed is returned when the assistant run ends in a non-completed state.
var ErrRunFailed = errors.New("assistant run did not complete")

// Client talks to the assistant provider.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	assistantID string
}

// NewFromEnv builds a client from OPENAI_API_KEY / OPENAI_ASSISTANT_ID.
func NewFromEnv() *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		baseURL:     env.GetEnv("OPENAI_BASE_URL", defaultBaseURL),
		apiKey:      env.GetEnv("OPENAI_API_KEY", ""),
		assistantID: env.GetEnv("OPENAI_ASSISTANT_ID", ""),
	}
}

// New builds a client with explicit configuration (used by tests).
func New(httpClient *http.Client, baseURL, apiKey, assistantID string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		apiKey:      apiKey,
		assistantID: assistantID,
	}
}

type thread struct {
	ID string `json:"id"`
}

type run struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// Generate runs one prompt through the assistant and returns the reply text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", errors.New("prompt is required")
	}

	var th thread
	if err := c.do(ctx, http.MethodPost, "/threads", map[string]interface{}{}, &th); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	msgBody := map[string]interface{}{"role": "user", "content": prompt}
	if err := c.do(ctx, http.MethodPost, "/threads/"+th.ID+"/messages", msgBody, nil); err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}

	var r run
	runBody := map[string]interface{}{"assistant_id": c.assistantID}
	if err := c.do(ctx, http.MethodPost, "/threads/"+th.ID+"/runs", runBody, &r); err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}

	if err := c.waitForRun(ctx, th.ID, r.ID); err != nil {
		return "", err
	}

	var msgs messageList
	if err := c.do(ctx, http.MethodGet, "/threads/"+th.ID+"/messages?limit=10", nil, &msgs); err != nil {
		return "", fmt.Errorf("read messages: %w", err)
	}
	for _, m := range msgs.Data {
		if m.Role != "assistant" {
			continue
		}
		for _, part := range m.Content {
			if part.Type == "text" {
				return part.Text.Value, nil
			}
		}
	}
	return "", errors.New("assistant returned no text reply")
}

func (c *Client) waitForRun(ctx context.Context, threadID, runID string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var r run
		if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &r); err != nil {
			return fmt.Errorf("poll run: %w", err)
		}
		switch r.Status {
		case "completed":
			return nil
		case "failed", "cancelled", "expired", "incomplete":
			return fmt.Errorf("%w: status %s", ErrRunFailed, r.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("assistant API %s %s: %s: %s", method, path, resp.Status, data)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
