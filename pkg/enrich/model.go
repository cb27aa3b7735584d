// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ModelClient produces a single text completion for a prompt. ImageURL, when
// set, is attached to the request so vision-capable models can see the file.
type ModelClient interface {
	Complete(ctx context.Context, prompt string, imageURL string) (string, error)
}

// ModelConfig configures the chat-completions client.
type ModelConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Compile-time interface verification
var _ ModelClient = (*HTTPModelClient)(nil)

// HTTPModelClient talks to an OpenAI-compatible chat-completions endpoint.
type HTTPModelClient struct {
	cfg    ModelConfig
	client *http.Client
}

// NewHTTPModelClient creates a model client for cfg.BaseURL.
func NewHTTPModelClient(cfg ModelConfig) *HTTPModelClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &HTTPModelClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *HTTPModelClient) Complete(ctx context.Context, prompt string, imageURL string) (string, error) {
	var content any = prompt
	if imageURL != "" {
		img := &struct {
			URL string `json:"url"`
		}{URL: imageURL}
		content = []chatContentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: img},
		}
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrModelCallFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelCallFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelCallFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrModelCallFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrModelCallFailed, resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrModelCallFailed, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrModelCallFailed, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrModelCallFailed)
	}
	return parsed.Choices[0].Message.Content, nil
}
