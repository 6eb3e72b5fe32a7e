// Package llm defines the port for the language-model backend used by
// the intent classifier and the reporter agent. The concrete provider
// is out of scope; this package ships an HTTP JSON implementation with
// primary/backup selection and leaves rule-based classification to the
// planner.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cidadao-ai/vigia/pkg/resilience"
)

// Client is the LLM port.
type Client interface {
	// Complete returns the model's completion for a prompt. Must respect
	// ctx deadlines; implementations classify failures with the
	// resilience wrappers.
	Complete(ctx context.Context, prompt string) (string, error)
}

// ProviderConfig names one backend endpoint.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// HTTPClient speaks a chat-completions style JSON API with a primary
// and an optional backup provider, falling back on transient failure.
type HTTPClient struct {
	primary ProviderConfig
	backup  *ProviderConfig
	apiKeys map[string]string
	client  *http.Client
}

// NewHTTPClient builds the client. apiKeys maps provider name → key.
func NewHTTPClient(primary ProviderConfig, backup *ProviderConfig, apiKeys map[string]string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		primary: primary,
		backup:  backup,
		apiKeys: apiKeys,
		client:  &http.Client{Timeout: timeout},
	}
}

// Complete implements Client via a fallback chain over the providers.
func (c *HTTPClient) Complete(ctx context.Context, prompt string) (string, error) {
	ops := []resilience.Op[string]{{
		Name: c.primary.Name,
		Run: func(ctx context.Context) (string, error) {
			return c.complete(ctx, c.primary, prompt)
		},
	}}
	if c.backup != nil {
		backup := *c.backup
		ops = append(ops, resilience.Op[string]{
			Name: backup.Name,
			Run: func(ctx context.Context) (string, error) {
				return c.complete(ctx, backup, prompt)
			},
		})
	}
	res, err := resilience.Fallback(ctx, ops)
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (c *HTTPClient) complete(ctx context.Context, provider ProviderConfig, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:    provider.Model,
		Messages: []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", resilience.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := c.apiKeys[provider.Name]; key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", resilience.Timeout(err)
		}
		return "", resilience.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return "", resilience.AuthFailure(fmt.Errorf("provider %s: HTTP 401", provider.Name))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", resilience.Transient(fmt.Errorf("provider %s: HTTP %d", provider.Name, resp.StatusCode))
	default:
		return "", resilience.Permanent(fmt.Errorf("provider %s: HTTP %d", provider.Name, resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", resilience.Transient(err)
	}
	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", resilience.Permanent(fmt.Errorf("provider %s: undecodable response: %w", provider.Name, err))
	}
	if len(parsed.Choices) == 0 {
		return "", resilience.Permanent(fmt.Errorf("provider %s: empty choices", provider.Name))
	}
	return parsed.Choices[0].Message.Content, nil
}

// StaticClient returns canned completions; used in tests and demo mode.
type StaticClient struct {
	Response string
	Err      error
}

// Complete implements Client.
func (s *StaticClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Response, nil
}
