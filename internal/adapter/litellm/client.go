// Package litellm implements the extractor port against a LiteLLM Proxy,
// using the OpenAI-compatible chat completions API.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/domain/memory"
	"github.com/engramhq/engram/internal/resilience"
)

const extractionSystemPrompt = `You analyze a conversation between a user and an assistant and extract durable facts about the user.

Return ONLY a JSON array. Each element:
  {"content": "...", "type": "preference|fact|context|decision|interaction", "priority": "red|yellow|green", "referenced_date": "YYYY-MM-DD", "conflicts_with": "..."}

Rules:
- content is a short standalone statement about the user.
- priority red is for critical facts the assistant must never lose (allergies, hard constraints, identity). yellow for stable preferences and facts. green for situational context.
- referenced_date only when the conversation ties the fact to a specific date.
- conflicts_with quotes the existing stored fact this one replaces, verbatim, when the user corrected or changed something.
- Skip facts already stored unless the new one corrects them. Skip small talk.
- Return [] when nothing is worth remembering.`

const singleFactSystemPrompt = `The user asked the assistant to remember something. Restate it as one short, standalone factual statement about the user, third person. Return only the statement, no quotes or commentary. If there is nothing concrete to remember, return an empty string.`

// Client talks to a LiteLLM proxy's chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates an extraction client. model is the LiteLLM model name
// used for all extraction calls.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// ExtractFacts asks the model for candidate facts from a transcript.
// Malformed model output yields zero facts, not an error.
func (c *Client) ExtractFacts(ctx context.Context, existing, instructions, transcript string) ([]memory.ExtractedFact, error) {
	system := extractionSystemPrompt
	if instructions != "" {
		system += "\n\nAgent-specific guidance:\n" + instructions
	}

	user := fmt.Sprintf("Already stored facts:\n%s\n\nConversation:\n%s", existing, transcript)

	raw, err := c.complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}
	return memory.ParseFacts(raw), nil
}

// ExtractSingleFact condenses one utterance into a single fact statement.
func (c *Client) ExtractSingleFact(ctx context.Context, utterance string) (string, error) {
	raw, err := c.complete(ctx, singleFactSystemPrompt, utterance)
	if err != nil {
		return "", fmt.Errorf("extract single fact: %w", err)
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"`)), nil
}

// Health checks whether the LiteLLM proxy is reachable.
func (c *Client) Health(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/liveliness", nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 400, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete runs one chat completion and returns the first choice's content.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	data, err := c.doRequest(ctx, body)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
