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
	"time"
)

const defaultPerplexityURL = "https://api.perplexity.ai/chat/completions"

// PerplexityClient calls the Perplexity chat-completions API and parses its
// structured JSON answer.
type PerplexityClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewPerplexityClient(apiKey, baseURL string) *PerplexityClient {
	if baseURL == "" {
		baseURL = defaultPerplexityURL
	}
	return &PerplexityClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   "sonar-pro",
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *PerplexityClient) Name() string { return "perplexity" }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *PerplexityClient) Generate(ctx context.Context, pc PromptContext) (*Payload, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: RenderPrompt(pc)}},
		MaxTokens:   1000,
		Temperature: 0.1,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %s", ErrRateLimited, resp.Status)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %s: %s", ErrProvider, resp.Status, string(body))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrProvider)
	}

	var payload Payload
	if err := json.Unmarshal([]byte(result.Choices[0].Message.Content), &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed answer: %v", ErrProvider, err)
	}
	return &payload, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
