package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client calls an OpenAI-compatible chat completions endpoint to synthesize
// extraction templates from sample emails.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, model string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
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
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) Synthesize(ctx context.Context, sourceName string, samples []SampleEmail, guidance string) ([]CandidateTemplate, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no sample emails provided")
	}

	requestID := uuid.NewString()
	slog.Debug("Requesting template synthesis",
		"request_id", requestID, "source", sourceName, "samples", len(samples))

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(sourceName, samples, guidance)},
		},
		Temperature: 0.3,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-Id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call synthesis API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesis API returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if chat.Error != nil {
		return nil, fmt.Errorf("synthesis API error: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("synthesis API returned no choices")
	}

	candidates, err := parseCandidates(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	slog.Debug("Template synthesis completed",
		"request_id", requestID, "source", sourceName, "candidates", len(candidates))

	return candidates, nil
}

// parseCandidates accepts a JSON array or a single object, optionally wrapped
// in markdown code fences.
func parseCandidates(content string) ([]CandidateTemplate, error) {
	content = stripCodeFences(content)

	var candidates []CandidateTemplate
	if err := json.Unmarshal([]byte(content), &candidates); err == nil {
		return candidates, nil
	}

	var single CandidateTemplate
	if err := json.Unmarshal([]byte(content), &single); err != nil {
		return nil, fmt.Errorf("failed to parse synthesis response: %w", err)
	}

	return []CandidateTemplate{single}, nil
}

func stripCodeFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}
	return strings.TrimSpace(content)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
