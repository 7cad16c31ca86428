package llm

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// OpenRouterClient talks to the OpenRouter chat completions API
// directly over HTTP.
type OpenRouterClient struct {
	http     *resty.Client
	apiKey   string
	endpoint string
	model    string
}

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func NewOpenRouter(apiKey, endpoint, model string) *OpenRouterClient {
	return &OpenRouterClient{
		http:     resty.New(),
		apiKey:   apiKey,
		endpoint: endpoint,
		model:    model,
	}
}

func (c *OpenRouterClient) Generate(ctx context.Context, messages []Message) (Response, error) {
	req := openRouterRequest{Model: c.model, Temperature: 0}
	for _, m := range messages {
		req.Messages = append(req.Messages, openRouterMessage{Role: m.Role, Content: m.Content})
	}

	var out openRouterResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		Post(c.endpoint)
	if err != nil {
		return Response{}, fmt.Errorf("%w: openrouter request failed: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() != 200 {
		return Response{}, fmt.Errorf("%w: openrouter non-200: %d: %s",
			ErrUnavailable, resp.StatusCode(), truncate(resp.String(), 500))
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return Response{}, fmt.Errorf("%w: openrouter returned empty text", ErrUnavailable)
	}

	return Response{
		Content:          out.Choices[0].Message.Content,
		Model:            c.model,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		TotalTokens:      out.Usage.TotalTokens,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
