package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aiorchestrator/orchestrator/internal/config"
	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// AnthropicClient implements domain.ProviderClient over the Anthropic
// Messages API: POST {baseURL}/messages with x-api-key/anthropic-version
// headers.
type AnthropicClient struct {
	cfg            domain.ProviderConfig
	rc             config.RetryConfig
	hc             *http.Client
	anthropicVersion string
}

// NewAnthropicClient constructs an adapter for cfg.
func NewAnthropicClient(cfg domain.ProviderConfig, rc config.RetryConfig) *AnthropicClient {
	return &AnthropicClient{
		cfg:              cfg,
		rc:               rc,
		hc:               newHTTPClient(cfg.Name, time.Duration(cfg.TimeoutMs)*time.Millisecond),
		anthropicVersion: "2023-06-01",
	}
}

func (c *AnthropicClient) Initialize() error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("%s: missing API key", c.cfg.Name)
	}
	return nil
}

func (c *AnthropicClient) GetName() string                 { return c.cfg.Name }
func (c *AnthropicClient) GetDefaultModel() string          { return c.cfg.DefaultModel }
func (c *AnthropicClient) GetConfig() domain.ProviderConfig { return c.cfg }
func (c *AnthropicClient) GetModelConfig(name string) (domain.ModelConfig, bool) {
	return c.cfg.ModelConfigFor(name)
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	StopReason string `json:"stop_reason"`
}

func (c *AnthropicClient) Generate(ctx domain.Context, prompt string, options domain.RequestOptions) (domain.Response, error) {
	model := options.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	mc, _ := c.cfg.ModelConfigFor(model)

	maxTokens := mc.MaxTokens
	if options.MaxTokens != nil {
		maxTokens = *options.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	reqBody := anthropicRequest{
		Model:         model,
		MaxTokens:     maxTokens,
		Temperature:   options.Temperature,
		TopP:          options.TopP,
		StopSequences: options.StopSequences,
		Messages:      []anthropicMessage{{Role: "user", Content: prompt}},
	}

	endpoint := c.cfg.BaseURL + "/messages"
	result, err := callWithRetry(ctx, c.hc, c.rc, c.cfg.Name, func() (*http.Request, error) {
		body, err := jsonBody(reqBody)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.cfg.APIKey)
		req.Header.Set("anthropic-version", c.anthropicVersion)
		return req, nil
	})
	if err != nil {
		return domain.Response{}, err
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(result.body, &parsed); err != nil {
		return domain.Response{}, &domain.ProviderError{Kind: domain.ErrKindServer, Provider: c.cfg.Name, Message: "decoding messages response", Err: err}
	}
	if len(parsed.Content) == 0 {
		return domain.Response{}, &domain.ProviderError{Kind: domain.ErrKindServer, Provider: c.cfg.Name, Message: "empty content array"}
	}

	content := parsed.Content[0].Text
	promptTokens := parsed.Usage.InputTokens
	completionTokens := parsed.Usage.OutputTokens
	if promptTokens == 0 && completionTokens == 0 {
		promptTokens = EstimateTokens(prompt)
		completionTokens = EstimateTokens(content)
	}

	return domain.Response{
		Content:   content,
		Model:     model,
		Provider:  c.cfg.Name,
		Tokens:    domain.TokenUsage{Prompt: promptTokens, Completion: completionTokens, Total: promptTokens + completionTokens},
		Cost:      costFor(mc, promptTokens, completionTokens),
		RequestID: options.RequestID,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"stop_reason": parsed.StopReason},
	}, nil
}

func (c *AnthropicClient) HealthCheck(ctx domain.Context) (domain.ProviderHealth, error) {
	// Anthropic has no cheap unauthenticated health endpoint; probe with a
	// minimal one-token request against the configured default model.
	start := time.Now()
	_, err := c.Generate(ctx, "ping", domain.RequestOptions{Model: c.cfg.DefaultModel, MaxTokens: intPtr(1)})
	latency := time.Since(start)
	if err != nil {
		return domain.ProviderHealth{Provider: c.cfg.Name, Status: domain.HealthUnhealthy, LatencyMs: latency.Milliseconds(), FailureReason: err.Error()}, err
	}
	return domain.ProviderHealth{
		Provider:    c.cfg.Name,
		Status:      domain.ClassifyHealth(true, latency),
		LatencyMs:   latency.Milliseconds(),
		LastChecked: time.Now(),
	}, nil
}

func intPtr(n int) *int { return &n }

var _ domain.ProviderClient = (*AnthropicClient)(nil)
