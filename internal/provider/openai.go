package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aiorchestrator/orchestrator/internal/config"
	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// OpenAIClient implements domain.ProviderClient over the OpenAI-compatible
// chat completions wire format: POST {baseURL}/chat/completions.
type OpenAIClient struct {
	cfg domain.ProviderConfig
	rc  config.RetryConfig
	hc  *http.Client
}

// NewOpenAIClient constructs an adapter for cfg. rc drives the retry/backoff
// policy wrapped around each call.
func NewOpenAIClient(cfg domain.ProviderConfig, rc config.RetryConfig) *OpenAIClient {
	return &OpenAIClient{
		cfg: cfg,
		rc:  rc,
		hc:  newHTTPClient(cfg.Name, time.Duration(cfg.TimeoutMs)*time.Millisecond),
	}
}

func (c *OpenAIClient) Initialize() error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("%s: missing API key", c.cfg.Name)
	}
	return nil
}

func (c *OpenAIClient) GetName() string                  { return c.cfg.Name }
func (c *OpenAIClient) GetDefaultModel() string           { return c.cfg.DefaultModel }
func (c *OpenAIClient) GetConfig() domain.ProviderConfig  { return c.cfg }
func (c *OpenAIClient) GetModelConfig(name string) (domain.ModelConfig, bool) {
	return c.cfg.ModelConfigFor(name)
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model            string               `json:"model"`
	Messages         []openAIChatMessage  `json:"messages"`
	Temperature      *float64             `json:"temperature,omitempty"`
	MaxTokens        *int                 `json:"max_tokens,omitempty"`
	TopP             *float64             `json:"top_p,omitempty"`
	FrequencyPenalty *float64             `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64             `json:"presence_penalty,omitempty"`
	Stop             []string             `json:"stop,omitempty"`
	Stream           bool                 `json:"stream"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) Generate(ctx domain.Context, prompt string, options domain.RequestOptions) (domain.Response, error) {
	model := options.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	mc, _ := c.cfg.ModelConfigFor(model)

	reqBody := openAIChatRequest{
		Model:            model,
		Messages:         []openAIChatMessage{{Role: "user", Content: prompt}},
		Temperature:      options.Temperature,
		MaxTokens:        intPtrOr(options.MaxTokens, mc.MaxTokens),
		TopP:             options.TopP,
		FrequencyPenalty: options.FrequencyPenalty,
		PresencePenalty:  options.PresencePenalty,
		Stop:             options.StopSequences,
	}

	endpoint := c.cfg.BaseURL + "/chat/completions"
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
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		return req, nil
	})
	if err != nil {
		return domain.Response{}, err
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(result.body, &parsed); err != nil {
		return domain.Response{}, &domain.ProviderError{Kind: domain.ErrKindServer, Provider: c.cfg.Name, Message: "decoding chat response", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return domain.Response{}, &domain.ProviderError{Kind: domain.ErrKindServer, Provider: c.cfg.Name, Message: "empty choices array"}
	}

	promptTokens := parsed.Usage.PromptTokens
	completionTokens := parsed.Usage.CompletionTokens
	if promptTokens == 0 && completionTokens == 0 {
		promptTokens = EstimateTokens(prompt)
		completionTokens = EstimateTokens(parsed.Choices[0].Message.Content)
	}

	return domain.Response{
		Content:   parsed.Choices[0].Message.Content,
		Model:     model,
		Provider:  c.cfg.Name,
		Tokens:    domain.TokenUsage{Prompt: promptTokens, Completion: completionTokens, Total: promptTokens + completionTokens},
		Cost:      costFor(mc, promptTokens, completionTokens),
		RequestID: options.RequestID,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"finish_reason": parsed.Choices[0].FinishReason},
	}, nil
}

func (c *OpenAIClient) HealthCheck(ctx domain.Context) (domain.ProviderHealth, error) {
	return probeGet(ctx, c.hc, c.cfg.BaseURL+"/models", map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}, c.cfg.Name)
}

// costFor applies the model's per-token cost rates to a prompt/completion
// split, matching the Cost fields the orchestrator's telemetry records.
func costFor(mc domain.ModelConfig, promptTokens, completionTokens int) domain.Cost {
	in := float64(promptTokens) * mc.InputCostPerToken
	out := float64(completionTokens) * mc.OutputCostPerToken
	return domain.Cost{Input: in, Output: out, Total: in + out}
}

func intPtrOr(p *int, def int) *int {
	if p != nil {
		return p
	}
	if def <= 0 {
		return nil
	}
	return &def
}

// probeGet performs a lightweight authenticated GET used as a health probe
// by the OpenAI, Azure, and Google adapters, all of which expose a
// models-listing endpoint cheap enough to call every tick.
func probeGet(ctx domain.Context, hc *http.Client, url string, headers map[string]string, providerName string) (domain.ProviderHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.ProviderHealth{}, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	start := time.Now()
	resp, err := hc.Do(req)
	latency := time.Since(start)
	if err != nil {
		return domain.ProviderHealth{Provider: providerName, Status: domain.HealthUnhealthy, FailureReason: err.Error()}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.ProviderHealth{Provider: providerName, Status: domain.HealthUnhealthy, LatencyMs: latency.Milliseconds(), FailureReason: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}
	return domain.ProviderHealth{
		Provider:    providerName,
		Status:      domain.ClassifyHealth(true, latency),
		LatencyMs:   latency.Milliseconds(),
		LastChecked: time.Now(),
	}, nil
}

var _ domain.ProviderClient = (*OpenAIClient)(nil)
