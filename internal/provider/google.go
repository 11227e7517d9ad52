package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aiorchestrator/orchestrator/internal/config"
	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// GoogleClient implements domain.ProviderClient over the Gemini
// generateContent wire format: POST
// {baseURL}/models/{model}:generateContent?key={apiKey}.
type GoogleClient struct {
	cfg domain.ProviderConfig
	rc  config.RetryConfig
	hc  *http.Client
}

// NewGoogleClient constructs an adapter for cfg.
func NewGoogleClient(cfg domain.ProviderConfig, rc config.RetryConfig) *GoogleClient {
	return &GoogleClient{
		cfg: cfg,
		rc:  rc,
		hc:  newHTTPClient(cfg.Name, time.Duration(cfg.TimeoutMs)*time.Millisecond),
	}
}

func (c *GoogleClient) Initialize() error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("%s: missing API key", c.cfg.Name)
	}
	return nil
}

func (c *GoogleClient) GetName() string                 { return c.cfg.Name }
func (c *GoogleClient) GetDefaultModel() string          { return c.cfg.DefaultModel }
func (c *GoogleClient) GetConfig() domain.ProviderConfig { return c.cfg }
func (c *GoogleClient) GetModelConfig(name string) (domain.ModelConfig, bool) {
	return c.cfg.ModelConfigFor(name)
}

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googleGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type googleRequest struct {
	Contents         []googleContent         `json:"contents"`
	GenerationConfig *googleGenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings   []struct{}              `json:"safetySettings,omitempty"`
}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (c *GoogleClient) Generate(ctx domain.Context, prompt string, options domain.RequestOptions) (domain.Response, error) {
	model := options.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	mc, _ := c.cfg.ModelConfigFor(model)

	reqBody := googleRequest{
		Contents: []googleContent{{Parts: []googlePart{{Text: prompt}}}},
		GenerationConfig: &googleGenerationConfig{
			Temperature:     options.Temperature,
			MaxOutputTokens: intPtrOr(options.MaxTokens, mc.MaxTokens),
			TopP:            options.TopP,
			StopSequences:   options.StopSequences,
		},
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, model, url.QueryEscape(c.cfg.APIKey))
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
		return req, nil
	})
	if err != nil {
		return domain.Response{}, err
	}

	var parsed googleResponse
	if err := json.Unmarshal(result.body, &parsed); err != nil {
		return domain.Response{}, &domain.ProviderError{Kind: domain.ErrKindServer, Provider: c.cfg.Name, Message: "decoding generateContent response", Err: err}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return domain.Response{}, &domain.ProviderError{Kind: domain.ErrKindServer, Provider: c.cfg.Name, Message: "empty candidates array"}
	}

	content := parsed.Candidates[0].Content.Parts[0].Text
	promptTokens := parsed.UsageMetadata.PromptTokenCount
	completionTokens := parsed.UsageMetadata.CandidatesTokenCount
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
	}, nil
}

func (c *GoogleClient) HealthCheck(ctx domain.Context) (domain.ProviderHealth, error) {
	endpoint := fmt.Sprintf("%s/models?key=%s", c.cfg.BaseURL, url.QueryEscape(c.cfg.APIKey))
	return probeGet(ctx, c.hc, endpoint, nil, c.cfg.Name)
}

var _ domain.ProviderClient = (*GoogleClient)(nil)
