package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aiorchestrator/orchestrator/internal/config"
	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// AzureClient implements domain.ProviderClient over Azure OpenAI's chat
// completions wire format: body identical to OpenAI minus the model field,
// since the deployment name in the URL already selects the model.
//
// cfg.DefaultModel is reused as the Azure deployment name, and cfg.BaseURL
// is the resource endpoint (e.g. https://{resource}.openai.azure.com).
type AzureClient struct {
	cfg        domain.ProviderConfig
	rc         config.RetryConfig
	hc         *http.Client
	apiVersion string
}

// NewAzureClient constructs an adapter for cfg. apiVersion defaults to
// "2024-02-01" when empty.
func NewAzureClient(cfg domain.ProviderConfig, rc config.RetryConfig, apiVersion string) *AzureClient {
	if apiVersion == "" {
		apiVersion = "2024-02-01"
	}
	return &AzureClient{
		cfg:        cfg,
		rc:         rc,
		hc:         newHTTPClient(cfg.Name, time.Duration(cfg.TimeoutMs)*time.Millisecond),
		apiVersion: apiVersion,
	}
}

func (c *AzureClient) Initialize() error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("%s: missing API key", c.cfg.Name)
	}
	return nil
}

func (c *AzureClient) GetName() string                 { return c.cfg.Name }
func (c *AzureClient) GetDefaultModel() string          { return c.cfg.DefaultModel }
func (c *AzureClient) GetConfig() domain.ProviderConfig { return c.cfg }
func (c *AzureClient) GetModelConfig(name string) (domain.ModelConfig, bool) {
	return c.cfg.ModelConfigFor(name)
}

type azureChatRequest struct {
	Messages         []openAIChatMessage `json:"messages"`
	Temperature      *float64            `json:"temperature,omitempty"`
	MaxTokens        *int                `json:"max_tokens,omitempty"`
	TopP             *float64            `json:"top_p,omitempty"`
	FrequencyPenalty *float64            `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64            `json:"presence_penalty,omitempty"`
	Stop             []string            `json:"stop,omitempty"`
}

func (c *AzureClient) deploymentEndpoint(deployment string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", c.cfg.BaseURL, deployment, c.apiVersion)
}

func (c *AzureClient) Generate(ctx domain.Context, prompt string, options domain.RequestOptions) (domain.Response, error) {
	deployment := options.Model
	if deployment == "" {
		deployment = c.cfg.DefaultModel
	}
	mc, _ := c.cfg.ModelConfigFor(deployment)

	reqBody := azureChatRequest{
		Messages:         []openAIChatMessage{{Role: "user", Content: prompt}},
		Temperature:      options.Temperature,
		MaxTokens:        intPtrOr(options.MaxTokens, mc.MaxTokens),
		TopP:             options.TopP,
		FrequencyPenalty: options.FrequencyPenalty,
		PresencePenalty:  options.PresencePenalty,
		Stop:             options.StopSequences,
	}

	endpoint := c.deploymentEndpoint(deployment)
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
		req.Header.Set("api-key", c.cfg.APIKey)
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
		Model:     deployment,
		Provider:  c.cfg.Name,
		Tokens:    domain.TokenUsage{Prompt: promptTokens, Completion: completionTokens, Total: promptTokens + completionTokens},
		Cost:      costFor(mc, promptTokens, completionTokens),
		RequestID: options.RequestID,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"finish_reason": parsed.Choices[0].FinishReason},
	}, nil
}

func (c *AzureClient) HealthCheck(ctx domain.Context) (domain.ProviderHealth, error) {
	endpoint := fmt.Sprintf("%s/openai/deployments?api-version=%s", c.cfg.BaseURL, c.apiVersion)
	return probeGet(ctx, c.hc, endpoint, map[string]string{"api-key": c.cfg.APIKey}, c.cfg.Name)
}

var _ domain.ProviderClient = (*AzureClient)(nil)
