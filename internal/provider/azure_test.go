package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

func azureProviderConfig(baseURL string) domain.ProviderConfig {
	return domain.ProviderConfig{
		Name:         "azure-openai",
		APIKey:       "test-key",
		BaseURL:      baseURL,
		DefaultModel: "gpt-4-deployment",
		TimeoutMs:    2000,
		Models: map[string]domain.ModelConfig{
			"gpt-4-deployment": {MaxTokens: 4096, ContextWindow: 8192, InputCostPerToken: 0.00003, OutputCostPerToken: 0.00006},
		},
	}
}

func TestAzureClient_GenerateUsesDeploymentURLAndAPIKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-4-deployment/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-02-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"azure says hi"}}],"usage":{"prompt_tokens":2,"completion_tokens":3}}`))
	}))
	defer srv.Close()

	c := NewAzureClient(azureProviderConfig(srv.URL), testRetryConfig(), "")
	resp, err := c.Generate(context.Background(), "hi", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "azure says hi", resp.Content)
	assert.Equal(t, "azure-openai", resp.Provider)
}

func TestAzureClient_InitializeRequiresAPIKey(t *testing.T) {
	cfg := azureProviderConfig("http://example.com")
	cfg.APIKey = ""
	c := NewAzureClient(cfg, testRetryConfig(), "")
	assert.Error(t, c.Initialize())
}
