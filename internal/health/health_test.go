package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiorchestrator/orchestrator/internal/clock"
	"github.com/aiorchestrator/orchestrator/internal/domain"
)

type fakeProvider struct {
	name    string
	latency time.Duration
	err     error
}

func (f *fakeProvider) Initialize() error { return nil }
func (f *fakeProvider) Generate(ctx domain.Context, prompt string, options domain.RequestOptions) (domain.Response, error) {
	return domain.Response{}, nil
}
func (f *fakeProvider) HealthCheck(ctx domain.Context) (domain.ProviderHealth, error) {
	if f.err != nil {
		return domain.ProviderHealth{}, f.err
	}
	time.Sleep(f.latency)
	return domain.ProviderHealth{Provider: f.name}, nil
}
func (f *fakeProvider) GetModelConfig(name string) (domain.ModelConfig, bool) { return domain.ModelConfig{}, false }
func (f *fakeProvider) GetName() string                                      { return f.name }
func (f *fakeProvider) GetDefaultModel() string                              { return "default" }
func (f *fakeProvider) GetConfig() domain.ProviderConfig                     { return domain.ProviderConfig{Name: f.name} }

func TestMonitor_ProbeAllClassifiesHealth(t *testing.T) {
	providers := map[string]domain.ProviderClient{
		"fast":   &fakeProvider{name: "fast", latency: time.Millisecond},
		"broken": &fakeProvider{name: "broken", err: errors.New("down")},
	}
	m := NewMonitor(providers, clock.Real{}, nil)
	m.probeAll(context.Background())

	fast, ok := m.Get("fast")
	require.True(t, ok)
	assert.Equal(t, domain.HealthHealthy, fast.Status)

	broken, ok := m.Get("broken")
	require.True(t, ok)
	assert.Equal(t, domain.HealthUnhealthy, broken.Status)
	assert.Equal(t, "down", broken.FailureReason)
}

func TestMonitor_Healthy(t *testing.T) {
	providers := map[string]domain.ProviderClient{
		"a": &fakeProvider{name: "a"},
		"b": &fakeProvider{name: "b", err: errors.New("down")},
	}
	m := NewMonitor(providers, clock.Real{}, nil)
	m.probeAll(context.Background())

	assert.ElementsMatch(t, []string{"a"}, m.Healthy())
}

func TestMonitor_StartAndStop(t *testing.T) {
	providers := map[string]domain.ProviderClient{
		"a": &fakeProvider{name: "a"},
	}
	m := NewMonitor(providers, clock.Real{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	_, ok := m.Get("a")
	assert.True(t, ok)
	m.Stop()
}
