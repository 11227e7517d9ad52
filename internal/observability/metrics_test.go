package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/aiorchestrator/orchestrator/internal/config"
)

func TestMustRegisterAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() { MustRegisterAll(reg) })

	AIRequestsTotal.WithLabelValues("openai", "success").Inc()
	mfs, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestSetupLogger_DevVsProd(t *testing.T) {
	devLogger := SetupLogger(config.Config{AppEnv: "dev", OTELServiceName: "svc"})
	prodLogger := SetupLogger(config.Config{AppEnv: "prod", OTELServiceName: "svc"})
	assert.NotNil(t, devLogger)
	assert.NotNil(t, prodLogger)
}
