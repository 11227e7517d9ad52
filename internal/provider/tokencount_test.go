package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens_EmptyStringIsZero(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
}

func TestEstimateTokens_NonEmptyStringIsPositive(t *testing.T) {
	assert.Greater(t, EstimateTokens("hello there, how are you today?"), 0)
}

func TestEstimatePromptTokens_AddsFormattingOverhead(t *testing.T) {
	withoutOverhead := EstimateTokens("system") + EstimateTokens("user")
	assert.Equal(t, withoutOverhead+8, EstimatePromptTokens("system", "user"))
}
