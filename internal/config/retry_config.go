package config

import "time"

// RetryConfig drives the exponential-backoff retry loop a provider client
// wraps around a single upstream call.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	Jitter       bool
}

// GetRetryConfig derives the provider retry policy from the loaded config.
func (c Config) GetRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   c.ProviderMaxRetries,
		InitialDelay: c.ProviderRetryDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}
}
