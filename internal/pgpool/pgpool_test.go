package pgpool_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aiorchestrator/orchestrator/internal/pgpool"
)

func TestNew_InvalidDSNReturnsError(t *testing.T) {
	_, err := pgpool.New(context.Background(), "://bad")
	assert.Error(t, err)
}

func TestNew_EmptyDSNDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		_, _ = pgpool.New(context.Background(), "")
	})
}
