package orchestrator

import (
	"context"
	"time"
)

// effectiveDeadline derives ctx's deadline as the minimum of whatever
// deadline the caller already attached and providerTimeoutMs. The
// breaker's own TimeoutMs is layered on top separately by breaker.Execute,
// so by the time a provider HTTP call starts it has already inherited
// min(caller deadline, provider.timeoutMs, breaker.timeoutMs).
func effectiveDeadline(ctx context.Context, providerTimeoutMs int) (context.Context, context.CancelFunc) {
	if providerTimeoutMs <= 0 {
		return context.WithCancel(ctx)
	}
	providerDeadline := time.Now().Add(time.Duration(providerTimeoutMs) * time.Millisecond)
	if existing, ok := ctx.Deadline(); ok && existing.Before(providerDeadline) {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, providerDeadline)
}
