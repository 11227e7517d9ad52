// Package provider implements the vendor adapters (C3) behind
// domain.ProviderClient: OpenAI-compatible, Anthropic, Google, and
// Azure-OpenAI wire formats, sharing one HTTP/backoff/otelhttp harness and
// one error-classification scheme.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aiorchestrator/orchestrator/internal/config"
	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// newHTTPClient builds the shared client every vendor adapter uses: a
// per-provider timeout and an otelhttp transport so outbound calls show up
// as spans named after the provider.
func newHTTPClient(providerName string, timeout time.Duration) *http.Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("ai.%s %s", providerName, r.Method)
		}),
	)
	return &http.Client{Timeout: timeout, Transport: transport}
}

// classifyStatus maps an HTTP status code to the error taxonomy used for
// retry/breaker/fallback routing across every vendor adapter.
func classifyStatus(status int) domain.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.ErrKindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrKindAuth
	case status >= 400 && status < 500:
		return domain.ErrKindBadRequest
	case status >= 500:
		return domain.ErrKindServer
	default:
		return domain.ErrKindUnknown
	}
}

// newBackoff builds an exponential backoff policy from a provider's retry
// config; jitter is handled by cenkalti/backoff's RandomizationFactor.
func newBackoff(rc config.RetryConfig) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = rc.InitialDelay
	expo.Multiplier = rc.Multiplier
	if !rc.Jitter {
		expo.RandomizationFactor = 0
	}
	expo.MaxElapsedTime = 0 // bounded by WithMaxRetries instead, not wall-clock
	return backoff.WithMaxRetries(expo, uint64(rc.MaxRetries))
}

// callResult is what a single HTTP attempt produces before classification.
type callResult struct {
	status int
	body   []byte
}

// doRequest performs req, reads the full response body (bounded by the
// caller's context), and classifies non-2xx responses into a
// *domain.ProviderError. Retryable kinds are wrapped so backoff.Retry keeps
// retrying; non-retryable kinds are wrapped in backoff.Permanent.
func doRequest(hc *http.Client, req *http.Request, providerName string) (callResult, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return callResult{}, &domain.ProviderError{
			Kind: domain.ErrKindTimeout, Provider: providerName,
			Message: "request failed", Err: err,
		}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		return callResult{}, &domain.ProviderError{
			Kind: domain.ErrKindTransient, Provider: providerName,
			Message: "reading response body", Err: readErr,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := classifyStatus(resp.StatusCode)
		perr := &domain.ProviderError{
			Kind:     kind,
			Provider: providerName,
			Message:  fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body, 256)),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			perr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		if !kind.Retryable() {
			return callResult{}, backoff.Permanent(perr)
		}
		return callResult{}, perr
	}

	return callResult{status: resp.StatusCode, body: body}, nil
}

// callWithRetry runs buildReq (called fresh on every attempt, since request
// bodies can't be replayed once read) through the HTTP client with
// exponential backoff, stopping early on non-retryable errors.
func callWithRetry(ctx context.Context, hc *http.Client, rc config.RetryConfig, providerName string, buildReq func() (*http.Request, error)) (callResult, error) {
	var result callResult
	op := func() error {
		req, err := buildReq()
		if err != nil {
			return backoff.Permanent(err)
		}
		req = req.WithContext(ctx)
		res, err := doRequest(hc, req, providerName)
		if err != nil {
			return honorRetryAfter(ctx, err)
		}
		result = res
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(newBackoff(rc), ctx)); err != nil {
		var perr *domain.ProviderError
		if pe, ok := err.(*domain.ProviderError); ok {
			perr = pe
		} else {
			perr = &domain.ProviderError{Kind: domain.ErrKindUnknown, Provider: providerName, Message: "retry exhausted", Err: err}
		}
		return callResult{}, perr
	}
	return result, nil
}

func jsonBody(v any) (*bytes.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return 0
}

// honorRetryAfter implements the ProviderRateLimited policy: a 429 with a
// server-provided Retry-After is worth waiting out only if it still fits
// inside the caller's remaining deadline; otherwise retrying at all would
// just burn the deadline, so fail permanently and let the orchestrator
// fail over to another provider instead.
func honorRetryAfter(ctx context.Context, err error) error {
	perr, ok := err.(*domain.ProviderError)
	if !ok || perr.Kind != domain.ErrKindRateLimited || perr.RetryAfter <= 0 {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); perr.RetryAfter > remaining {
			return backoff.Permanent(perr)
		}
	}

	timer := time.NewTimer(perr.RetryAfter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return err
	case <-ctx.Done():
		return backoff.Permanent(perr)
	}
}

