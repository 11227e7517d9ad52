package provider

import (
	"log/slog"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

var tokenizerOnce sync.Once

func init() {
	tokenizerOnce.Do(func() {
		// Offline BPE loader: avoids a network fetch for encoding tables,
		// which would otherwise happen on first use in a sandboxed runtime.
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
}

// EstimateTokens counts text using the cl100k_base BPE encoding, falling
// back to a char/4 heuristic when the encoder can't be constructed.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, falling back to heuristic", "error", err)
		return len(text)/4 + 1
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimatePromptTokens adds the small per-message formatting overhead chat
// APIs charge on top of the raw text tokens.
func EstimatePromptTokens(systemPrompt, userPrompt string) int {
	return EstimateTokens(systemPrompt) + EstimateTokens(userPrompt) + 8
}
