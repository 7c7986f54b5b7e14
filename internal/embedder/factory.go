package embedder

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables controlling provider selection
const (
	EnvProvider  = "CTXFUSE_EMBEDDING_PROVIDER"
	EnvCacheSize = "CTXFUSE_EMBEDDING_CACHE_SIZE"
)

// NewFromEnv constructs an Embedder from environment configuration.
// CTXFUSE_EMBEDDING_PROVIDER selects openai, ollama, or local; unset
// defaults to local so indexing works offline with no credentials.
func NewFromEnv() (Embedder, error) {
	cacheSize := 0
	if v := os.Getenv(EnvCacheSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer: %v", ErrInvalidInput, EnvCacheSize, err)
		}
		cacheSize = n
	}
	cache := NewCache(cacheSize)

	provider := os.Getenv(EnvProvider)
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIProvider("", cache)
	case ProviderOllama:
		return NewOllamaProvider("", cache)
	case ProviderLocal, "":
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNoProviderEnabled, provider)
	}
}
