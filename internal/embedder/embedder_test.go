package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider_Deterministic(t *testing.T) {
	provider, err := NewLocalProvider(nil)
	require.NoError(t, err)
	defer func() { _ = provider.Close() }()

	ctx := context.Background()
	a, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func main() {}"})
	require.NoError(t, err)
	b, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func main() {}"})
	require.NoError(t, err)

	assert.Equal(t, a.Vector, b.Vector, "same text must give the same vector")
	assert.Equal(t, LocalDimension, a.Dimension)
	assert.Equal(t, ProviderLocal, a.Provider)

	c, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "different text"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Vector, c.Vector)
}

func TestLocalProvider_EmptyText(t *testing.T) {
	provider, err := NewLocalProvider(nil)
	require.NoError(t, err)

	_, err = provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: ""})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestLocalProvider_Batch(t *testing.T) {
	provider, err := NewLocalProvider(nil)
	require.NoError(t, err)

	resp, err := provider.GenerateBatch(context.Background(), BatchEmbeddingRequest{
		Texts: []string{"one", "two", "three"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)
	assert.Equal(t, ProviderLocal, resp.Provider)
	for _, emb := range resp.Embeddings {
		assert.Len(t, emb.Vector, LocalDimension)
		assert.NotEmpty(t, emb.Hash)
	}
}

func TestCache_DeepCopyOnGet(t *testing.T) {
	cache := NewCache(10)
	original := &Embedding{
		Vector:    []float32{1, 2, 3},
		Dimension: 3,
		Provider:  ProviderLocal,
		Hash:      "abc",
	}
	cache.Set("abc", original)

	got, ok := cache.Get("abc")
	require.True(t, ok)
	got.Vector[0] = 99

	again, ok := cache.Get("abc")
	require.True(t, ok)
	assert.Equal(t, float32(1), again.Vector[0], "caller mutation must not leak into cache")
}

func TestCache_LRUEviction(t *testing.T) {
	cache := NewCache(2)
	cache.Set("a", &Embedding{Hash: "a"})
	cache.Set("b", &Embedding{Hash: "b"})
	cache.Set("c", &Embedding{Hash: "c"})

	_, ok := cache.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	assert.Equal(t, 2, cache.Size())
}

func TestComputeHash(t *testing.T) {
	h1 := ComputeHash("hello")
	h2 := ComputeHash("hello")
	h3 := ComputeHash("world")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestValidateBatchRequest(t *testing.T) {
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: []string{"ok", ""}}), ErrEmptyText)
	assert.NoError(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: []string{"ok"}}))
}

func TestOllamaProvider_CallsServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultOllamaModel, body["model"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": []float32{0.1, 0.2, 0.3},
		})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(server.URL, nil)
	require.NoError(t, err)
	defer func() { _ = provider.Close() }()

	emb, err := provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, emb.Vector)
	assert.Equal(t, 3, emb.Dimension)
	assert.Equal(t, ProviderOllama, emb.Provider)
}

func TestOllamaProvider_RetriesThenFails(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(server.URL, nil)
	require.NoError(t, err)

	_, err = provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "hello"})
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, MaxRetries, calls)
}

func TestOpenAIProvider_CachesBatchResults(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "test-key")

	cache := NewCache(10)
	provider, err := NewOpenAIProvider("", cache)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float32{1, 0}, "index": 0},
			},
			"model": DefaultOpenAIModel,
		})
	}))
	defer server.Close()

	// Point the client at the test server via a rewriting transport.
	provider.httpClient.Transport = rewriteHost(server.URL)

	resp, err := provider.GenerateBatch(context.Background(), BatchEmbeddingRequest{
		Texts: []string{"cached text"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 1)

	cached, ok := cache.Get(ComputeHash("cached text"))
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0}, cached.Vector)

	// A single-text call must now be served from cache without hitting the API.
	server.Close()
	emb, err := provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "cached text"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, emb.Vector)
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	calls := 0
	_, err := retryWithBackoff(ctx, config, func() (int, error) {
		calls++
		return 0, errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancelled context must stop retries after the first attempt")
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := NormalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestNewFromEnv_DefaultsToLocal(t *testing.T) {
	t.Setenv(EnvProvider, "")

	emb, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, emb.Provider())
}

func TestNewFromEnv_UnknownProvider(t *testing.T) {
	t.Setenv(EnvProvider, "bogus")

	_, err := NewFromEnv()
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

// rewriteHost redirects every request to the given base URL, preserving the path.
type rewriteHost string

func (r rewriteHost) RoundTrip(req *http.Request) (*http.Response, error) {
	redirected := req.Clone(req.Context())
	target := string(r) + req.URL.Path
	u, err := redirected.URL.Parse(target)
	if err != nil {
		return nil, err
	}
	redirected.URL = u
	redirected.Host = u.Host
	return http.DefaultTransport.RoundTrip(redirected)
}
