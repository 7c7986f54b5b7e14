package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rjmcleod/ctxfuse/pkg/types"
	"go.uber.org/zap"
)

// RemoteProvider queries a hosted search API over HTTP. Results carry the
// repository name and commit they were indexed at and map to the unified
// source.
type RemoteProvider struct {
	baseURL    string
	token      string
	repos      []string
	limit      int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRemoteProvider creates a remote provider. repos scopes the search to
// the given repository names; empty means the server default.
func NewRemoteProvider(baseURL, token string, repos []string, logger *zap.Logger) *RemoteProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteProvider{
		baseURL:    baseURL,
		token:      token,
		repos:      repos,
		limit:      DefaultLimit,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (r *RemoteProvider) Name() string { return "remote" }

type remoteSearchRequest struct {
	Query string   `json:"query"`
	Repos []string `json:"repos,omitempty"`
	Limit int      `json:"limit"`
}

type remoteSearchResult struct {
	Content   string `json:"content"`
	URI       string `json:"uri"`
	Path      string `json:"path"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	RepoName  string `json:"repoName"`
	Commit    string `json:"commit"`
}

type remoteSearchResponse struct {
	Results []remoteSearchResult `json:"results"`
}

func (r *RemoteProvider) Query(ctx context.Context, text string) ([]types.ContextItem, error) {
	body, err := json.Marshal(remoteSearchRequest{
		Query: text,
		Repos: r.repos,
		Limit: r.limit,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/.api/search/context", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote search: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("remote search %d: %s", resp.StatusCode, string(snippet))
	}

	var decoded remoteSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]types.ContextItem, 0, len(decoded.Results))
	for _, res := range decoded.Results {
		items = append(items, types.ContextItem{
			Text:      res.Content,
			URI:       res.URI,
			Path:      res.Path,
			StartLine: res.StartLine,
			EndLine:   res.EndLine,
			Source:    types.SourceUnified,
			RepoName:  res.RepoName,
			Revision:  res.Commit,
		})
	}
	return items, nil
}

// IndexStatus is always ready for the remote provider; the server owns its
// own index lifecycle
func (r *RemoteProvider) IndexStatus(ctx context.Context, rootPath string) Status {
	return StatusReady
}

func (r *RemoteProvider) EnsureIndex(rootPath string, hard bool) {}
