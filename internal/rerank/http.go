package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	ragerrors "github.com/ragcore/ragcore/internal/errors"
)

const (
	DefaultEndpoint = "http://localhost:9659"
	DefaultModel    = "reranker-small"
	DefaultTimeout  = 30 * time.Second
)

// HTTPConfig configures the cross-encoder HTTP provider.
type HTTPConfig struct {
	Endpoint  string
	Model     string
	Timeout   time.Duration
	BatchSize int
}

func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Endpoint:  DefaultEndpoint,
		Model:     DefaultModel,
		Timeout:   DefaultTimeout,
		BatchSize: DefaultBatchSize,
	}
}

// HTTPReranker calls a remote cross-encoder endpoint, batching
// (query, text) pairs to bound memory per spec §4.7.
type HTTPReranker struct {
	client *http.Client
	cfg    HTTPConfig
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

type rerankRequest struct {
	Model string   `json:"model"`
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResponseItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type rerankResponse struct {
	Results []rerankResponseItem `json:"results"`
}

// NewHTTPReranker builds an HTTPReranker with defaults applied.
func NewHTTPReranker(cfg HTTPConfig, logger *slog.Logger) *HTTPReranker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPReranker{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Result, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ragerrors.New(ragerrors.ErrCodeRetrievalFailed, "reranker closed", nil)
	}

	results := make([]Result, 0, len(candidates))
	for start := 0; start < len(candidates); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		scores, err := r.scoreBatch(ctx, query, batch)
		if err != nil {
			return nil, err
		}
		for i, c := range batch {
			results = append(results, Result{
				ChunkID:       c.ChunkID,
				Text:          c.Text,
				OriginalScore: c.OriginalScore,
				RerankScore:   scores[i],
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RerankScore > results[j].RerankScore
	})
	r.logger.Debug("rerank_batch_complete", slog.Int("candidates", len(candidates)))
	return results, nil
}

func (r *HTTPReranker) scoreBatch(ctx context.Context, query string, batch []Candidate) ([]float64, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	body, err := json.Marshal(rerankRequest{Model: r.cfg.Model, Query: query, Texts: texts})
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeRetrievalFailed, "failed to encode rerank request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeRetrievalFailed, "failed to build rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeRetrievalFailed, "rerank request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeRetrievalFailed, "failed to read rerank response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ragerrors.New(ragerrors.ErrCodeRetrievalFailed, fmt.Sprintf("rerank endpoint returned %d", resp.StatusCode), nil)
	}

	var parsed rerankResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeRetrievalFailed, "failed to parse rerank response", err)
	}

	scores := make([]float64, len(batch))
	for _, item := range parsed.Results {
		if item.Index >= 0 && item.Index < len(scores) {
			scores[item.Index] = item.Score
		}
	}
	return scores, nil
}

func (r *HTTPReranker) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
