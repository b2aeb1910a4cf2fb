package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		resp := ModelListResponse{Models: []ModelInfo{
			{Name: "nomic-embed-text:latest", ModifiedAt: time.Now(), Size: 1024},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req EmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		var count int
		switch v := req.Input.(type) {
		case string:
			count = 1
		case []interface{}:
			count = len(v)
		default:
			count = 1
		}

		embeddings := make([][]float64, count)
		for i := range embeddings {
			vec := make([]float64, dims)
			for j := range vec {
				vec[j] = 0.1
			}
			embeddings[i] = vec
		}
		_ = json.NewEncoder(w).Encode(EmbedResponse{Model: req.Model, Embeddings: embeddings})
	})
	return httptest.NewServer(mux)
}

func testHTTPEmbedderConfig(host string) HTTPEmbedderConfig {
	cfg := DefaultHTTPEmbedderConfig()
	cfg.Host = host
	cfg.MaxRetries = 0
	cfg.Timeout = 5 * time.Second
	cfg.ConnectTimeout = 2 * time.Second
	return cfg
}

func TestNewHTTPEmbedder_DiscoversModelAndDimensions(t *testing.T) {
	srv := newTestServer(t, 768)
	defer srv.Close()

	e, err := NewHTTPEmbedder(context.Background(), testHTTPEmbedderConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPEmbedder failed: %v", err)
	}
	defer func() { _ = e.Close() }()

	if e.Dimensions() != 768 {
		t.Errorf("Dimensions() = %d, want 768", e.Dimensions())
	}
	if e.ModelName() == "" {
		t.Error("ModelName() is empty")
	}
}

func TestNewHTTPEmbedder_NoModelAvailable_ReturnsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ModelListResponse{Models: []ModelInfo{{Name: "unrelated-model"}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testHTTPEmbedderConfig(srv.URL)
	cfg.FallbackModels = nil
	_, err := NewHTTPEmbedder(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error when no matching model is available")
	}
}

func TestHTTPEmbedder_Embed_ReturnsNormalizedVector(t *testing.T) {
	srv := newTestServer(t, 8)
	defer srv.Close()

	e, err := NewHTTPEmbedder(context.Background(), testHTTPEmbedderConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPEmbedder failed: %v", err)
	}
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("len(vec) = %d, want 8", len(vec))
	}
	mag := vectorMagnitude(vec)
	if mag < 0.99 || mag > 1.01 {
		t.Errorf("expected normalized vector (magnitude ~1), got %f", mag)
	}
}

func TestHTTPEmbedder_Embed_EmptyText_ReturnsZeroVector(t *testing.T) {
	srv := newTestServer(t, 8)
	defer srv.Close()

	e, err := NewHTTPEmbedder(context.Background(), testHTTPEmbedderConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPEmbedder failed: %v", err)
	}
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatal("expected all-zero vector for blank text")
		}
	}
}

func TestHTTPEmbedder_EmbedBatch_PreservesOrderAndSkipsBlanks(t *testing.T) {
	srv := newTestServer(t, 4)
	defer srv.Close()

	e, err := NewHTTPEmbedder(context.Background(), testHTTPEmbedderConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPEmbedder failed: %v", err)
	}
	defer func() { _ = e.Close() }()

	results, err := e.EmbedBatch(context.Background(), []string{"a", "", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for _, v := range results[1] {
		if v != 0 {
			t.Fatal("expected zero vector for blank entry")
		}
	}
	if vectorMagnitude(results[0]) == 0 || vectorMagnitude(results[2]) == 0 {
		t.Fatal("expected non-zero vectors for non-blank entries")
	}
}

func TestHTTPEmbedder_EmbedBatch_EmptyInput_ReturnsEmptySlice(t *testing.T) {
	srv := newTestServer(t, 4)
	defer srv.Close()

	e, err := NewHTTPEmbedder(context.Background(), testHTTPEmbedderConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPEmbedder failed: %v", err)
	}
	defer func() { _ = e.Close() }()

	results, err := e.EmbedBatch(context.Background(), []string{})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

func TestHTTPEmbedder_EmbedBatch_InvokesAdaptiveBatchSizeHook(t *testing.T) {
	srv := newTestServer(t, 4)
	defer srv.Close()

	cfg := testHTTPEmbedderConfig(srv.URL)
	cfg.AdaptiveBatchingEnabled = true
	called := false
	cfg.OnAdaptiveBatchSize = func(available, perItem int64, fraction float64, size int) {
		called = true
	}

	e, err := NewHTTPEmbedder(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewHTTPEmbedder failed: %v", err)
	}
	defer func() { _ = e.Close() }()

	_, err = e.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if !called {
		t.Error("expected OnAdaptiveBatchSize hook to be invoked")
	}
}

func TestHTTPEmbedder_Available_ReturnsTrueWhenModelPresent(t *testing.T) {
	srv := newTestServer(t, 4)
	defer srv.Close()

	e, err := NewHTTPEmbedder(context.Background(), testHTTPEmbedderConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPEmbedder failed: %v", err)
	}
	defer func() { _ = e.Close() }()

	if !e.Available(context.Background()) {
		t.Error("Available() = false, want true")
	}
}

func TestHTTPEmbedder_Close_MakesSubsequentCallsFail(t *testing.T) {
	srv := newTestServer(t, 4)
	defer srv.Close()

	e, err := NewHTTPEmbedder(context.Background(), testHTTPEmbedderConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPEmbedder failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close should be a no-op: %v", err)
	}

	if _, err := e.Embed(context.Background(), "hi"); err == nil {
		t.Error("expected Embed to fail after Close")
	}
	if e.Available(context.Background()) {
		t.Error("expected Available to return false after Close")
	}
}

func TestHTTPEmbedder_DoEmbed_ContextCancellation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ModelListResponse{Models: []ModelInfo{{Name: "nomic-embed-text"}}})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(EmbedResponse{Embeddings: [][]float64{{0.1}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e, err := NewHTTPEmbedder(context.Background(), testHTTPEmbedderConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPEmbedder failed: %v", err)
	}
	defer func() { _ = e.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := e.Embed(ctx, "slow request"); err == nil {
		t.Error("expected context deadline error")
	}
}
