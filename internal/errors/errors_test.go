package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRagError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	ragErr := New(ErrCodeEmbeddingFailed, "embedding provider unreachable", originalErr)

	require.NotNil(t, ragErr)
	assert.Equal(t, originalErr, errors.Unwrap(ragErr))
	assert.True(t, errors.Is(ragErr, originalErr))
}

func TestRagError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "vector store error",
			code:     ErrCodeDimensionMismatch,
			message:  "embedding dimension does not match index dimension",
			expected: "[ERR_201_DIMENSION_MISMATCH] embedding dimension does not match index dimension",
		},
		{
			name:     "llm error",
			code:     ErrCodeLLMTimeout,
			message:  "generation request timed out",
			expected: "[ERR_401_LLM_TIMEOUT] generation request timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestRagError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeVectorNotFound, "vector A not found", nil)
	err2 := New(ErrCodeVectorNotFound, "vector B not found", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestRagError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeVectorNotFound, "vector not found", nil)
	err2 := New(ErrCodeConfigNotFound, "config not found", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestRagError_WithDetails_AddsContext(t *testing.T) {
	err := New(ErrCodeRecordNotFound, "document not found", nil)

	err = err.WithDetail("doc_id", "doc-42")
	err = err.WithDetail("collection", "documents")

	assert.Equal(t, "doc-42", err.Details["doc_id"])
	assert.Equal(t, "documents", err.Details["collection"])
}

func TestRagError_WithSuggestion_AddsSuggestion(t *testing.T) {
	err := New(ErrCodeLLMTimeout, "generation request timed out", nil)

	err = err.WithSuggestion("increase the LLM timeout or check provider status")

	assert.Equal(t, "increase the LLM timeout or check provider status", err.Suggestion)
}

func TestRagError_WithSeverity_Overrides(t *testing.T) {
	err := New(ErrCodeFetchFailed, "ticket fetch failed", nil)

	err = err.WithSeverity(SeverityFatal)

	assert.Equal(t, SeverityFatal, err.Severity)
}

func TestRagError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigNotFound, CategoryConfiguration},
		{ErrCodeConfigInvalid, CategoryConfiguration},
		{ErrCodeDimensionMismatch, CategoryVectorStore},
		{ErrCodeStoreFull, CategoryVectorStore},
		{ErrCodeEmbeddingFailed, CategoryEmbedding},
		{ErrCodeLLMTimeout, CategoryLLM},
		{ErrCodeChunkingFailed, CategoryChunking},
		{ErrCodeIngestionFailed, CategoryIngestion},
		{ErrCodeRetrievalFailed, CategoryRetrieval},
		{ErrCodeMetadataFailed, CategoryMetadata},
		{ErrCodeIntegrationFailed, CategoryIntegration},
		{ErrCodeAuthFailed, CategoryAuth},
		{ErrCodeAPIFailed, CategoryAPI},
		{ErrCodeInvalidInput, CategoryValidation},
		{ErrCodeOutOfMemory, CategoryResource},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestRagError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeIndexCorrupt, SeverityFatal},
		{ErrCodeDiskFull, SeverityFatal},
		{ErrCodeOutOfMemory, SeverityFatal},
		{ErrCodeRecordNotFound, SeverityError},
		{ErrCodeLLMTimeout, SeverityWarning},
		{ErrCodeEmbeddingRateLimit, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestRagError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeEmbeddingFailed, true},
		{ErrCodeEmbeddingRateLimit, true},
		{ErrCodeLLMTimeout, true},
		{ErrCodeLLMRateLimited, true},
		{ErrCodeFetchFailed, true},
		{ErrCodeWriteDegraded, true},
		{ErrCodeRecordNotFound, false},
		{ErrCodeConfigInvalid, false},
		{ErrCodeIndexCorrupt, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesRagErrorFromError(t *testing.T) {
	originalErr := errors.New("something went wrong")

	ragErr := Wrap(ErrCodeAPIFailed, originalErr)

	require.NotNil(t, ragErr)
	assert.Equal(t, ErrCodeAPIFailed, ragErr.Code)
	assert.Equal(t, "something went wrong", ragErr.Message)
	assert.Equal(t, originalErr, ragErr.Cause)
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeAPIFailed, nil))
}

func TestConfigurationError_CreatesConfigurationCategoryError(t *testing.T) {
	err := ConfigurationError("invalid yaml syntax", nil)

	assert.Equal(t, CategoryConfiguration, err.Category)
}

func TestVectorStoreError_CreatesVectorStoreCategoryError(t *testing.T) {
	err := VectorStoreError("hnsw graph write failed", nil)

	assert.Equal(t, CategoryVectorStore, err.Category)
}

func TestEmbeddingError_CreatesRetryableError(t *testing.T) {
	err := EmbeddingError("embedding provider connection refused", nil)

	assert.Equal(t, CategoryEmbedding, err.Category)
	assert.True(t, err.Retryable)
}

func TestLLMError_CreatesLLMCategoryError(t *testing.T) {
	err := LLMError("generation failed", nil)

	assert.Equal(t, CategoryLLM, err.Category)
}

func TestIngestionError_CreatesIngestionCategoryError(t *testing.T) {
	err := IngestionError("chunk batch embed failed partway through document", nil)

	assert.Equal(t, CategoryIngestion, err.Category)
}

func TestRetrievalError_CreatesRetrievalCategoryError(t *testing.T) {
	err := RetrievalError("no query variants produced usable results", nil)

	assert.Equal(t, CategoryRetrieval, err.Category)
}

func TestMetadataError_CreatesMetadataCategoryError(t *testing.T) {
	err := MetadataError("sqlite write failed", nil)

	assert.Equal(t, CategoryMetadata, err.Category)
}

func TestIntegrationError_CreatesIntegrationCategoryError(t *testing.T) {
	err := IntegrationError("ticket source unreachable", nil)

	assert.Equal(t, CategoryIntegration, err.Category)
}

func TestAuthenticationError_CreatesAuthCategoryError(t *testing.T) {
	err := AuthenticationError("token expired", nil)

	assert.Equal(t, CategoryAuth, err.Category)
}

func TestValidationError_CreatesValidationCategoryError(t *testing.T) {
	err := ValidationError("query cannot be empty", nil)

	assert.Equal(t, CategoryValidation, err.Category)
}

func TestResourceError_CreatesResourceCategoryError(t *testing.T) {
	err := ResourceError("adaptive batch sizing exhausted available memory", nil)

	assert.Equal(t, CategoryResource, err.Category)
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable RagError",
			err:      New(ErrCodeLLMTimeout, "timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable RagError",
			err:      New(ErrCodeRecordNotFound, "not found", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(ErrCodeLLMTimeout, errors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "fatal error",
			err:      New(ErrCodeIndexCorrupt, "index corrupt", nil),
			expected: true,
		},
		{
			name:     "disk full error",
			err:      New(ErrCodeDiskFull, "no space left", nil),
			expected: true,
		},
		{
			name:     "non-fatal error",
			err:      New(ErrCodeRecordNotFound, "not found", nil),
			expected: false,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}

func TestGetCode_ExtractsCode(t *testing.T) {
	err := New(ErrCodeChunkingFailed, "chunker crashed", nil)
	assert.Equal(t, ErrCodeChunkingFailed, GetCode(err))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestGetCategory_ExtractsCategory(t *testing.T) {
	err := New(ErrCodeChunkingFailed, "chunker crashed", nil)
	assert.Equal(t, CategoryChunking, GetCategory(err))
}
