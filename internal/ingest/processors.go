package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ragcore/ragcore/internal/chunk"
	"github.com/ragcore/ragcore/internal/store"
)

// chunksFromText runs text through a Chunker (C5) and adapts its output
// into the Processor contract's []ProcessedChunk shape, merging caller
// metadata the way every concrete processor below needs to. A nil
// chunker falls back to fixed-size slicing, matching the degraded
// behavior spec §7 requires when the chunker is unavailable.
func chunksFromText(ctx context.Context, chunker chunk.Chunker, text string, metadata map[string]string) ([]ProcessedChunk, error) {
	if chunker == nil {
		return naiveSplit(text, metadata, 1000), nil
	}
	chunks, err := chunker.Chunk(ctx, text, metadata)
	if err != nil {
		return nil, err
	}
	out := make([]ProcessedChunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, ProcessedChunk{Text: c.Text, Metadata: c.Metadata})
	}
	return out, nil
}

func naiveSplit(text string, metadata map[string]string, size int) []ProcessedChunk {
	if text == "" {
		return nil
	}
	var out []ProcessedChunk
	runes := []rune(text)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		md := mergeMetadata(metadata, nil)
		out = append(out, ProcessedChunk{Text: string(runes[i:end]), Metadata: md})
	}
	return out
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// TextProcessor handles plain-text-shaped files directly: it reads the
// file, does light format sniffing for document-level metadata, and
// delegates the actual splitting to an injected chunk.Chunker. Grounded
// on original_source's TextProcessor.process, generalized to call the
// sophisticated C5 chunker instead of its own naive fixed-size split.
type TextProcessor struct {
	chunker    chunk.Chunker
	extensions map[string]bool
}

// NewTextProcessor returns a TextProcessor for the common plain-text and
// structured-text extensions, backed by chunker.
func NewTextProcessor(chunker chunk.Chunker) *TextProcessor {
	exts := []string{".txt", ".md", ".text", ".log", ".csv", ".json", ".xml", ".yaml", ".yml"}
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[e] = true
	}
	return &TextProcessor{chunker: chunker, extensions: m}
}

func (p *TextProcessor) Name() string { return "text" }

func (p *TextProcessor) CanProcess(path string) bool {
	return p.extensions[strings.ToLower(filepath.Ext(path))]
}

func (p *TextProcessor) Process(ctx context.Context, path string, metadata map[string]string) (*ProcessResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := string(data)
	docMeta := mergeMetadata(metadata, map[string]string{
		"processor":    p.Name(),
		"source_type":  string(store.SourceTypeText),
		"content_type": detectTextContentType(text),
	})
	if strings.TrimSpace(text) == "" {
		return &ProcessResult{Status: StatusSkipped, Metadata: docMeta}, nil
	}
	chunks, err := chunksFromText(ctx, p.chunker, text, docMeta)
	if err != nil {
		return nil, err
	}
	return &ProcessResult{Status: StatusSuccess, Chunks: chunks, Metadata: docMeta}, nil
}

func detectTextContentType(text string) string {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		return "json"
	case strings.HasPrefix(trimmed, "<?xml"):
		return "xml"
	case strings.Contains(trimmed, ",") && strings.Contains(trimmed, "\n"):
		return "csv"
	default:
		return "plain_text"
	}
}

// ExtractorFunc extracts raw text + document metadata from a file whose
// format needs dedicated handling (PDF rendering, OCR, spreadsheet/word
// parsing). Concrete extraction is out of scope per spec §1/§6 ("Out of
// scope: format-specific extractors ... specified only by the chunk
// contract they must produce"); callers inject one per deployment
// (e.g. wired to a PDF rendering library or an OCR service).
type ExtractorFunc func(ctx context.Context, path string) (text string, metadata map[string]string, pages int, err error)

// ExtractorProcessor adapts an injected ExtractorFunc to the Processor
// contract for a source type whose extraction this repo doesn't
// implement directly (pdf, spreadsheet, word, image).
type ExtractorProcessor struct {
	name       string
	sourceType store.SourceType
	extensions map[string]bool
	extract    ExtractorFunc
	chunker    chunk.Chunker
}

// NewExtractorProcessor builds a Processor for the given extensions,
// delegating text extraction to extract and chunking to chunker.
func NewExtractorProcessor(name string, sourceType store.SourceType, extensions []string, extract ExtractorFunc, chunker chunk.Chunker) *ExtractorProcessor {
	m := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		m[strings.ToLower(e)] = true
	}
	return &ExtractorProcessor{name: name, sourceType: sourceType, extensions: m, extract: extract, chunker: chunker}
}

func (p *ExtractorProcessor) Name() string { return p.name }

func (p *ExtractorProcessor) CanProcess(path string) bool {
	return p.extensions[strings.ToLower(filepath.Ext(path))]
}

func (p *ExtractorProcessor) Process(ctx context.Context, path string, metadata map[string]string) (*ProcessResult, error) {
	if p.extract == nil {
		return &ProcessResult{Status: StatusError}, errNoExtractor(p.name)
	}
	text, extracted, pages, err := p.extract(ctx, path)
	if err != nil {
		return nil, err
	}
	docMeta := mergeMetadata(metadata, extracted)
	docMeta = mergeMetadata(docMeta, map[string]string{
		"processor":   p.name,
		"source_type": string(p.sourceType),
	})
	if strings.TrimSpace(text) == "" {
		return &ProcessResult{Status: StatusSkipped, Metadata: docMeta, Pages: pages}, nil
	}
	chunks, err := chunksFromText(ctx, p.chunker, text, docMeta)
	if err != nil {
		return nil, err
	}
	return &ProcessResult{Status: StatusSuccess, Chunks: chunks, Metadata: docMeta, Pages: pages}, nil
}

// Registry selects a Processor by file extension, first match wins, the
// same linear-scan shape as original_source's ProcessorRegistry.
type Registry struct {
	processors []Processor
}

// NewRegistry returns an empty Registry; register processors with Register.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends p to the registry. Order matters: earlier
// registrations take priority when extensions overlap.
func (r *Registry) Register(p Processor) {
	r.processors = append(r.processors, p)
}

// For returns the first registered Processor that can handle path, or
// nil if none can.
func (r *Registry) For(path string) Processor {
	for _, p := range r.processors {
		if p.CanProcess(path) {
			return p
		}
	}
	return nil
}

// List returns the names of registered processors, in priority order.
func (r *Registry) List() []string {
	names := make([]string, len(r.processors))
	for i, p := range r.processors {
		names[i] = p.Name()
	}
	return names
}

// fileMTimeKey returns a stable string representation of a file's
// modification time, used as the second input to documentID.
func fileMTimeKey(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return info.ModTime().UTC().Format(time.RFC3339Nano)
}
