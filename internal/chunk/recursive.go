package chunk

import (
	"context"
	"log/slog"
	"strings"
	"time"

	ragerrors "github.com/ragcore/ragcore/internal/errors"
	"github.com/ragcore/ragcore/internal/telemetry"
)

// recursiveSeparators is the fixed priority list from spec §4.5. Note
// that CleanText collapses all whitespace first, so in practice only
// " " and "" ever match — this mirrors the original chunker exactly,
// which cleans before splitting with the same separator list.
var recursiveSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveChunker is the default size-based strategy: clean, then
// split on a separator priority list, accumulating segments up to the
// target size and overlapping the next chunk with the smart-overlap
// tail of the previous one.
type RecursiveChunker struct {
	cfg    Config
	logger *slog.Logger
	effLog *telemetry.EffectiveValueLogger
}

var _ Chunker = (*RecursiveChunker)(nil)

// NewRecursiveChunker builds a RecursiveChunker. A nil logger disables
// effective-value logging.
func NewRecursiveChunker(cfg Config, logger *slog.Logger) *RecursiveChunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecursiveChunker{cfg: cfg, logger: logger}
}

func (c *RecursiveChunker) Name() Method { return MethodRecursive }

// SetEffectiveValueLogger attaches the logger that records Smart
// Overlap's chosen overlap per chunk. A nil logger (the default)
// disables this tracking.
func (c *RecursiveChunker) SetEffectiveValueLogger(l *telemetry.EffectiveValueLogger) {
	c.effLog = l
}

// Chunk implements Chunker.
func (c *RecursiveChunker) Chunk(ctx context.Context, text string, metadata map[string]string) ([]*Chunk, error) {
	cleaned := CleanText(text)
	if cleaned == "" {
		return nil, nil
	}

	segments := splitRecursive(cleaned, c.cfg.ChunkSize, recursiveSeparators)

	chunks := make([]*Chunk, 0, len(segments))
	now := time.Now()
	var prevTail string

	for i, seg := range segments {
		select {
		case <-ctx.Done():
			return nil, ragerrors.New(ragerrors.ErrCodeChunkingFailed, "chunking cancelled", ctx.Err())
		default:
		}

		body := seg
		if i > 0 && prevTail != "" {
			body = prevTail + seg
		}

		overlap, contentType := SmartOverlap(body, c.cfg.ChunkSize, c.cfg.BaseOverlap)
		c.logger.Debug("chunk_overlap_computed",
			slog.Int("chunk_index", i),
			slog.String("content_type", string(contentType)),
			slog.Int("overlap", overlap))
		if c.effLog != nil {
			c.effLog.SmartOverlap(overlapLogID(metadata), c.cfg.BaseOverlap, overlap, string(contentType))
		}

		prevTail = tailString(body, overlap)

		text := strings.TrimSpace(body)
		chunks = append(chunks, &Chunk{
			Text:        text,
			Index:       i,
			Size:        len(text),
			Method:      MethodRecursive,
			ContentType: contentType,
			Metadata:    cloneMetadata(metadata),
			CreatedAt:   now,
		})
	}

	total := len(chunks)
	for _, ch := range chunks {
		ch.TotalChunks = total
	}
	return chunks, nil
}

// splitRecursive implements the core recursive-character-splitter
// behaviour: try the highest-priority separator that actually divides
// the text into pieces small enough to accumulate toward chunkSize,
// falling back to the next separator (eventually "" = per-rune) when
// none of the earlier ones help.
func splitRecursive(text string, chunkSize int, separators []string) []string {
	if len(text) <= chunkSize {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	sep := separators[0]
	rest := separators
	if len(separators) > 1 {
		rest = separators[1:]
	}

	var pieces []string
	if sep == "" {
		// Last resort: fixed-size slicing by rune.
		runes := []rune(text)
		for i := 0; i < len(runes); i += chunkSize {
			end := i + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			pieces = append(pieces, string(runes[i:end]))
		}
		return pieces
	}

	pieces = strings.Split(text, sep)
	if len(pieces) <= 1 {
		// Separator not present; try the next one down the list.
		if len(separators) > 1 {
			return splitRecursive(text, chunkSize, rest)
		}
		return []string{text}
	}

	// Accumulate pieces into chunks of up to chunkSize, re-splitting any
	// individual piece that is itself oversized using the next separator.
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}

	for _, p := range pieces {
		candidate := p
		if len(p) > chunkSize {
			sub := splitRecursive(p, chunkSize, rest)
			for _, s := range sub {
				if cur.Len()+len(s)+len(sep) > chunkSize && cur.Len() > 0 {
					flush()
				}
				if cur.Len() > 0 {
					cur.WriteString(sep)
				}
				cur.WriteString(s)
			}
			continue
		}

		if cur.Len()+len(candidate)+len(sep) > chunkSize && cur.Len() > 0 {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(candidate)
	}
	flush()

	return out
}

func tailString(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	if len(s) <= n {
		return s
	}
	tail := s[len(s)-n:]
	// Prefer breaking at a word boundary, matching _get_overlap_text.
	if idx := strings.IndexByte(tail, ' '); idx > 0 {
		return tail[idx:]
	}
	return tail
}

// overlapLogID picks a best-effort identifier for SmartOverlap's
// effective-value log line out of whatever the caller's metadata
// carries; the chunker runs before a stable document ID is assigned,
// so this is for log correlation only, not identity.
func overlapLogID(metadata map[string]string) string {
	if id, ok := metadata["source"]; ok && id != "" {
		return id
	}
	if id, ok := metadata["document_id"]; ok && id != "" {
		return id
	}
	return "unknown"
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
