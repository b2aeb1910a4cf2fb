package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// contentHash returns a stable digest of a chunk text slice, used both
// as the document's ContentHash (idempotency check) and as an input to
// each chunk's ID, per spec §4.6 step 1/2.
func contentHash(texts []string) string {
	h := sha256.New()
	for _, t := range texts {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// documentID is spec §3's "stable document ID (content hash of
// path+modification time)": deterministic so re-ingesting an unchanged
// file resolves to the same ID, but distinct across truly different
// sources or a file's own mtime bumps.
func documentID(source, mtimeKey string) string {
	h := sha256.Sum256([]byte(source + "|" + mtimeKey))
	return "doc_" + hex.EncodeToString(h[:])[:32]
}

// chunkID is spec §4.6 step 2: "hash(doc_id, chunk_index, text-hash)".
func chunkID(docID string, index int, text string) string {
	th := sha256.Sum256([]byte(text))
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", docID, index, hex.EncodeToString(th[:]))))
	return "chunk_" + hex.EncodeToString(h[:])[:32]
}
