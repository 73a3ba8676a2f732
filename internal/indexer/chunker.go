// Package indexer turns policy files and uploads into stored documents and
// splits document text into retrieval chunks.
package indexer

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kakunin/internal/models"
)

// Chunker splits text into overlapping word-based chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 120
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// ChunkID returns the stable id of the index-th chunk of a document.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s#%04d", docID, index)
}

// Chunk splits text into chunks with overlapping windows. The same document
// text always produces the same chunk ids and texts.
func (c *Chunker) Chunk(docID, text string) []*models.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	chunks := make([]*models.Chunk, 0, len(words)/c.chunkSize+1)
	step := c.chunkSize - c.chunkOverlap
	for i := 0; i < len(words); i += step {
		end := i + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		index := len(chunks)
		chunks = append(chunks, &models.Chunk{
			ID:               ChunkID(docID, index),
			SourceDocumentID: docID,
			Index:            index,
			Text:             strings.Join(words[i:end], " "),
		})
		if end >= len(words) {
			break
		}
	}
	return chunks
}
