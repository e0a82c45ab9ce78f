package memory

import (
	"fmt"
	"strings"
)

const (
	// DefaultChunkWindow is the window size in characters
	DefaultChunkWindow = 1000
	// DefaultChunkOverlap is the number of characters shared by adjacent windows
	DefaultChunkOverlap = 200
)

// Chunker splits text into overlapping, bounded windows
type Chunker struct {
	window  int
	overlap int
}

// NewChunker creates a chunker. The overlap must satisfy 0 <= overlap < window.
func NewChunker(window, overlap int) (*Chunker, error) {
	if window <= 0 || overlap < 0 || overlap >= window {
		return nil, &ConfigurationError{
			Op:  "chunker",
			Err: fmt.Errorf("%w: window=%d overlap=%d", ErrInvalidChunking, window, overlap),
		}
	}
	return &Chunker{window: window, overlap: overlap}, nil
}

// Window returns the window size
func (c *Chunker) Window() int {
	return c.window
}

// Overlap returns the overlap size
func (c *Chunker) Overlap() int {
	return c.overlap
}

// Split slices text into windows of c.window runes starting every
// c.window-c.overlap runes. Each window is trimmed and dropped when empty.
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	step := c.window - c.overlap

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := min(start+c.window, len(runes))

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece == "" {
			continue
		}

		chunks = append(chunks, Chunk{
			Ordinal: len(chunks),
			Text:    piece,
			Start:   start,
			End:     end,
		})
	}

	return chunks
}

// Units returns the embedding units for a source. Chunked types produce
// one unit per window with ids "<source_id>:chunk<i>"; records produce a
// single unit whose id is the source id.
func (c *Chunker) Units(src Source) []Chunk {
	if !src.Type.Chunked() {
		text := strings.TrimSpace(src.Text)
		if text == "" {
			return nil
		}
		return []Chunk{{
			SourceType: src.Type,
			SourceID:   src.ID,
			ChunkID:    src.ID,
			Text:       text,
			Start:      0,
			End:        len([]rune(src.Text)),
		}}
	}

	chunks := c.Split(src.Text)
	for i := range chunks {
		chunks[i].SourceType = src.Type
		chunks[i].SourceID = src.ID
		chunks[i].ChunkID = fmt.Sprintf("%s:chunk%d", src.ID, chunks[i].Ordinal)
	}
	return chunks
}
