package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SourceType identifies the origin of indexed memory content
type SourceType string

const (
	SourceDailyLog  SourceType = "daily_log"
	SourceMemoryMD  SourceType = "memory_md"
	SourceLesson    SourceType = "lesson"
	SourceEvent     SourceType = "event"
	SourceProcedure SourceType = "sop"
)

// SourceAll selects every source type on the command surface
const SourceAll = "all"

// AllSourceTypes returns every source type in indexing order
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceDailyLog,
		SourceMemoryMD,
		SourceLesson,
		SourceEvent,
		SourceProcedure,
	}
}

// ParseSourceTypes resolves a filter value into the source types it selects
func ParseSourceTypes(filter string) ([]SourceType, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" || filter == SourceAll {
		return AllSourceTypes(), nil
	}

	t := SourceType(filter)
	if !t.IsValid() {
		return nil, &ConfigurationError{
			Op:  "source filter",
			Err: fmt.Errorf("unknown source type %q (must be one of: %s)", filter, strings.Join(sourceTypeNames(), ", ")),
		}
	}
	return []SourceType{t}, nil
}

func sourceTypeNames() []string {
	names := make([]string, 0, 6)
	for _, t := range AllSourceTypes() {
		names = append(names, string(t))
	}
	return append(names, SourceAll)
}

// IsValid reports whether t is a known source type
func (t SourceType) IsValid() bool {
	switch t {
	case SourceDailyLog, SourceMemoryMD, SourceLesson, SourceEvent, SourceProcedure:
		return true
	}
	return false
}

func (t SourceType) String() string {
	return string(t)
}

// Chunked reports whether sources of this type are split into windows.
// Structured records are embedded as a single unit.
func (t SourceType) Chunked() bool {
	return t == SourceDailyLog || t == SourceMemoryMD
}

// WholeDocument reports whether a source of this type is one logical blob
// whose records are replaced together on reindex.
func (t SourceType) WholeDocument() bool {
	return t == SourceMemoryMD || t == SourceProcedure
}

// Label returns the human readable name used in progress output
func (t SourceType) Label() string {
	switch t {
	case SourceDailyLog:
		return "daily logs"
	case SourceMemoryMD:
		return "MEMORY.md"
	case SourceLesson:
		return "lessons"
	case SourceEvent:
		return "events"
	case SourceProcedure:
		return "SOPs"
	}
	return string(t)
}

// Source is one logical origin of memory content, ready for indexing
type Source struct {
	Type     SourceType
	ID       string
	Text     string
	Metadata map[string]string
}

// Chunk is a bounded slice of a source, recreated on every indexing run
type Chunk struct {
	SourceType SourceType
	SourceID   string
	ChunkID    string
	Ordinal    int
	Text       string
	// Start and End are rune offsets of the untrimmed window
	Start int
	End   int
}

// Hash returns the content hash used to detect changed chunks
func (c Chunk) Hash() string {
	return ContentHash(c.Text)
}

// ContentHash returns the hex encoded sha256 of text
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Record is a persisted embedding row
type Record struct {
	SourceType  SourceType
	SourceID    string
	ChunkID     string
	Content     string
	ContentHash string
	Vector      []float32
}

// Neighbor is a raw nearest-neighbor hit as returned by a vector store
type Neighbor struct {
	SourceType SourceType
	SourceID   string
	ChunkID    string
	Content    string
	Distance   float64
}

// SimilarityResult is a ranked retrieval hit
type SimilarityResult struct {
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	ChunkID    string     `json:"chunk_id"`
	Content    string     `json:"content"`
	Similarity float64    `json:"similarity"`
}

// DisplayID returns the identifier shown to users, the chunk id when present
func (r SimilarityResult) DisplayID() string {
	if r.ChunkID != "" {
		return r.ChunkID
	}
	return r.SourceID
}

// IdentityKey returns the lock key for a source identity
func IdentityKey(sourceType SourceType, sourceID string) string {
	return string(sourceType) + "/" + sourceID
}
