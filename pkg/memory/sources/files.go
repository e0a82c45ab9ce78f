// Package sources loads memory content from markdown files and from the
// lessons, events and SOP tables of a relational database.
package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harun/mnemo/pkg/memory"
)

// MemoryFileID is the source id of the standing memory document
const MemoryFileID = "MEMORY.md"

// DailyLogs reads one source per markdown file in Dir, sorted by name.
// Subdirectories are not visited. Empty files are returned with empty text
// so that their stored records can be retired.
type DailyLogs struct {
	Dir string
}

func (d *DailyLogs) Type() memory.SourceType {
	return memory.SourceDailyLog
}

// Exhaustive reports that every daily log on disk is returned by Load
func (d *DailyLogs) Exhaustive() bool {
	return true
}

func (d *DailyLogs) Load(ctx context.Context) ([]memory.Source, []error, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to list %s: %w", d.Dir, err)
	}

	var out []memory.Source
	var dataErrs []error
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		path := filepath.Join(d.Dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			dataErrs = append(dataErrs, &memory.DataError{SourceType: memory.SourceDailyLog, SourceID: entry.Name(), Err: err})
			continue
		}
		out = append(out, memory.Source{
			Type:     memory.SourceDailyLog,
			ID:       entry.Name(),
			Text:     string(content),
			Metadata: map[string]string{"path": path},
		})
	}

	return out, dataErrs, nil
}

// MemoryFile reads the standing memory document at Path
type MemoryFile struct {
	Path string
}

func (m *MemoryFile) Type() memory.SourceType {
	return memory.SourceMemoryMD
}

func (m *MemoryFile) Exhaustive() bool {
	return true
}

func (m *MemoryFile) Load(ctx context.Context) ([]memory.Source, []error, error) {
	content, err := os.ReadFile(m.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read %s: %w", m.Path, err)
	}
	return []memory.Source{{
		Type:     memory.SourceMemoryMD,
		ID:       MemoryFileID,
		Text:     string(content),
		Metadata: map[string]string{"path": m.Path},
	}}, nil, nil
}
