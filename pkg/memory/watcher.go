package memory

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDebounce is the quiet period before a change batch is reported
const DefaultWatchDebounce = 500 * time.Millisecond

// FileWatcher watches memory files and reports debounced change batches
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	onChange func()
	debounce time.Duration
	files    map[string]struct{}
	dirs     map[string]struct{}

	mu      sync.Mutex
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher(logger zerolog.Logger, debounce time.Duration, onChange func()) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	fw := &FileWatcher{
		watcher:  watcher,
		logger:   logger,
		onChange: onChange,
		debounce: debounce,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}

	go fw.run()

	return fw, nil
}

// Watch starts watching a directory, or the parent directory of a single
// file so that editors replacing the file are still observed.
func (fw *FileWatcher) Watch(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		fw.mu.Lock()
		fw.dirs[filepath.Clean(path)] = struct{}{}
		fw.mu.Unlock()
		return fw.watcher.Add(path)
	}

	fw.mu.Lock()
	fw.files[filepath.Clean(path)] = struct{}{}
	fw.mu.Unlock()
	return fw.watcher.Add(filepath.Dir(path))
}

// Stop stops the file watcher
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	fw.stopped = true
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.mu.Unlock()

	close(fw.stopCh)
	return fw.watcher.Close()
}

// run processes file system events
func (fw *FileWatcher) run() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if !fw.relevant(event.Name) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				fw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("File change detected")

				fw.scheduleChange()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error().Err(err).Msg("File watcher error")

		case <-fw.stopCh:
			return
		}
	}
}

// relevant keeps markdown files inside watched directories and the
// individually watched files
func (fw *FileWatcher) relevant(name string) bool {
	if !strings.HasSuffix(strings.ToLower(name), ".md") {
		return false
	}

	name = filepath.Clean(name)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, ok := fw.files[name]; ok {
		return true
	}
	_, ok := fw.dirs[filepath.Dir(name)]
	return ok
}

// scheduleChange debounces change notifications
func (fw *FileWatcher) scheduleChange() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.stopped {
		return
	}
	if fw.timer != nil {
		fw.timer.Stop()
	}

	fw.timer = time.AfterFunc(fw.debounce, func() {
		fw.logger.Debug().Msg("Memory files changed")
		fw.onChange()
	})
}
