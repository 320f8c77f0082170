package summarize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// PromptTemplate holds the summary prompt read from disk and reloads it when
// the file changes, so prompt tuning does not require a restart.
type PromptTemplate struct {
	path    string
	log     zerolog.Logger
	watcher *fsnotify.Watcher

	mu   sync.RWMutex
	text string
}

// LoadPrompt reads the template file and starts watching it for changes.
func LoadPrompt(path string, log zerolog.Logger) (*PromptTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}

	pt := &PromptTemplate{
		path: path,
		log:  log.With().Str("component", "prompt").Logger(),
		text: string(data),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("prompt watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files by rename,
	// which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch prompt dir: %w", err)
	}
	pt.watcher = watcher
	go pt.watch()

	return pt, nil
}

// Current returns the active prompt text.
func (pt *PromptTemplate) Current() string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.text
}

// Close stops the file watcher.
func (pt *PromptTemplate) Close() error {
	if pt.watcher != nil {
		return pt.watcher.Close()
	}
	return nil
}

func (pt *PromptTemplate) watch() {
	for {
		select {
		case ev, ok := <-pt.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(pt.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			pt.reload()
		case err, ok := <-pt.watcher.Errors:
			if !ok {
				return
			}
			pt.log.Warn().Err(err).Msg("prompt watcher error")
		}
	}
}

func (pt *PromptTemplate) reload() {
	data, err := os.ReadFile(pt.path)
	if err != nil {
		pt.log.Warn().Err(err).Msg("prompt reload failed, keeping previous template")
		return
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		pt.log.Warn().Msg("prompt file is empty, keeping previous template")
		return
	}

	pt.mu.Lock()
	pt.text = text
	pt.mu.Unlock()
	pt.log.Info().Str("path", pt.path).Msg("summary prompt reloaded")
}
