package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher uses fsnotify to watch the data directory and calls
// onChange once config.json has settled after a change.
type Watcher struct {
	path     string
	onChange func()
	watcher  *fsnotify.Watcher
	debounce time.Duration
	pending  bool
	lastSeen time.Time
	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewWatcher watches the config file under dataDir. The
// directory is watched rather than the file so that editors
// which replace the file on save are still seen.
func NewWatcher(
	dataDir string, debounce time.Duration, onChange func(),
) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is nil: %w", os.ErrInvalid)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dataDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dataDir, err)
	}

	return &Watcher{
		path:     filepath.Join(filepath.Clean(dataDir), configFileName),
		onChange: onChange,
		watcher:  fsw,
		debounce: debounce,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Start begins processing file events in a goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop stops the watcher and waits for it to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)

		case <-ticker.C:
			w.flush()
		}
	}
}

// handleEvent records a pending change when the event touches
// the config file.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.pending = true
	w.lastSeen = w.now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	ready := w.pending && w.now().Sub(w.lastSeen) >= w.debounce
	if ready {
		w.pending = false
	}
	w.mu.Unlock()

	if ready {
		log.Printf("config watcher: %s changed, reloading", w.path)
		w.onChange()
	}
}
