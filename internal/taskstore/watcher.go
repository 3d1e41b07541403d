package taskstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports task archives arriving in a pending directory.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher
	log     *zap.Logger
}

// NewWatcher starts watching dir. Events are delivered once Run is called.
func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.L()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("taskstore: new watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("taskstore: watch %s: %w", dir, err)
	}
	return &Watcher{dir: dir, watcher: fw, log: logger}, nil
}

// Run calls onArrive for every task archive created in or moved into the
// watched directory until ctx is done. It closes the watcher on return.
func (w *Watcher) Run(ctx context.Context, onArrive func(name string)) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(ev.Name)
			if IsTaskName(name) {
				onArrive(name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("task watcher error", zap.String("dir", w.dir), zap.Error(err))
		}
	}
}
