package sequence

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher emits image paths as they appear in a directory, for runs that
// correlate frames live during acquisition.
type Watcher struct {
	log     *slog.Logger
	watcher *fsnotify.Watcher
	frames  chan string
}

// NewWatcher starts watching dir for new image files.
func NewWatcher(log *slog.Logger, dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	log.Info("watching directory for frames", "dir", dir)
	return &Watcher{log: log, watcher: fw, frames: make(chan string, 100)}, nil
}

// Frames is the channel of newly arrived image paths.
func (w *Watcher) Frames() <-chan string { return w.frames }

// Run processes filesystem events until the context is canceled. It closes
// the Frames channel on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.frames)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			if !isImageFile(event.Name) {
				continue
			}
			select {
			case w.frames <- event.Name:
			default:
				w.log.Warn("frame buffer full, dropping frame", "path", event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", "error", err)
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error { return w.watcher.Close() }

func isImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff", ".png", ".jpg", ".jpeg", ".bmp":
		return true
	}
	return false
}
