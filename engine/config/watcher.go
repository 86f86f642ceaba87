package config

import (
	"errors"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/prisma/engine/core"
)

// Watcher reloads the options file when it changes on disk and hands the
// result to a callback. Only knobs that are safe to change at runtime
// should be applied by the callback; the pacing mode itself is fixed at
// startup.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	done     chan struct{}
	isClosed bool
}

// Watch starts watching the options file at path. onChange runs on the
// watcher goroutine with the freshly loaded options.
func Watch(path string, onChange func(*Options)) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	w := &Watcher{
		path:     path,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}

	// watch the directory: editors replace files on save, which would
	// drop a watch on the file itself
	if err := fsWatch.Add(filepath.Dir(path)); err != nil {
		fsWatch.Close()
		return nil, err
	}

	go w.run(onChange)

	return w, nil
}

func (w *Watcher) run(onChange func(*Options)) {
	for {
		select {
		case event, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			opts, err := Load(w.path)
			if err != nil {
				core.LogWarn("options reload failed: %s", err.Error())
				continue
			}
			core.LogInfo("options file changed, reloading")
			onChange(opts)

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("options watcher: %s", err.Error())

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w.isClosed {
		return errors.New("options watcher already closed")
	}
	w.isClosed = true
	close(w.done)
	return w.fsnotify.Close()
}
