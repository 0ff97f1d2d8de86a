package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/staffsync/errors"
)

// watchDebounce coalesces the burst of fsnotify events editors emit for a
// single save into one reload.
const watchDebounce = 500 * time.Millisecond

// Watcher reloads the config file on change and hands the validated result
// to a callback. A reload that fails to parse or validate keeps the
// previous configuration and logs the error.
type Watcher struct {
	path     string
	onChange func(*Config)
	log      *zap.SugaredLogger

	fsw     *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	stopped sync.Once
}

// NewWatcher watches the file cfg was loaded from. Returns an error when
// cfg was built from defaults only and there is no file to watch.
func NewWatcher(cfg *Config, onChange func(*Config), log *zap.SugaredLogger) (*Watcher, error) {
	if cfg.FilePath() == "" {
		return nil, errors.New("no config file to watch")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	// Watch the directory, not the file: editors replace files on save and
	// a direct file watch dies with the old inode.
	if err := fsw.Add(filepath.Dir(cfg.FilePath())); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", filepath.Dir(cfg.FilePath()))
	}

	w := &Watcher{
		path:     cfg.FilePath(),
		onChange: onChange,
		log:      log,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()

	log.Infow("Watching config file for changes", "path", w.path)
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnw("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromFile(w.path)
	if err != nil {
		w.log.Errorw("Config reload failed, keeping previous configuration",
			"path", w.path, "error", err)
		return
	}
	w.log.Infow("Config reloaded", "path", w.path)
	w.onChange(cfg)
}

// Stop halts watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopped.Do(func() {
		close(w.done)
		w.fsw.Close()
		w.wg.Wait()
	})
}
