package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher monitors the .env file and invokes a callback when it changes,
// feeding the same reload path as SIGHUP. Editors typically emit a burst of
// Create/Write/Rename events per save, so events are debounced.
type Watcher struct {
	envFile  string
	onChange func()
	log      zerolog.Logger

	fw     *fsnotify.Watcher
	cancel context.CancelFunc

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

const debounceDelay = 500 * time.Millisecond

// NewWatcher starts watching envFile's parent directory. Watching the
// directory instead of the file survives rename-based saves.
func NewWatcher(envFile string, onChange func(), log zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(envFile)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		envFile:  envFile,
		onChange: onChange,
		log:      log.With().Str("component", "confwatch").Logger(),
		fw:       fw,
		cancel:   cancel,
	}
	go w.loop(ctx)
	w.log.Info().Str("file", envFile).Msg("watching config file for changes")
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.envFile) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(debounceDelay, func() {
		w.log.Info().Msg("config file changed, triggering reload")
		w.onChange()
	})
}

func (w *Watcher) Close() {
	w.cancel()
	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
	w.fw.Close()
}
