package symbols

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Update is delivered whenever a watched symbol file changes. Err is set when
// the new content failed to parse; the previous table stays in effect.
type Update struct {
	Path  string
	Table Table
	Err   error
}

// Watcher reloads a symbol file whenever it is written or replaced.
type Watcher struct {
	path    string
	fs      *fsnotify.Watcher
	updates chan Update
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	logger  *zap.Logger
}

// Watch starts watching path. The parent directory is watched so that
// editors which save through rename are still picked up.
func Watch(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("symbols: resolve %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("symbols: create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("symbols: watch %s: %w", filepath.Dir(abs), err)
	}
	w := &Watcher{
		path:    abs,
		fs:      fsw,
		updates: make(chan Update, 1),
		done:    make(chan struct{}),
		logger:  logger.Named("symbols"),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Updates returns the channel of reload results. It is closed by Close.
func (w *Watcher) Updates() <-chan Update { return w.updates }

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
		close(w.updates)
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			table, err := LoadFile(w.path)
			if err != nil {
				w.logger.Warn("symbol file reload failed", zap.String("path", w.path), zap.Error(err))
			} else {
				w.logger.Info("symbol file reloaded", zap.String("path", w.path), zap.Int("names", table.Len()))
			}
			select {
			case w.updates <- Update{Path: w.path, Table: table, Err: err}:
			case <-w.done:
				return
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("symbol watcher error", zap.Error(err))
		}
	}
}
