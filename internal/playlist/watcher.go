package playlist

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounce collapses the burst of events editors emit for one save.
const debounce = 100 * time.Millisecond

// Watcher reloads a playlist file whenever it changes and hands the new
// entries to onReload. Files that fail to parse are logged and skipped, so
// the previous playlist stays in effect.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func([]string)
	logger   zerolog.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// Watch starts watching path. The file's directory is watched so that
// editors replacing the file by rename are picked up.
func Watch(path string, onReload func([]string), logger zerolog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		watcher:  fw,
		onReload: onReload,
		logger:   logger.With().Str("component", "playlist").Logger(),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Playlist watcher error")
		}
	}
}

func (w *Watcher) reload() {
	entries, err := Load(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Playlist reload skipped")
		return
	}
	w.logger.Info().Str("path", w.path).Int("entries", len(entries)).Msg("Playlist reloaded")
	w.onReload(entries)
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
