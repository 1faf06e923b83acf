package workload

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"
)

// DefaultDebounce coalesces editor write bursts into one reload.
const DefaultDebounce = 300 * time.Millisecond

// Watcher re-loads a workload file whenever it changes on disk and hands
// the parsed result to a callback. Used by watch mode to re-run a session
// on every edit.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload func(*File)
	onError  func(error)
	logger   *log.Logger

	fsw  *fsnotify.Watcher
	sf   singleflight.Group
	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher creates a watcher for path. onReload receives each
// successfully reloaded file; onError (optional) receives load failures,
// which do not stop the watcher.
func NewWatcher(path string, debounce time.Duration, onReload func(*File), onError func(error), logger *log.Logger) (*Watcher, error) {
	if onReload == nil {
		return nil, fmt.Errorf("watcher requires an onReload callback")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve workload path: %w", err)
	}
	return &Watcher{
		path:     abs,
		debounce: debounce,
		onReload: onReload,
		onError:  onError,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Watching the parent directory instead of the file
// itself survives editors that replace the file on save.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Printf("workload watcher error: %v", err)
			}
		}
	}
}

// reload parses the file once even when several debounce timers fire close
// together: singleflight collapses concurrent reloads of the same path.
func (w *Watcher) reload() {
	v, err, _ := w.sf.Do(w.path, func() (any, error) {
		return Load(w.path)
	})
	if err != nil {
		if w.logger != nil {
			w.logger.Printf("workload reload failed: %v", err)
		}
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	w.onReload(v.(*File))
}

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	close(w.done)
	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
	}
	w.wg.Wait()
	return err
}
