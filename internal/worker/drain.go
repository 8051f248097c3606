package worker

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DrainFile is the signal file name that stops workers from taking new jobs.
const DrainFile = "drain"

// DrainWatcher watches a signals directory for the drain file.
type DrainWatcher struct {
	dir string

	once    sync.Once
	drained chan struct{}

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewDrainWatcher creates dir if needed and starts watching it. If the drain
// file already exists the watcher is signalled immediately.
func NewDrainWatcher(dir string) (*DrainWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dw := &DrainWatcher{
		dir:     dir,
		drained: make(chan struct{}),
		done:    make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Fall back to the stat check in ShouldDrain.
		dw.ShouldDrain()
		return dw, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		dw.ShouldDrain()
		return dw, nil
	}
	dw.watcher = watcher
	go dw.watch()

	// The file may have been created before the watch was registered.
	dw.ShouldDrain()
	return dw, nil
}

func (dw *DrainWatcher) watch() {
	for {
		select {
		case <-dw.done:
			return
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == DrainFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				dw.signal()
			}
		case _, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (dw *DrainWatcher) signal() {
	dw.once.Do(func() { close(dw.drained) })
}

// Drained is closed once the drain file has been seen.
func (dw *DrainWatcher) Drained() <-chan struct{} {
	return dw.drained
}

// ShouldDrain reports whether a drain was signalled, checking the file
// directly in case the watcher missed it.
func (dw *DrainWatcher) ShouldDrain() bool {
	if _, err := os.Stat(filepath.Join(dw.dir, DrainFile)); err == nil {
		dw.signal()
	}
	select {
	case <-dw.drained:
		return true
	default:
		return false
	}
}

// SendDrain creates the drain file in dir.
func SendDrain(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, DrainFile), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearDrain removes the drain file from dir.
func ClearDrain(dir string) error {
	err := os.Remove(filepath.Join(dir, DrainFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Close stops watching.
func (dw *DrainWatcher) Close() {
	close(dw.done)
	if dw.watcher != nil {
		dw.watcher.Close()
	}
}
