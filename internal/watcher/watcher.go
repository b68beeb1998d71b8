package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/cleverdata/cloud-courier/internal/config"
	"github.com/cleverdata/cloud-courier/internal/logging"
)

// FolderWatcher forwards fsnotify notifications for one folder to a Queue.
//
// fsnotify does not watch recursively, so for recursive folders every
// subdirectory is added at start and whenever one is created later.
type FolderWatcher struct {
	folder config.FolderWatchConfig
	root   string
	queue  *Queue
	clock  clockwork.Clock
	fs     afero.Fs
	logger logging.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}
	once sync.Once
}

type Option func(*FolderWatcher)

func WithClock(c clockwork.Clock) Option {
	return func(w *FolderWatcher) { w.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(w *FolderWatcher) { w.logger = l }
}

func WithFs(fs afero.Fs) Option {
	return func(w *FolderWatcher) { w.fs = fs }
}

func New(folder config.FolderWatchConfig, queue *Queue, opts ...Option) *FolderWatcher {
	w := &FolderWatcher{
		folder: folder,
		root:   filepath.Clean(folder.FolderPath),
		queue:  queue,
		clock:  clockwork.NewRealClock(),
		fs:     afero.NewOsFs(),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers the folder with the OS and begins forwarding events.
func (w *FolderWatcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dirs := []string{w.root}
	if w.folder.Recursive {
		if dirs, err = subdirectories(w.fs, w.root); err != nil {
			_ = fsw.Close()
			return fmt.Errorf("list subfolders of %s: %w", w.root, err)
		}
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			// Release the handles of the directories already added.
			if cerr := fsw.Close(); cerr != nil {
				w.logger.Warningf("failed to close watcher: %v", cerr)
			}
			return fmt.Errorf("watch %q: %w", dir, err)
		}
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	go w.loop()
	w.logger.Infof("watching %s (recursive=%t)", w.root, w.folder.Recursive)
	return nil
}

// Stop closes the notification handle and waits for the forwarding goroutine
// to exit. It is safe to call more than once.
func (w *FolderWatcher) Stop() error {
	if w.fsw == nil {
		return nil
	}
	var err error
	w.once.Do(func() {
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

func (w *FolderWatcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("notification error for %s: %v", w.root, err)
		}
	}
}

func (w *FolderWatcher) handle(ev fsnotify.Event) {
	var kind Kind
	switch {
	case ev.Has(fsnotify.Create):
		kind = Created
	case ev.Has(fsnotify.Write):
		kind = Modified
	default:
		return
	}

	fi, err := w.fs.Stat(ev.Name)
	if err != nil {
		// Gone again before it could be looked at.
		w.logger.Debugf("ignoring %s event for %s: %v", kind, ev.Name, err)
		return
	}
	if fi.IsDir() {
		if kind == Created && w.folder.Recursive {
			w.addDir(ev.Name)
		}
		return
	}
	if !fi.Mode().IsRegular() {
		return
	}
	w.emit(kind, ev.Name)
}

// addDir starts watching a newly created subfolder and everything below it.
// The folder itself is watched before it is listed, so whatever was written
// into it before the watch was in place is emitted as Created.
func (w *FolderWatcher) addDir(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		if !errors.Is(err, fsnotify.ErrClosed) {
			w.logger.Warningf("failed to watch new folder %s: %v", dir, err)
		}
		return
	}
	dirs, err := subdirectories(w.fs, dir)
	if err != nil {
		w.logger.Warningf("failed to list new folder %s: %v", dir, err)
		return
	}
	for _, d := range dirs {
		if err := w.fsw.Add(d); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
			w.logger.Warningf("failed to watch new folder %s: %v", d, err)
		}
	}
	sub := w.folder
	sub.FolderPath = dir
	files, err := Enumerate(w.fs, sub)
	if err != nil {
		w.logger.Warningf("failed to list files in new folder %s: %v", dir, err)
		return
	}
	for _, f := range files {
		w.emit(Created, f)
	}
}

func (w *FolderWatcher) emit(kind Kind, path string) {
	if !w.folder.Matches(path) {
		return
	}
	w.logger.Debugf("%s: %s", kind, path)
	w.queue.Put(Event{
		Kind:       kind,
		Path:       path,
		Folder:     w.folder,
		DetectedAt: w.clock.Now(),
	})
}
