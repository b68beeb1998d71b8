// Package core runs the agent: it boots from the remote configuration,
// watches folders, uploads eligible files one at a time and shuts down when
// a stop flag appears.
package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/cleverdata/cloud-courier/internal/checksum"
	"github.com/cleverdata/cloud-courier/internal/config"
	"github.com/cleverdata/cloud-courier/internal/heartbeat"
	"github.com/cleverdata/cloud-courier/internal/ledger"
	"github.com/cleverdata/cloud-courier/internal/logging"
	"github.com/cleverdata/cloud-courier/internal/storage"
	"github.com/cleverdata/cloud-courier/internal/watcher"
)

// DequeueTimeout bounds how long one loop iteration waits for an event.
const DequeueTimeout = 50 * time.Millisecond

type State int32

const (
	Booting State = iota
	Watching
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Booting:
		return "BOOTING"
	case Watching:
		return "WATCHING"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	case Stopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ConfigLoader provides the configuration for one boot.
type ConfigLoader interface {
	Load(ctx context.Context) (config.CourierConfig, error)
}

// Uploader transfers one file and returns its verified checksum.
type Uploader interface {
	Upload(ctx context.Context, filePath, bucket, key string) (checksum.Checksum, error)
}

// Watcher feeds events for one folder into the queue between Start and Stop.
type Watcher interface {
	Start() error
	Stop() error
}

type WatcherFactory func(folder config.FolderWatchConfig, queue *watcher.Queue) Watcher

type Options struct {
	Loader    ConfigLoader
	Uploader  Uploader
	Ledger    *ledger.Ledger
	Heartbeat *heartbeat.Emitter

	// StopFlagDir is polled every iteration. Any regular file in it stops
	// the agent; the files are deleted, subdirectories are ignored.
	StopFlagDir   string
	IdleLoopSleep time.Duration

	Fs         afero.Fs
	Clock      clockwork.Clock
	Logger     logging.Logger
	NewWatcher WatcherFactory
}

// Controller owns the queue, the ledger index and the heartbeat. Everything
// except the watchers runs on the goroutine that calls Run.
type Controller struct {
	opts   Options
	logger logging.Logger

	state      atomic.Int32
	iterations atomic.Int64
	entered    chan struct{}

	cfg      config.CourierConfig
	queue    *watcher.Queue
	uploaded ledger.Index
	watchers []Watcher
}

func New(opts Options) (*Controller, error) {
	switch {
	case opts.Loader == nil:
		return nil, errors.New("config loader is required")
	case opts.Uploader == nil:
		return nil, errors.New("uploader is required")
	case opts.Ledger == nil:
		return nil, errors.New("ledger is required")
	case opts.StopFlagDir == "":
		return nil, errors.New("stop flag directory is required")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Heartbeat == nil {
		opts.Heartbeat = heartbeat.NewEmitter(opts.Clock, opts.Logger)
	}
	if opts.NewWatcher == nil {
		opts.NewWatcher = func(folder config.FolderWatchConfig, q *watcher.Queue) Watcher {
			return watcher.New(folder, q,
				watcher.WithClock(opts.Clock),
				watcher.WithFs(opts.Fs),
				watcher.WithLogger(logging.Prefixed(opts.Logger, "watcher")))
		}
	}
	return &Controller{
		opts:    opts,
		logger:  opts.Logger,
		entered: make(chan struct{}),
		queue:   watcher.NewQueue(),
	}, nil
}

func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	c.logger.Debugf("state %s -> %s", c.State(), s)
	c.state.Store(int32(s))
}

// MainLoopEntered is closed once the controller reaches WATCHING.
func (c *Controller) MainLoopEntered() <-chan struct{} { return c.entered }

// Iterations counts completed main loop iterations.
func (c *Controller) Iterations() int64 { return c.iterations.Load() }

// Config is the configuration loaded at boot.
func (c *Controller) Config() config.CourierConfig { return c.cfg }

// Run boots, watches until a stop flag appears or ctx is done, and shuts
// down. It returns nil after a stop flag, ctx.Err() after cancellation and
// any boot or ledger error otherwise.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(Booting)
	defer func() {
		c.shutdown()
		c.setState(Stopped)
	}()

	if err := c.boot(ctx); err != nil {
		return err
	}

	c.setState(Watching)
	close(c.entered)
	return c.watch(ctx)
}

func (c *Controller) boot(ctx context.Context) error {
	cfg, err := c.opts.Loader.Load(ctx)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger.Infof("loaded configuration for role %s (alias %s) with %d folder(s)",
		cfg.RoleName, cfg.AliasName, len(cfg.FoldersToWatch))

	if err := c.opts.Ledger.CreateIfAbsent(); err != nil {
		return err
	}
	if c.uploaded, err = c.opts.Ledger.Load(); err != nil {
		return err
	}
	c.logger.Infof("%d previously uploaded file(s) in %s", len(c.uploaded), c.opts.Ledger.Path())

	c.opts.Heartbeat.Configure(cfg.AppConfig.HeartbeatFrequency(), cfg.RoleName)
	c.opts.Heartbeat.SendIfDue(ctx)

	if err := c.opts.Fs.MkdirAll(c.opts.StopFlagDir, 0755); err != nil {
		return fmt.Errorf("create stop flag directory: %w", err)
	}

	descriptors := make([]string, 0, len(cfg.FoldersToWatch))
	for d := range cfg.FoldersToWatch {
		descriptors = append(descriptors, d)
	}
	sort.Strings(descriptors)

	// Watch before listing, so a file written in between is still seen.
	// Duplicates are dropped by the ledger check.
	for _, d := range descriptors {
		folder := cfg.FoldersToWatch[d]
		if err := c.opts.Fs.MkdirAll(folder.FolderPath, 0755); err != nil {
			return fmt.Errorf("create folder %s for %q: %w", folder.FolderPath, d, err)
		}
		w := c.opts.NewWatcher(folder, c.queue)
		if err := w.Start(); err != nil {
			return fmt.Errorf("watch %q: %w", d, err)
		}
		c.watchers = append(c.watchers, w)
	}

	for _, d := range descriptors {
		folder := cfg.FoldersToWatch[d]
		files, err := watcher.Enumerate(c.opts.Fs, folder)
		if err != nil {
			return fmt.Errorf("list existing files of %q: %w", d, err)
		}
		queued := 0
		for _, f := range files {
			if c.uploaded.Contains(f) {
				continue
			}
			c.queue.Put(watcher.Event{Kind: watcher.Closed, Path: f, Folder: folder, DetectedAt: c.opts.Clock.Now()})
			queued++
		}
		c.logger.Infof("%q: %d existing file(s), %d queued for upload", d, len(files), queued)
	}
	return nil
}

func (c *Controller) watch(ctx context.Context) error {
	for {
		c.opts.Heartbeat.SendIfDue(ctx)

		stop, err := c.consumeStopFlags()
		if err != nil {
			return err
		}
		if stop {
			return nil
		}

		if err := c.processNext(ctx); err != nil {
			return err
		}

		c.iterations.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.opts.Clock.After(c.opts.IdleLoopSleep):
		}
	}
}

// consumeStopFlags deletes every regular file in the stop flag directory and
// reports whether there was one.
func (c *Controller) consumeStopFlags() (bool, error) {
	entries, err := afero.ReadDir(c.opts.Fs, c.opts.StopFlagDir)
	if err != nil {
		return false, fmt.Errorf("read stop flag directory: %w", err)
	}
	found := false
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		path := filepath.Join(c.opts.StopFlagDir, e.Name())
		c.logger.Infof("found stop flag file %s, deleting it", path)
		if err := c.opts.Fs.Remove(path); err != nil {
			return false, fmt.Errorf("delete stop flag: %w", err)
		}
		found = true
	}
	return found, nil
}

// processNext handles at most one queued event. Only failures that make
// continuing unsafe are returned.
func (c *Controller) processNext(ctx context.Context) error {
	ev, ok := c.queue.Get(DequeueTimeout)
	if !ok {
		return nil
	}

	if !ev.Eligible(c.opts.Clock.Now()) {
		c.logger.Debugf("%s was detected %s ago, waiting for %s", ev.Path,
			ev.Age(c.opts.Clock.Now()), ev.Folder.Delay())
		c.queue.Put(ev)
		return nil
	}

	if c.uploaded.Contains(ev.Path) {
		c.logger.Infof("skipping %s, already uploaded", ev.Path)
		return nil
	}
	return c.upload(ctx, ev)
}

func (c *Controller) upload(ctx context.Context, ev watcher.Event) error {
	bucket := ev.Folder.S3BucketName
	key := storage.ObjectKey(ev.Path, ev.Folder.S3KeyPrefix)
	cloudPath := storage.CloudPath(bucket, key)
	if err := ledger.Check(ledger.Entry{LocalPath: ev.Path, RemotePath: cloudPath}); err != nil {
		c.logger.Errorf("not uploading %s, it cannot be recorded: %v", ev.Path, err)
		return nil
	}
	c.logger.Infof("uploading %s (%s) to %s", ev.Path, ev.Kind, cloudPath)

	sum, err := c.opts.Uploader.Upload(ctx, ev.Path, bucket, key)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var mismatch *storage.ChecksumMismatchError
		if errors.As(err, &mismatch) {
			c.logger.Errorf("uploaded %s but verification failed, object left in place at %s: %v", ev.Path, cloudPath, err)
		} else {
			c.logger.Errorf("failed to upload %s: %v", ev.Path, err)
		}
		return nil
	}

	c.uploaded.Add(ev.Path, sum)
	if err := c.opts.Ledger.Append(ledger.Entry{LocalPath: ev.Path, RemotePath: cloudPath, Checksum: sum}); err != nil {
		return fmt.Errorf("record upload of %s: %w", ev.Path, err)
	}
	c.logger.Infof("uploaded %s (%s)", ev.Path, sum)
	return nil
}

func (c *Controller) shutdown() {
	if c.State() == Watching {
		c.setState(ShuttingDown)
	}
	for _, w := range c.watchers {
		if err := w.Stop(); err != nil {
			c.logger.Warningf("failed to stop watcher: %v", err)
		}
	}
	c.watchers = nil
	if n := c.queue.Drain(); n > 0 {
		c.logger.Infof("discarded %d pending event(s)", n)
	}
}
