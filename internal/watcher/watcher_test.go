package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleverdata/cloud-courier/internal/config"
)

const waitFor = 5 * time.Second

type collector struct {
	q    *Queue
	seen []Event
}

// waitForPath drains the queue until an event for path shows up.
func (c *collector) waitForPath(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		e, ok := c.q.Get(50 * time.Millisecond)
		if !ok {
			continue
		}
		c.seen = append(c.seen, e)
		if e.Path == path {
			return
		}
	}
	t.Fatalf("no event for %s within %s", path, waitFor)
}

func (c *collector) paths() map[string]bool {
	out := map[string]bool{}
	for _, e := range c.seen {
		out[e.Path] = true
	}
	return out
}

func startWatcher(t *testing.T, folder config.FolderWatchConfig) *collector {
	t.Helper()
	q := NewQueue()
	w := New(folder, q)
	require.NoError(t, w.Start())
	t.Cleanup(func() { require.NoError(t, w.Stop()) })
	return &collector{q: q}
}

func watchedFolder(t *testing.T, recursive bool) config.FolderWatchConfig {
	folder := config.NewFolderWatchConfig()
	folder.FolderPath = t.TempDir()
	folder.Recursive = recursive
	folder.S3BucketName = "bucket"
	folder.S3KeyPrefix = "prefix"
	return folder
}

func write(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(uuid.NewString()), 0o644))
}

func TestWatcherEmitsCreatedFile(t *testing.T) {
	folder := watchedFolder(t, true)
	c := startWatcher(t, folder)

	path := filepath.Join(folder.FolderPath, uuid.NewString()+".txt")
	write(t, path)
	c.waitForPath(t, path)

	e := c.seen[len(c.seen)-1]
	assert.Contains(t, []Kind{Created, Modified}, e.Kind)
	assert.Equal(t, folder, e.Folder)
	assert.False(t, e.DetectedAt.IsZero())
}

func TestWatcherIgnoresSubfolderWhenNotRecursive(t *testing.T) {
	folder := watchedFolder(t, false)
	sub := filepath.Join(folder.FolderPath, "excluded")
	require.NoError(t, os.Mkdir(sub, 0o755))
	c := startWatcher(t, folder)

	hidden := filepath.Join(sub, uuid.NewString()+".txt")
	write(t, hidden)
	marker := filepath.Join(folder.FolderPath, uuid.NewString()+".txt")
	write(t, marker)
	c.waitForPath(t, marker)

	// Give a late notification for the subfolder a chance to show up.
	for {
		e, ok := c.q.Get(200 * time.Millisecond)
		if !ok {
			break
		}
		c.seen = append(c.seen, e)
	}
	assert.False(t, c.paths()[hidden])
	assert.False(t, c.paths()[sub], "directories are never emitted")
}

func TestWatcherFollowsNewSubfoldersWhenRecursive(t *testing.T) {
	folder := watchedFolder(t, true)
	existing := filepath.Join(folder.FolderPath, "existing")
	require.NoError(t, os.Mkdir(existing, 0o755))
	c := startWatcher(t, folder)

	inExisting := filepath.Join(existing, uuid.NewString()+".txt")
	write(t, inExisting)
	c.waitForPath(t, inExisting)

	created := filepath.Join(folder.FolderPath, "new", "deeper")
	require.NoError(t, os.MkdirAll(created, 0o755))
	inCreated := filepath.Join(created, uuid.NewString()+".txt")
	write(t, inCreated)
	c.waitForPath(t, inCreated)

	assert.False(t, c.paths()[created])
}

func TestWatcherAppliesPatterns(t *testing.T) {
	folder := watchedFolder(t, true)
	folder.IgnorePatterns = []string{"*.tmp"}
	c := startWatcher(t, folder)

	ignored := filepath.Join(folder.FolderPath, "scratch.tmp")
	write(t, ignored)
	kept := filepath.Join(folder.FolderPath, "result.fcs")
	write(t, kept)
	c.waitForPath(t, kept)

	assert.False(t, c.paths()[ignored])
}

func TestWatcherStartFailsForMissingFolder(t *testing.T) {
	folder := watchedFolder(t, false)
	folder.FolderPath = filepath.Join(folder.FolderPath, "missing")
	w := New(folder, NewQueue())
	require.Error(t, w.Start())
	require.NoError(t, w.Stop())
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	folder := watchedFolder(t, true)
	w := New(folder, NewQueue())
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
