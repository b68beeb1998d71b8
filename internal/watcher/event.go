// Package watcher turns OS file notifications into FileEvents on a queue.
package watcher

import (
	"time"

	"github.com/cleverdata/cloud-courier/internal/config"
)

type Kind int

const (
	Created Kind = iota
	Modified
	Closed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one file notification, tagged with the folder it belongs to.
type Event struct {
	Kind       Kind
	Path       string
	Folder     config.FolderWatchConfig
	DetectedAt time.Time
}

// Age is how long ago the event was detected.
func (e Event) Age(now time.Time) time.Duration {
	return now.Sub(e.DetectedAt)
}

// Eligible reports whether the event is older than its folder's upload delay.
func (e Event) Eligible(now time.Time) bool {
	return e.Age(now) >= e.Folder.Delay()
}
