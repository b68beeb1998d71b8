package ledger

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// Lock takes an exclusive lock on "<ledger path>.lock" so only one agent
// appends to a ledger at a time. The caller must Unlock it on shutdown.
func Lock(ledgerPath string) (*flock.Flock, error) {
	lock := flock.New(ledgerPath + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another cloud-courier agent is already using " + ledgerPath)
	}
	return lock, nil
}
