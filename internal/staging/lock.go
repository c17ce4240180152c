package staging

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	lockRetryInterval = 25 * time.Millisecond
	lockTimeout       = 5 * time.Second

	// A lock older than this belongs to a process that died without
	// releasing it and may be taken over.
	lockStaleAfter = 30 * time.Second
)

// ErrLockTimeout is returned when another process holds the staging lock
// for longer than the acquisition timeout.
var ErrLockTimeout = errors.New("staging: timed out waiting for lock")

// acquireLock takes the exclusive per-working-copy lock. The returned
// release func must run on every exit path, error paths included.
func acquireLock(path string) (release func(), err error) {
	deadline := time.Now().Add(lockTimeout)
	// The token distinguishes our lock from one a concurrent waiter
	// re-created after a stale takeover, so release never removes a
	// lock we no longer own.
	token := uuid.New().String()
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), token)
			f.Close()
			release := func() {
				if data, err := os.ReadFile(path); err == nil && strings.Contains(string(data), token) {
					os.Remove(path)
				}
			}
			return release, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			// Holder is gone. Remove and retry; the O_EXCL create
			// arbitrates if several waiters race for takeover.
			os.Remove(path)
			continue
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		time.Sleep(lockRetryInterval)
	}
}
