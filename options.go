package sessioncore

import (
	"time"

	"github.com/opd-ai/sessioncore/lifecycle"
)

// Options contains configuration for creating a Session.
type Options struct {
	// DatabasePath locates the SQLite store. Empty selects an in-memory
	// store, which does not survive the process.
	DatabasePath string
	// LegacyDatabasePath, when set, points at a previous-generation
	// database to migrate on first start.
	LegacyDatabasePath string
	// FileStorageDir is where completed download payloads are written.
	// Empty disables on-disk payload storage.
	FileStorageDir string

	// Registered facts of the local account.
	Username string
	Email    string
	Phone    string

	// Lifecycle carries the background shutdown thresholds.
	Lifecycle lifecycle.Config

	// DeleteRetries bounds how long account deletion waits for the engine
	// to stop before giving up.
	DeleteRetries int
	// DeleteRetryInterval is the pause between deletion polls.
	DeleteRetryInterval time.Duration
}

// DefaultOptions creates Options with production defaults. The username
// and paths must still be filled in by the caller.
func DefaultOptions() Options {
	return Options{
		Lifecycle:           lifecycle.DefaultConfig(),
		DeleteRetries:       10,
		DeleteRetryInterval: time.Second,
	}
}
