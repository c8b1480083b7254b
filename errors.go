package sessioncore

import "errors"

// ErrMissingUsername indicates an attempt to build or restore a session
// for an account that has no registered username.
var ErrMissingUsername = errors.New("sessioncore: account has no username")

// ErrDatabaseOpen indicates the persistent store could not be opened at
// session start. There is no automatic retry; the caller decides.
var ErrDatabaseOpen = errors.New("sessioncore: failed to open database")

// ErrNetworkNotStopping indicates the engine kept running processes past
// the deletion deadline, so the account could not be torn down safely.
var ErrNetworkNotStopping = errors.New("sessioncore: network is not stopping")
