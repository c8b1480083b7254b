// Package sessioncore implements the session lifecycle of a decentralized
// end-to-end-encrypted messenger client.
//
// A Session composes one network engine handle and one persistent store for
// the lifetime of an authenticated run. On construction it migrates any
// legacy database, repairs the self contact, binds the event reconciler to
// the engine's streams, re-arms file transfers that were interrupted by the
// last process stop, and fails any verification left hanging. The
// background lifecycle controller stops and restarts the network follower
// across the app's foreground/background transitions.
//
// Example:
//
//	opts := sessioncore.DefaultOptions()
//	opts.DatabasePath = "/data/messenger.sqlite"
//	opts.Username = "alice"
//
//	session, err := sessioncore.NewSession(deps, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	// Wire OS transitions to the lifecycle controller.
//	onBackground(session.EnterBackground)
//	onForeground(session.EnterForeground)
package sessioncore
