package lifecycle

import "time"

// ExecutionGrant is the OS-provided capability to keep running for a
// bounded time after leaving the foreground. The budget of an issued token
// decreases monotonically and cannot be extended.
type ExecutionGrant interface {
	// Begin opens a named grant and returns its token.
	Begin(name string) GrantToken
}

// GrantToken is one open background execution allowance.
type GrantToken interface {
	// TimeRemaining reports the budget left on this token.
	TimeRemaining() time.Duration
	// End relinquishes the token. Work after End is subject to immediate
	// suspension.
	End()
}
