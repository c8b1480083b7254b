// Package lifecycle keeps the network follower alive while the app is
// foregrounded and shuts it down cleanly when the app is backgrounded,
// without overrunning the OS-granted background execution budget.
//
// Each backgrounding episode runs a periodic budget check. As the budget
// drains past the low threshold, messages still marked sending are bulk
// failed so the UI never shows a perpetual spinner after resume; past the
// critical threshold the network follower is stopped, and once the engine
// reports no running processes the execution grant is ended. Foregrounding
// cancels the check immediately and restarts the follower if it was
// stopped.
package lifecycle
