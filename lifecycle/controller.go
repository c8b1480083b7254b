package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sessioncore/store"
)

// ErrStopFailed indicates the network follower could not be stopped before
// the background budget ran out. There is no recovery path at that point.
var ErrStopFailed = errors.New("lifecycle: failed to stop network follower")

// Network is the slice of the engine the controller drives.
type Network interface {
	Stop() error
	HasRunningProcesses() bool
	StartNetworkFollower(timeout time.Duration) error
}

// MessageStore is the slice of the persistent store the controller writes:
// bulk failing of in-flight sends before shutdown.
type MessageStore interface {
	BulkUpdateMessages(store.MessageQuery, store.MessageAssignment) (int, error)
}

// Config carries the controller's thresholds and timing.
type Config struct {
	// LowBudget is the remaining-budget threshold below which in-flight
	// sends are bulk failed.
	LowBudget time.Duration
	// CriticalBudget is the remaining-budget threshold below which the
	// network follower is stopped. Must be below LowBudget so pending
	// sends fail before the network is torn down.
	CriticalBudget time.Duration
	// TickInterval is the budget polling period.
	TickInterval time.Duration
	// RestartTimeout bounds the follower restart on foregrounding.
	RestartTimeout time.Duration
	// GrantName names the background execution grant.
	GrantName string
}

// DefaultConfig returns the thresholds used by the production client.
func DefaultConfig() Config {
	return Config{
		LowBudget:      9 * time.Second,
		CriticalBudget: 8 * time.Second,
		TickInterval:   time.Second,
		RestartTimeout: 10 * time.Second,
		GrantName:      "stop.network",
	}
}

// episode is the state of one backgrounding episode. A fresh value is
// created on every background transition, so the one-shot flags can never
// leak across episodes.
type episode struct {
	token         GrantToken
	stop          chan struct{}
	failedPending bool
	stopIssued    bool
	ended         bool
}

// Controller owns the foreground/background transition logic for the
// network follower.
type Controller struct {
	net   Network
	msgs  MessageStore
	grant ExecutionGrant
	clk   clock.Clock
	cfg   Config

	// fatal is invoked when the follower cannot be stopped in time.
	fatal func(error)

	mu             sync.Mutex
	current        *episode
	restartPending bool
}

// NewController creates a Controller. clk may be nil, in which case the
// system clock is used. fatal may be nil, in which case stop failures are
// only logged.
func NewController(net Network, msgs MessageStore, grant ExecutionGrant, clk clock.Clock, cfg Config, fatal func(error)) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	if fatal == nil {
		fatal = func(err error) {
			logrus.WithFields(logrus.Fields{
				"function": "fatal",
				"error":    err.Error(),
			}).Error("Unrecoverable lifecycle failure")
		}
	}

	return &Controller{
		net:   net,
		msgs:  msgs,
		grant: grant,
		clk:   clk,
		cfg:   cfg,
		fatal: fatal,
	}
}

// EnterBackground begins a backgrounding episode: it opens an execution
// grant and starts the periodic budget check. A second call during an open
// episode is a no-op.
func (c *Controller) EnterBackground() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return
	}

	ep := &episode{
		token: c.grant.Begin(c.cfg.GrantName),
		stop:  make(chan struct{}),
	}
	c.current = ep

	logrus.WithFields(logrus.Fields{
		"function":   "EnterBackground",
		"grant_name": c.cfg.GrantName,
	}).Info("Background episode started")

	go c.monitor(ep)
}

// monitor runs the periodic budget check until the episode terminates or
// the app returns to the foreground.
func (c *Controller) monitor(ep *episode) {
	ticker := c.clk.Ticker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ep.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			done := c.tick(ep)
			c.mu.Unlock()
			if done {
				return
			}
		}
	}
}

// tick performs one budget check. It returns true once the episode is
// terminal. Caller holds c.mu.
func (c *Controller) tick(ep *episode) bool {
	// The episode may have been cancelled between the ticker firing and
	// the lock being acquired.
	if c.current != ep {
		return true
	}

	remaining := ep.token.TimeRemaining()

	logrus.WithFields(logrus.Fields{
		"function":  "tick",
		"remaining": remaining,
	}).Debug("Background budget check")

	if remaining > c.cfg.LowBudget {
		return false
	}

	// Pending sends always fail before the network is torn down, even if
	// one tick jumps past both thresholds.
	if !ep.failedPending {
		ep.failedPending = true
		c.failPendingSends()
	}

	if remaining > c.cfg.CriticalBudget {
		return false
	}

	if !ep.stopIssued {
		ep.stopIssued = true
		c.restartPending = true

		logrus.WithFields(logrus.Fields{
			"function":  "tick",
			"remaining": remaining,
		}).Info("Stopping network follower")

		if err := c.net.Stop(); err != nil {
			c.fatal(fmt.Errorf("%w: %v", ErrStopFailed, err))
			ep.token.End()
			ep.ended = true
			c.current = nil
			return true
		}
		return false
	}

	if !c.net.HasRunningProcesses() {
		ep.token.End()
		ep.ended = true
		c.current = nil

		logrus.WithFields(logrus.Fields{
			"function": "tick",
		}).Info("Network follower stopped, background episode complete")

		return true
	}

	return false
}

// failPendingSends converts every message still marked sending into a
// user-visible failure. Caller holds c.mu.
func (c *Controller) failPendingSends() {
	n, err := c.msgs.BulkUpdateMessages(
		store.MessageQuery{Status: []store.MessageStatus{store.MessageSending}},
		store.MessageAssignment{Status: store.Ptr(store.MessageSendingFailed)},
	)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "failPendingSends",
			"error":    err.Error(),
		}).Warn("Failed to bulk fail pending sends")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "failPendingSends",
		"count":    n,
	}).Info("Marked pending sends as failed")
}

// EnterForeground cancels the budget check immediately and, if the
// follower was stopped during any prior episode, restarts it. A restart
// failure is non-fatal: it stays pending and is retried on the next
// foreground transition.
func (c *Controller) EnterForeground() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ep := c.current; ep != nil {
		close(ep.stop)
		if !ep.ended {
			ep.token.End()
		}
		c.current = nil

		logrus.WithFields(logrus.Fields{
			"function": "EnterForeground",
		}).Info("Background episode cancelled")
	}

	if !c.restartPending {
		return
	}

	if err := c.net.StartNetworkFollower(c.cfg.RestartTimeout); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "EnterForeground",
			"timeout":  c.cfg.RestartTimeout,
			"error":    err.Error(),
		}).Warn("Failed to restart network follower, will retry")
		return
	}

	c.restartPending = false

	logrus.WithFields(logrus.Fields{
		"function": "EnterForeground",
	}).Info("Network follower restarted")
}

// Close cancels any open background episode and releases its grant. The
// session calls it at teardown so the monitor goroutine cannot outlive the
// session and drive a shared engine afterwards. Unlike EnterForeground it
// never restarts the follower.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	ep := c.current
	if ep == nil {
		return
	}

	close(ep.stop)
	if !ep.ended {
		ep.token.End()
		ep.ended = true
	}
	c.current = nil

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Background episode cancelled at teardown")
}

// RestartPending reports whether a follower restart is still owed. Exposed
// so user-initiated network actions can trigger the lazy retry.
func (c *Controller) RestartPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restartPending
}

// RetryRestart attempts a pending follower restart outside a foreground
// transition. It is a no-op when no restart is owed.
func (c *Controller) RetryRestart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.restartPending {
		return nil
	}

	if err := c.net.StartNetworkFollower(c.cfg.RestartTimeout); err != nil {
		return fmt.Errorf("failed to restart network follower: %w", err)
	}

	c.restartPending = false
	return nil
}
