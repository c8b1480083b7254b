package sessioncore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sessioncore/backup"
	"github.com/opd-ai/sessioncore/lifecycle"
	"github.com/opd-ai/sessioncore/network"
	"github.com/opd-ai/sessioncore/notify"
	"github.com/opd-ai/sessioncore/reconcile"
	"github.com/opd-ai/sessioncore/store"
	"github.com/opd-ai/sessioncore/transfer"
)

// Deps are the collaborators a Session receives at construction. There is
// no ambient container; everything the session uses arrives here.
type Deps struct {
	Client    network.Client
	Verifier  network.Verifier
	Monitor   network.Monitor
	Backup    backup.Service
	Reporting reconcile.ReportingStatus
	Grant     lifecycle.ExecutionGrant

	// Clock may be nil; the system clock is then used.
	Clock clock.Clock
	// Fatal, when set, receives unrecoverable lifecycle failures.
	Fatal func(error)
}

// Session is the process-wide object composing one engine handle and one
// persistent store for the lifetime of an authenticated run. It is
// destroyed on logout or account deletion.
type Session struct {
	client  network.Client
	db      *store.Store
	options Options

	notifications *notify.Queue
	resumer       *transfer.Resumer
	reconciler    *reconcile.Reconciler
	controller    *lifecycle.Controller
	backupSvc     backup.Service

	mu       sync.Mutex
	username string
	email    string
	phone    string
	closed   bool
	watchEnd chan struct{}
}

// NewSession builds a session for an existing account: it opens (and if
// needed migrates) the store, repairs the self contact, binds the event
// reconciler, re-arms unfinished transfers, and fails any verification
// left in progress by the previous run.
func NewSession(deps Deps, opts Options) (*Session, error) {
	if opts.Username == "" {
		return nil, ErrMissingUsername
	}
	return bootstrap(deps, opts)
}

// NewSessionFromBackup builds a session from a restored backup report: the
// report's facts become the account facts, and once the session is up the
// engine re-establishes the restored contacts.
func NewSessionFromBackup(deps Deps, opts Options, reportData []byte) (*Session, error) {
	report, err := backup.DecodeReport(reportData)
	if err != nil {
		return nil, err
	}

	params, err := backup.DecodeParams(report.Parameters)
	if err != nil {
		return nil, err
	}

	if params.Username != "" {
		opts.Username = params.Username
	}
	if params.Email != "" {
		opts.Email = params.Email
	}
	if params.Phone != "" {
		opts.Phone = params.Phone
	}

	if opts.Username == "" {
		return nil, fmt.Errorf("%w: restored backup carries no username", ErrMissingUsername)
	}

	s, err := bootstrap(deps, opts)
	if err != nil {
		return nil, err
	}

	if len(report.ContactIDs) > 0 {
		ids, err := json.Marshal(report.ContactIDs)
		if err == nil {
			if err := deps.Client.RestoreContacts(ids); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "NewSessionFromBackup",
					"error":    err.Error(),
				}).Warn("Failed to restore contacts from backup")
			}
		}
	}

	return s, nil
}

func bootstrap(deps Deps, opts Options) (*Session, error) {
	var db *store.Store
	var err error
	if opts.DatabasePath == "" {
		db, err = store.OpenInMemory()
	} else {
		db, err = store.Open(opts.DatabasePath)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseOpen, err)
	}

	if opts.LegacyDatabasePath != "" {
		if err := store.MigrateLegacy(opts.LegacyDatabasePath, db, deps.Client.SelfID(), deps.Client.SelfMarshaled()); err != nil {
			db.Close()
			return nil, fmt.Errorf("legacy migration failed: %w", err)
		}
	}

	s := &Session{
		client:        deps.Client,
		db:            db,
		options:       opts,
		notifications: notify.NewQueue(),
		backupSvc:     deps.Backup,
		username:      opts.Username,
		email:         opts.Email,
		phone:         opts.Phone,
		watchEnd:      make(chan struct{}),
	}

	if err := s.repairSelfContact(); err != nil {
		db.Close()
		return nil, err
	}

	var files *transfer.FileStore
	if opts.FileStorageDir != "" {
		files, err = transfer.NewFileStore(opts.FileStorageDir)
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	s.resumer = transfer.NewResumer(deps.Client, db, files)

	s.reconciler = reconcile.New(reconcile.Deps{
		Events:    deps.Client,
		Store:     db,
		Verifier:  deps.Verifier,
		Monitor:   deps.Monitor,
		Backup:    deps.Backup,
		Transfers: s.resumer,
		Reporting: deps.Reporting,
		Notify:    s.notifications,
	})
	s.reconciler.Bind()

	deps.Monitor.Start()
	deps.Monitor.FirstAvailable(func() {
		deps.Client.ReplayRequests()
	})

	go s.watchBackupSettings()

	s.resumer.ResumeUnfinished()

	// Verification cannot survive a process restart; whatever the last
	// run left in progress has failed.
	if _, err := db.BulkUpdateContacts(
		store.ContactQuery{AuthStatus: []store.AuthStatus{store.AuthVerificationInProgress}},
		store.ContactAssignment{AuthStatus: store.Ptr(store.AuthVerificationFailed)},
	); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "bootstrap",
			"error":    err.Error(),
		}).Warn("Failed to fail in-progress verifications")
	}

	s.controller = lifecycle.NewController(deps.Client, db, deps.Grant, deps.Clock, opts.Lifecycle, deps.Fatal)

	logrus.WithFields(logrus.Fields{
		"function": "bootstrap",
		"username": opts.Username,
	}).Info("Session created")

	return s, nil
}

// repairSelfContact upserts the single contact row representing the local
// user, keyed by the engine's own id.
func (s *Session) repairSelfContact() error {
	selfID := s.client.SelfID()
	if len(selfID) == 0 {
		return fmt.Errorf("engine reported empty self id")
	}

	contacts, err := s.db.FetchContacts(store.ContactQuery{ID: [][]byte{selfID}})
	if err != nil {
		return fmt.Errorf("failed to look up self contact: %w", err)
	}

	var me store.Contact
	if len(contacts) > 0 {
		me = contacts[0]
	} else {
		me = store.Contact{ID: selfID}
	}

	me.Marshaled = s.client.SelfMarshaled()
	me.Username = s.username
	me.Email = s.email
	me.Phone = s.phone
	me.AuthStatus = store.AuthFriend
	me.IsRecent = false

	if _, err := s.db.SaveContact(me); err != nil {
		return fmt.Errorf("failed to save self contact: %w", err)
	}

	return nil
}

// watchBackupSettings reacts to backup configuration changes: enabling
// with a pending passphrase initializes a fresh backup and pushes the
// account facts into it, enabling without one resumes the existing backup,
// disabling stops the engine's backup listener.
func (s *Session) watchBackupSettings() {
	feed := s.backupSvc.SettingsFeed()
	for {
		select {
		case <-s.watchEnd:
			return
		case settings, ok := <-feed:
			if !ok {
				return
			}

			if !settings.Enabled {
				s.client.StopListeningBackup()
				continue
			}

			passphrase, pending := s.backupSvc.TakePassphrase()
			if !pending {
				s.client.ResumeBackup()
				continue
			}

			s.client.InitializeBackup(passphrase)
			if err := s.UpdateFactsOnBackup(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "watchBackupSettings",
					"error":    err.Error(),
				}).Warn("Failed to push facts into new backup")
			}
		}
	}
}

// UpdateFactsOnBackup embeds the account facts in the engine's backup
// payload and schedules a backup if automatic backups are enabled.
func (s *Session) UpdateFactsOnBackup() error {
	s.mu.Lock()
	params := backup.Params{
		Email:    s.email,
		Phone:    s.phone,
		Username: s.username,
	}
	s.mu.Unlock()

	if params.Username == "" {
		return ErrMissingUsername
	}

	payload, err := params.JSON()
	if err != nil {
		return err
	}

	s.client.AddBackupJSON(payload)
	s.backupSvc.PerformBackupIfAutomaticEnabled()
	return nil
}

// Notifications returns the queue of user-facing notifications produced by
// this session.
func (s *Session) Notifications() *notify.Queue {
	return s.notifications
}

// Store exposes the session's persistent store. The session retains
// ownership; callers must not close it.
func (s *Session) Store() *store.Store {
	return s.db
}

// EnterBackground forwards the OS background transition to the lifecycle
// controller.
func (s *Session) EnterBackground() {
	s.controller.EnterBackground()
}

// EnterForeground forwards the OS foreground transition to the lifecycle
// controller.
func (s *Session) EnterForeground() {
	s.controller.EnterForeground()
}

// RetryNetworkRestart retries a pending follower restart. Call it from
// user-initiated network actions so a failed foreground restart heals
// without waiting for the next transition.
func (s *Session) RetryNetworkRestart() error {
	return s.controller.RetryRestart()
}

// DeleteMyself tears the account down: the registered facts are removed
// from user discovery, the follower is stopped, the engine drains, the
// store is dropped and the cached facts are cleared. The wait
// for the engine is bounded; exhausting it returns ErrNetworkNotStopping
// with the account intact.
func (s *Session) DeleteMyself() error {
	logrus.WithFields(logrus.Fields{
		"function": "DeleteMyself",
	}).Warn("Deleting account")

	s.mu.Lock()
	username := s.username
	s.mu.Unlock()

	if err := s.client.DeleteAccount(username); err != nil {
		return fmt.Errorf("failed to delete account from user discovery: %w", err)
	}

	if err := s.client.Stop(); err != nil {
		return fmt.Errorf("failed to stop network follower: %w", err)
	}

	retries := s.options.DeleteRetries
	if retries <= 0 {
		retries = 10
	}
	interval := s.options.DeleteRetryInterval
	if interval <= 0 {
		interval = time.Second
	}
	for i := 0; i < retries; i++ {
		if !s.client.HasRunningProcesses() {
			break
		}
		if i == retries-1 {
			return ErrNetworkNotStopping
		}
		time.Sleep(interval)
	}

	s.teardown()

	if err := s.db.Drop(); err != nil {
		return fmt.Errorf("failed to drop store: %w", err)
	}

	s.mu.Lock()
	s.username = ""
	s.email = ""
	s.phone = ""
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "DeleteMyself",
	}).Info("Account deleted")

	return nil
}

// Close releases the session's subscriptions and store without touching
// the account. Pending reconciler work is abandoned, not awaited.
func (s *Session) Close() error {
	s.teardown()
	return s.db.Close()
}

func (s *Session) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.watchEnd)
	s.mu.Unlock()

	s.controller.Close()
	s.reconciler.Close()

	logrus.WithFields(logrus.Fields{
		"function": "teardown",
	}).Info("Session torn down")
}
