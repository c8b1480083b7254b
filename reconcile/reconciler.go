// Package reconcile applies the engine's asynchronous event streams to the
// persistent store under idempotent, order-tolerant merge rules. Events for
// the same entity id are applied in delivery order; events for different
// ids proceed concurrently. A failed write for one event is logged and
// dropped, never crashing the long-lived subscription.
package reconcile

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sessioncore/backup"
	"github.com/opd-ai/sessioncore/network"
	"github.com/opd-ai/sessioncore/notify"
	"github.com/opd-ai/sessioncore/store"
)

// Store is the slice of the persistent store the reconciler mutates.
// *store.Store satisfies it; tests wrap it to observe calls.
type Store interface {
	FetchContacts(store.ContactQuery) ([]store.Contact, error)
	SaveContact(store.Contact) (store.Contact, error)
	FetchMessages(store.MessageQuery) ([]store.Message, error)
	SaveMessage(store.Message) (store.Message, error)
	SaveFileTransfer(store.FileTransfer) (store.FileTransfer, error)
	FetchGroups(store.GroupQuery) ([]store.Group, error)
	SaveGroup(store.Group) (store.Group, error)
	SaveGroupMembers([]store.GroupMember) error
}

// TransferHandler receives newly announced incoming transfers once their
// record is persisted.
type TransferHandler interface {
	HandleIncoming(ft store.FileTransfer, msg store.Message)
}

// ReportingStatus is the external abuse-gating policy. When enabled, group
// requests led by blocked or banned contacts are dropped.
type ReportingStatus interface {
	Enabled() bool
}

// Deps are the collaborators a Reconciler binds together.
type Deps struct {
	Events    network.Events
	Store     Store
	Verifier  network.Verifier
	Monitor   network.Monitor
	Backup    backup.Service
	Transfers TransferHandler
	Reporting ReportingStatus
	Notify    *notify.Queue
}

// Reconciler owns the event subscriptions of one session.
type Reconciler struct {
	deps Deps
	exec *Executor
	subs []network.Subscription
}

// New creates a Reconciler. Bind must be called to start consuming events.
func New(deps Deps) *Reconciler {
	return &Reconciler{
		deps: deps,
		exec: NewExecutor(),
	}
}

// Bind subscribes to every engine stream. Subscriptions stay live until
// Close.
func (r *Reconciler) Bind() {
	ev := r.deps.Events
	r.subs = []network.Subscription{
		ev.SubscribeRequests(r.onRequest),
		ev.SubscribeRequestsSent(r.onRequestSent),
		ev.SubscribeConfirmations(r.onConfirmation),
		ev.SubscribeResets(r.onReset),
		ev.SubscribeMessages(r.onMessage),
		ev.SubscribeNetwork(r.onNetwork),
		ev.SubscribeGroupRequests(r.onGroupRequest),
		ev.SubscribeBackup(r.onBackup),
		ev.SubscribeTransfers(r.onTransfer),
	}

	logrus.WithFields(logrus.Fields{
		"function": "Bind",
		"streams":  len(r.subs),
	}).Info("Event reconciler bound")
}

// Close cancels every subscription and abandons pending work without
// blocking.
func (r *Reconciler) Close() {
	for _, sub := range r.subs {
		sub.Cancel()
	}
	r.subs = nil
	r.exec.Close()

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Event reconciler closed")
}

// onRequest handles an incoming contact request: unknown or stranger
// contacts go through external verification; anything further along is a
// duplicate and is suppressed.
func (r *Reconciler) onRequest(contact store.Contact) {
	r.exec.Submit(contact.ID, func() {
		existing, err := r.deps.Store.FetchContacts(store.ContactQuery{ID: [][]byte{contact.ID}})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "onRequest",
				"error":    err.Error(),
			}).Warn("Contact lookup failed, dropping request event")
			return
		}

		if len(existing) > 0 && existing[0].AuthStatus != store.AuthStranger {
			logrus.WithFields(logrus.Fields{
				"function":    "onRequest",
				"auth_status": existing[0].AuthStatus,
			}).Debug("Duplicate contact request suppressed")
			return
		}

		verified, err := r.deps.Verifier.Verify(contact)
		if err != nil {
			contact.AuthStatus = store.AuthVerificationFailed
			if _, saveErr := r.deps.Store.SaveContact(contact); saveErr != nil {
				logrus.WithFields(logrus.Fields{
					"function": "onRequest",
					"error":    saveErr.Error(),
				}).Warn("Failed to persist verification failure")
			}

			logrus.WithFields(logrus.Fields{
				"function": "onRequest",
				"error":    err.Error(),
			}).Warn("Contact verification failed")
			return
		}

		if _, err := r.deps.Store.SaveContact(verified); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "onRequest",
				"error":    err.Error(),
			}).Warn("Failed to persist verified contact")
		}
	})
}

// onRequestSent records that an outgoing request left this device.
func (r *Reconciler) onRequestSent(contact store.Contact) {
	r.exec.Submit(contact.ID, func() {
		if _, err := r.deps.Store.SaveContact(contact); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "onRequestSent",
				"error":    err.Error(),
			}).Warn("Failed to persist sent request")
		}
	})
}

// onConfirmation promotes a contact to friend when the peer accepts our
// request. Applying the same confirmation twice is idempotent aside from
// the timestamp refresh.
func (r *Reconciler) onConfirmation(contact store.Contact) {
	r.exec.Submit(contact.ID, func() {
		existing, err := r.deps.Store.FetchContacts(store.ContactQuery{ID: [][]byte{contact.ID}})
		if err != nil || len(existing) == 0 {
			logrus.WithFields(logrus.Fields{
				"function": "onConfirmation",
			}).Debug("Confirmation for unknown contact ignored")
			return
		}

		c := existing[0]
		c.AuthStatus = store.AuthFriend
		c.IsRecent = true
		c.CreatedAt = time.Now()

		if _, err := r.deps.Store.SaveContact(c); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "onConfirmation",
				"error":    err.Error(),
			}).Warn("Failed to persist confirmed contact")
			return
		}

		title := c.Nickname
		if title == "" {
			title = c.Username
		}
		r.deps.Notify.Enqueue(title, "has confirmed your request")
	})
}

// onReset re-establishes trust when a peer restores their contact. No
// re-verification runs; the relationship already existed.
func (r *Reconciler) onReset(contact store.Contact) {
	r.exec.Submit(contact.ID, func() {
		existing, err := r.deps.Store.FetchContacts(store.ContactQuery{ID: [][]byte{contact.ID}})
		if err != nil || len(existing) == 0 {
			return
		}

		c := existing[0]
		c.AuthStatus = store.AuthFriend

		if _, err := r.deps.Store.SaveContact(c); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "onReset",
				"error":    err.Error(),
			}).Warn("Failed to persist reset contact")
		}
	})
}

// onMessage persists an incoming message. The sender, when known and not
// banned, loses its recent flag; the message is stored regardless of the
// contact lookup outcome.
func (r *Reconciler) onMessage(msg store.Message) {
	r.exec.Submit(msg.SenderID, func() {
		contacts, err := r.deps.Store.FetchContacts(store.ContactQuery{ID: [][]byte{msg.SenderID}})
		if err == nil && len(contacts) > 0 && !contacts[0].IsBanned {
			c := contacts[0]
			c.IsRecent = false
			if _, err := r.deps.Store.SaveContact(c); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "onMessage",
					"error":    err.Error(),
				}).Warn("Failed to clear sender recent flag")
			}
		}

		if _, err := r.deps.Store.SaveMessage(msg); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "onMessage",
				"error":    err.Error(),
			}).Warn("Failed to persist incoming message")
		}
	})
}

// onNetwork forwards connectivity changes to the monitor collaborator.
func (r *Reconciler) onNetwork(status network.Status) {
	r.deps.Monitor.Update(status)
}

// onBackup forwards an opaque backup payload to the backup collaborator.
func (r *Reconciler) onBackup(data []byte) {
	r.deps.Backup.UpdateBackup(data)
}

// onGroupRequest materializes a group invite. An already known group id is
// a duplicate and short-circuits before any leader lookup; when abuse
// gating is enabled, invites led by blocked or banned contacts are
// dropped.
func (r *Reconciler) onGroupRequest(req network.GroupRequest) {
	r.exec.Submit(req.Group.ID, func() {
		existing, err := r.deps.Store.FetchGroups(store.GroupQuery{ID: [][]byte{req.Group.ID}})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "onGroupRequest",
				"error":    err.Error(),
			}).Warn("Group lookup failed, dropping request")
			return
		}
		if len(existing) > 0 {
			logrus.WithFields(logrus.Fields{
				"function": "onGroupRequest",
			}).Debug("Duplicate group request suppressed")
			return
		}

		leaders, err := r.deps.Store.FetchContacts(store.ContactQuery{ID: [][]byte{req.Group.LeaderID}})
		if err == nil && len(leaders) > 0 && r.deps.Reporting.Enabled() {
			if leaders[0].IsBlocked || leaders[0].IsBanned {
				logrus.WithFields(logrus.Fields{
					"function": "onGroupRequest",
				}).Info("Group request from blocked or banned leader dropped")
				return
			}
		}

		r.materializeGroup(req)
	})
}

// materializeGroup persists the group, its members, and the welcome
// message carried by the join payload.
func (r *Reconciler) materializeGroup(req network.GroupRequest) {
	group := req.Group
	group.AuthStatus = store.GroupPending

	if _, err := r.deps.Store.SaveGroup(group); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "materializeGroup",
			"error":    err.Error(),
		}).Warn("Failed to persist group")
		return
	}

	members := make([]store.GroupMember, 0, len(req.MemberIDs))
	for _, id := range req.MemberIDs {
		members = append(members, store.GroupMember{GroupID: group.ID, ContactID: id})
	}
	if err := r.deps.Store.SaveGroupMembers(members); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "materializeGroup",
			"error":    err.Error(),
		}).Warn("Failed to persist group members")
	}

	if req.Welcome != "" {
		id := uuid.New()
		welcome := store.Message{
			ID:       id[:],
			SenderID: group.LeaderID,
			Text:     req.Welcome,
			Date:     time.Now(),
			Status:   store.MessageReceived,
		}
		if _, err := r.deps.Store.SaveMessage(welcome); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "materializeGroup",
				"error":    err.Error(),
			}).Warn("Failed to persist welcome message")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "materializeGroup",
		"members":  len(members),
	}).Info("Group materialized")
}

// onTransfer persists a transfer announcement and routes it to the
// transfer handler so a listener gets attached.
func (r *Reconciler) onTransfer(ft store.FileTransfer) {
	r.exec.Submit(ft.ID, func() {
		saved, err := r.deps.Store.SaveFileTransfer(ft)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "onTransfer",
				"error":    err.Error(),
			}).Warn("Failed to persist announced transfer")
			return
		}

		var msg store.Message
		if msgs, err := r.deps.Store.FetchMessages(store.MessageQuery{FileTransferID: [][]byte{saved.ID}}); err == nil && len(msgs) > 0 {
			msg = msgs[0]
		}

		r.deps.Transfers.HandleIncoming(saved, msg)
	})
}
