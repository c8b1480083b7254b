// Package network defines the surface of the secure-messaging engine this
// module orchestrates. The engine itself (key agreement, wire protocol,
// message routing) lives in an external library; everything here is the
// narrow interface the session layer consumes, plus the event types its
// streams deliver.
package network

import (
	"time"

	"github.com/opd-ai/sessioncore/store"
)

// Status is the engine-reported connectivity state.
type Status uint8

const (
	// StatusUnknown indicates connectivity has not been determined yet.
	StatusUnknown Status = iota
	// StatusAvailable indicates the network is reachable.
	StatusAvailable
	// StatusUnavailable indicates the network is unreachable.
	StatusUnavailable
)

// DownloadCallback receives progress for an incoming transfer. When
// completed is true the payload can be fetched with
// DownloadFileFromTransfer. A non-nil err with completed false is terminal.
type DownloadCallback func(completed bool, received, total int64, err error)

// UploadCallback receives progress for an outgoing transfer. arrived counts
// bytes confirmed by the recipient side; sent counts bytes handed to the
// network.
type UploadCallback func(completed bool, sent, arrived, total int64, err error)

// GroupRequest is delivered when a peer invites the local user to a group.
type GroupRequest struct {
	Group     store.Group
	MemberIDs [][]byte
	Welcome   string
}

// Subscription is a handle to one live event stream subscription. Cancel
// stops delivery; it is safe to call more than once.
type Subscription interface {
	Cancel()
}

// Events exposes the engine's push streams. Each stream is unbounded and
// long-lived, with a single subscriber; delivery order is preserved per
// stream.
type Events interface {
	SubscribeRequests(func(store.Contact)) Subscription
	SubscribeRequestsSent(func(store.Contact)) Subscription
	SubscribeConfirmations(func(store.Contact)) Subscription
	SubscribeResets(func(store.Contact)) Subscription
	SubscribeMessages(func(store.Message)) Subscription
	SubscribeNetwork(func(Status)) Subscription
	SubscribeGroupRequests(func(GroupRequest)) Subscription
	SubscribeBackup(func([]byte)) Subscription
	SubscribeTransfers(func(store.FileTransfer)) Subscription
}

// Client is the engine handle owned by a session for its lifetime.
type Client interface {
	Events

	// Start brings up the network follower.
	Start() error
	// Stop requests an orderly shutdown of the network follower.
	Stop() error
	// HasRunningProcesses reports whether engine goroutines are still
	// winding down. Safe to poll repeatedly while Stop is in flight.
	HasRunningProcesses() bool
	// StartNetworkFollower restarts the follower after a Stop, bounded by
	// the given timeout.
	StartNetworkFollower(timeout time.Duration) error

	// SelfID returns the local user's opaque identity key.
	SelfID() []byte
	// SelfMarshaled returns the local user's serialized identity blob.
	SelfMarshaled() []byte
	// ReplayRequests asks the engine to re-deliver contact requests that
	// arrived while the client was offline.
	ReplayRequests()
	// DeleteAccount permanently removes the account's registered facts
	// from user discovery. Called before the follower is stopped during
	// account deletion.
	DeleteAccount(username string) error
	// RestoreContacts asks the engine to re-establish relationships with
	// the given contact ids after a restore from backup.
	RestoreContacts(contactIDs []byte) error

	// ListenUploadFromTransfer attaches cb to the outgoing transfer with
	// the given id. Fails if the engine no longer tracks that id.
	ListenUploadFromTransfer(id []byte, cb UploadCallback) error
	// ListenDownloadFromTransfer attaches cb to the incoming transfer with
	// the given id. Fails if the engine no longer tracks that id.
	ListenDownloadFromTransfer(id []byte, cb DownloadCallback) error
	// DownloadFileFromTransfer returns the payload of a completed download.
	DownloadFileFromTransfer(id []byte) ([]byte, error)
	// EndTransferUpload releases engine resources held by a finished upload.
	EndTransferUpload(id []byte) error

	// Backup hooks.
	InitializeBackup(passphrase string)
	ResumeBackup()
	StopListeningBackup()
	AddBackupJSON(params string)
}

// Verifier runs the external fact-verification step for an incoming
// contact request and reports the advanced contact on success.
type Verifier interface {
	Verify(contact store.Contact) (store.Contact, error)
}

// Monitor receives connectivity updates from the engine's network stream.
type Monitor interface {
	Start()
	Update(Status)
	// FirstAvailable invokes fn once, the first time the network becomes
	// reachable after Start.
	FirstAvailable(fn func())
}
