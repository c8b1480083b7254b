package store

import "time"

// AuthStatus represents the trust/handshake stage of a contact relationship.
type AuthStatus uint8

const (
	// AuthStranger indicates no relationship has been established.
	AuthStranger AuthStatus = iota
	// AuthRequested indicates we sent a request to the contact.
	AuthRequested
	// AuthRequesting indicates a request to the contact is being sent.
	AuthRequesting
	// AuthRequestFailed indicates our request could not be sent.
	AuthRequestFailed
	// AuthVerificationInProgress indicates identity verification is running.
	AuthVerificationInProgress
	// AuthVerificationFailed indicates identity verification failed.
	AuthVerificationFailed
	// AuthConfirming indicates a confirmation to the contact is being sent.
	AuthConfirming
	// AuthConfirmationFailed indicates our confirmation could not be sent.
	AuthConfirmationFailed
	// AuthVerified indicates the contact's identity has been verified.
	AuthVerified
	// AuthFriend indicates a fully established relationship.
	AuthFriend
)

// MessageStatus represents the delivery state of a message.
type MessageStatus uint8

const (
	// MessageSending indicates an outbound message still in flight.
	MessageSending MessageStatus = iota
	// MessageSent indicates an outbound message that was delivered.
	MessageSent
	// MessageSendingFailed indicates an outbound message that failed.
	MessageSendingFailed
	// MessageSendingTimedOut indicates an outbound message that timed out.
	MessageSendingTimedOut
	// MessageReceiving indicates an inbound message or attachment still
	// being received.
	MessageReceiving
	// MessageReceived indicates a fully received message.
	MessageReceived
	// MessageReceivingFailed indicates an inbound message that failed.
	MessageReceivingFailed
)

// GroupAuthStatus represents the membership state of a group.
type GroupAuthStatus uint8

const (
	// GroupPending indicates a group invite that has not been acted on.
	GroupPending GroupAuthStatus = iota
	// GroupParticipating indicates an accepted group membership.
	GroupParticipating
	// GroupDeleting indicates a group being torn down.
	GroupDeleting
)

// Contact is a peer identity known to the local user. Exactly one row
// represents the local user itself, keyed by the network client's own id.
type Contact struct {
	ID         []byte
	Username   string
	Nickname   string
	Email      string
	Phone      string
	Marshaled  []byte
	AuthStatus AuthStatus
	IsBlocked  bool
	IsBanned   bool
	IsRecent   bool
	CreatedAt  time.Time
}

// Message is a single chat message, optionally carrying a file transfer.
// A message with a non-empty FileTransferID carries an attachment and its
// status stays within the attachment lifecycle subset.
type Message struct {
	ID             []byte
	SenderID       []byte
	Text           string
	Date           time.Time
	Status         MessageStatus
	FileTransferID []byte
}

// FileTransfer tracks one file upload or download by progress fraction.
// Data is populated only once the transfer completes. The record is owned
// by whichever message references it.
type FileTransfer struct {
	ID       []byte
	Name     string
	Type     string
	Progress float64
	Data     []byte
}

// Group is a group chat created on receipt of a group request event.
type Group struct {
	ID         []byte
	Name       string
	LeaderID   []byte
	AuthStatus GroupAuthStatus
	CreatedAt  time.Time
}

// GroupMember ties a contact to a group.
type GroupMember struct {
	GroupID   []byte
	ContactID []byte
	Username  string
}
