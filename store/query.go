package store

// ContactQuery filters contacts. Zero-value fields are ignored; a non-nil
// boolean pointer matches that flag exactly.
type ContactQuery struct {
	ID         [][]byte
	AuthStatus []AuthStatus
	IsRecent   *bool
	IsBlocked  *bool
	IsBanned   *bool
}

// ContactAssignment describes the fields written by BulkUpdateContacts.
// Nil pointers leave the column untouched.
type ContactAssignment struct {
	AuthStatus *AuthStatus
	IsRecent   *bool
}

// MessageQuery filters messages.
type MessageQuery struct {
	ID             [][]byte
	SenderID       [][]byte
	FileTransferID [][]byte
	Status         []MessageStatus
}

// MessageAssignment describes the fields written by BulkUpdateMessages.
type MessageAssignment struct {
	Status *MessageStatus
}

// FileTransferQuery filters file transfers.
type FileTransferQuery struct {
	ID [][]byte
}

// GroupQuery filters groups.
type GroupQuery struct {
	ID         [][]byte
	AuthStatus []GroupAuthStatus
}

// Ptr returns a pointer to v. It keeps assignment literals compact.
func Ptr[T any](v T) *T { return &v }
