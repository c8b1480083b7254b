package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrNotFound indicates that a fetch by id matched no rows.
var ErrNotFound = errors.New("store: not found")

// ErrMissingID indicates an attempt to save an entity without an id.
var ErrMissingID = errors.New("store: entity has no id")

// Store is the SQLite-backed persistent store. It is safe for concurrent
// readers; callers serialize writes per entity id where ordering matters.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	return open(path, path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
}

// OpenInMemory opens a private in-memory store, used in tests. Each call
// yields an independent database; the shared cache only ties together the
// pooled connections of this store.
func OpenInMemory() (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1&_busy_timeout=5000", uuid.NewString())
	return open("", dsn)
}

func open(path, dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"path":     path,
	}).Info("Store opened")

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			id BLOB PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			nickname TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			marshaled BLOB,
			auth_status INTEGER NOT NULL DEFAULT 0,
			is_blocked INTEGER NOT NULL DEFAULT 0,
			is_banned INTEGER NOT NULL DEFAULT 0,
			is_recent INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BLOB PRIMARY KEY,
			sender_id BLOB NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL,
			status INTEGER NOT NULL,
			file_transfer_id BLOB
		)`,
		`CREATE TABLE IF NOT EXISTS file_transfers (
			id BLOB PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			progress REAL NOT NULL DEFAULT 0,
			data BLOB
		)`,
		`CREATE TABLE IF NOT EXISTS chat_groups (
			id BLOB PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			leader_id BLOB NOT NULL,
			auth_status INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id BLOB NOT NULL,
			contact_id BLOB NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			UNIQUE(group_id, contact_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_auth ON contacts(auth_status)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// Drop removes all rows and deletes the on-disk database file. Used when
// the account is deleted.
func (s *Store) Drop() error {
	logrus.WithFields(logrus.Fields{
		"function": "Drop",
		"path":     s.path,
	}).Warn("Dropping store")

	for _, table := range []string{"group_members", "chat_groups", "messages", "file_transfers", "contacts"} {
		if _, err := s.conn.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear table %s: %w", table, err)
		}
	}

	if err := s.conn.Close(); err != nil {
		return err
	}

	if s.path != "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove database file: %w", err)
		}
	}

	return nil
}

// placeholders returns "?,?,..." with n slots.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// FetchContacts returns the contacts matching q.
func (s *Store) FetchContacts(q ContactQuery) ([]Contact, error) {
	query := "SELECT id, username, nickname, email, phone, marshaled, auth_status, is_blocked, is_banned, is_recent, created_at FROM contacts"
	where, args := contactWhere(q)
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Username, &c.Nickname, &c.Email, &c.Phone,
			&c.Marshaled, &c.AuthStatus, &c.IsBlocked, &c.IsBanned, &c.IsRecent, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}

func contactWhere(q ContactQuery) (string, []any) {
	var clauses []string
	var args []any

	if len(q.ID) > 0 {
		clauses = append(clauses, "id IN ("+placeholders(len(q.ID))+")")
		for _, id := range q.ID {
			args = append(args, id)
		}
	}
	if len(q.AuthStatus) > 0 {
		clauses = append(clauses, "auth_status IN ("+placeholders(len(q.AuthStatus))+")")
		for _, st := range q.AuthStatus {
			args = append(args, st)
		}
	}
	if q.IsRecent != nil {
		clauses = append(clauses, "is_recent = ?")
		args = append(args, *q.IsRecent)
	}
	if q.IsBlocked != nil {
		clauses = append(clauses, "is_blocked = ?")
		args = append(args, *q.IsBlocked)
	}
	if q.IsBanned != nil {
		clauses = append(clauses, "is_banned = ?")
		args = append(args, *q.IsBanned)
	}

	return strings.Join(clauses, " AND "), args
}

// SaveContact inserts or replaces a contact and returns the stored value.
func (s *Store) SaveContact(c Contact) (Contact, error) {
	if len(c.ID) == 0 {
		return Contact{}, ErrMissingID
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	_, err := s.conn.Exec(
		`INSERT OR REPLACE INTO contacts
		(id, username, nickname, email, phone, marshaled, auth_status, is_blocked, is_banned, is_recent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Username, c.Nickname, c.Email, c.Phone, c.Marshaled,
		c.AuthStatus, c.IsBlocked, c.IsBanned, c.IsRecent, c.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Contact{}, fmt.Errorf("failed to save contact: %w", err)
	}

	return c, nil
}

// BulkUpdateContacts applies a to every contact matching q and returns the
// number of rows changed.
func (s *Store) BulkUpdateContacts(q ContactQuery, a ContactAssignment) (int, error) {
	var sets []string
	var args []any

	if a.AuthStatus != nil {
		sets = append(sets, "auth_status = ?")
		args = append(args, *a.AuthStatus)
	}
	if a.IsRecent != nil {
		sets = append(sets, "is_recent = ?")
		args = append(args, *a.IsRecent)
	}
	if len(sets) == 0 {
		return 0, nil
	}

	query := "UPDATE contacts SET " + strings.Join(sets, ", ")
	where, whereArgs := contactWhere(q)
	if where != "" {
		query += " WHERE " + where
	}
	args = append(args, whereArgs...)

	res, err := s.conn.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update contacts: %w", err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

// FetchMessages returns the messages matching q.
func (s *Store) FetchMessages(q MessageQuery) ([]Message, error) {
	query := "SELECT id, sender_id, text, date, status, file_transfer_id FROM messages"
	where, args := messageWhere(q)
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var date string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Text, &date, &m.Status, &m.FileTransferID); err != nil {
			return nil, err
		}
		m.Date, _ = time.Parse(time.RFC3339Nano, date)
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func messageWhere(q MessageQuery) (string, []any) {
	var clauses []string
	var args []any

	if len(q.ID) > 0 {
		clauses = append(clauses, "id IN ("+placeholders(len(q.ID))+")")
		for _, id := range q.ID {
			args = append(args, id)
		}
	}
	if len(q.SenderID) > 0 {
		clauses = append(clauses, "sender_id IN ("+placeholders(len(q.SenderID))+")")
		for _, id := range q.SenderID {
			args = append(args, id)
		}
	}
	if len(q.FileTransferID) > 0 {
		clauses = append(clauses, "file_transfer_id IN ("+placeholders(len(q.FileTransferID))+")")
		for _, id := range q.FileTransferID {
			args = append(args, id)
		}
	}
	if len(q.Status) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(q.Status))+")")
		for _, st := range q.Status {
			args = append(args, st)
		}
	}

	return strings.Join(clauses, " AND "), args
}

// SaveMessage inserts or replaces a message and returns the stored value.
func (s *Store) SaveMessage(m Message) (Message, error) {
	if len(m.ID) == 0 {
		return Message{}, ErrMissingID
	}
	if m.Date.IsZero() {
		m.Date = time.Now()
	}

	_, err := s.conn.Exec(
		`INSERT OR REPLACE INTO messages (id, sender_id, text, date, status, file_transfer_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, m.Text, m.Date.Format(time.RFC3339Nano), m.Status, m.FileTransferID,
	)
	if err != nil {
		return Message{}, fmt.Errorf("failed to save message: %w", err)
	}

	return m, nil
}

// BulkUpdateMessages applies a to every message matching q and returns the
// number of rows changed.
func (s *Store) BulkUpdateMessages(q MessageQuery, a MessageAssignment) (int, error) {
	if a.Status == nil {
		return 0, nil
	}

	query := "UPDATE messages SET status = ?"
	args := []any{*a.Status}

	where, whereArgs := messageWhere(q)
	if where != "" {
		query += " WHERE " + where
	}
	args = append(args, whereArgs...)

	res, err := s.conn.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update messages: %w", err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

// FetchFileTransfers returns the file transfers matching q.
func (s *Store) FetchFileTransfers(q FileTransferQuery) ([]FileTransfer, error) {
	query := "SELECT id, name, type, progress, data FROM file_transfers"
	var args []any
	if len(q.ID) > 0 {
		query += " WHERE id IN (" + placeholders(len(q.ID)) + ")"
		for _, id := range q.ID {
			args = append(args, id)
		}
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file transfers: %w", err)
	}
	defer rows.Close()

	var transfers []FileTransfer
	for rows.Next() {
		var ft FileTransfer
		if err := rows.Scan(&ft.ID, &ft.Name, &ft.Type, &ft.Progress, &ft.Data); err != nil {
			return nil, err
		}
		transfers = append(transfers, ft)
	}

	return transfers, rows.Err()
}

// SaveFileTransfer inserts or replaces a file transfer record.
func (s *Store) SaveFileTransfer(ft FileTransfer) (FileTransfer, error) {
	if len(ft.ID) == 0 {
		return FileTransfer{}, ErrMissingID
	}

	_, err := s.conn.Exec(
		`INSERT OR REPLACE INTO file_transfers (id, name, type, progress, data)
		VALUES (?, ?, ?, ?, ?)`,
		ft.ID, ft.Name, ft.Type, ft.Progress, ft.Data,
	)
	if err != nil {
		return FileTransfer{}, fmt.Errorf("failed to save file transfer: %w", err)
	}

	return ft, nil
}

// FetchGroups returns the groups matching q.
func (s *Store) FetchGroups(q GroupQuery) ([]Group, error) {
	query := "SELECT id, name, leader_id, auth_status, created_at FROM chat_groups"
	var clauses []string
	var args []any

	if len(q.ID) > 0 {
		clauses = append(clauses, "id IN ("+placeholders(len(q.ID))+")")
		for _, id := range q.ID {
			args = append(args, id)
		}
	}
	if len(q.AuthStatus) > 0 {
		clauses = append(clauses, "auth_status IN ("+placeholders(len(q.AuthStatus))+")")
		for _, st := range q.AuthStatus {
			args = append(args, st)
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		var createdAt string
		if err := rows.Scan(&g.ID, &g.Name, &g.LeaderID, &g.AuthStatus, &createdAt); err != nil {
			return nil, err
		}
		g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// SaveGroup inserts or replaces a group.
func (s *Store) SaveGroup(g Group) (Group, error) {
	if len(g.ID) == 0 {
		return Group{}, ErrMissingID
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}

	_, err := s.conn.Exec(
		`INSERT OR REPLACE INTO chat_groups (id, name, leader_id, auth_status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.LeaderID, g.AuthStatus, g.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Group{}, fmt.Errorf("failed to save group: %w", err)
	}

	return g, nil
}

// SaveGroupMembers inserts the given members, ignoring duplicates.
func (s *Store) SaveGroupMembers(members []GroupMember) error {
	for _, m := range members {
		_, err := s.conn.Exec(
			`INSERT OR IGNORE INTO group_members (group_id, contact_id, username) VALUES (?, ?, ?)`,
			m.GroupID, m.ContactID, m.Username,
		)
		if err != nil {
			return fmt.Errorf("failed to save group member: %w", err)
		}
	}
	return nil
}

// FetchGroupMembers returns the members of the given group.
func (s *Store) FetchGroupMembers(groupID []byte) ([]GroupMember, error) {
	rows, err := s.conn.Query(
		"SELECT group_id, contact_id, username FROM group_members WHERE group_id = ?", groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch group members: %w", err)
	}
	defer rows.Close()

	var members []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.GroupID, &m.ContactID, &m.Username); err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	return members, rows.Err()
}
