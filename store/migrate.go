package store

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// MigrateLegacy imports contacts and messages from a previous-generation
// database file into dst, then renames the legacy file with a "-backup"
// suffix so the import runs at most once. A missing legacy file is a no-op.
//
// The legacy schema kept contacts keyed by id with a username and a friend
// flag, and messages keyed by id with sender, text, timestamp and a status
// string. Rows that already exist in dst are left untouched.
func MigrateLegacy(legacyPath string, dst *Store, selfID, marshaled []byte) error {
	if _, err := os.Stat(legacyPath); os.IsNotExist(err) {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function":    "MigrateLegacy",
		"legacy_path": legacyPath,
	}).Info("Migrating legacy database")

	legacy, err := sql.Open("sqlite3", legacyPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open legacy database: %w", err)
	}
	defer legacy.Close()

	if err := migrateLegacyContacts(legacy, dst, selfID, marshaled); err != nil {
		return err
	}
	if err := migrateLegacyMessages(legacy, dst); err != nil {
		return err
	}

	backupPath := legacyPath + "-backup"
	if err := os.Rename(legacyPath, backupPath); err != nil {
		return fmt.Errorf("failed to archive legacy database: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "MigrateLegacy",
		"backup_path": backupPath,
	}).Info("Legacy database migrated and archived")

	return nil
}

func migrateLegacyContacts(legacy *sql.DB, dst *Store, selfID, marshaled []byte) error {
	rows, err := legacy.Query("SELECT id, username, nickname, is_friend FROM contacts")
	if err != nil {
		return fmt.Errorf("failed to read legacy contacts: %w", err)
	}
	defer rows.Close()

	migrated := 0
	for rows.Next() {
		var id []byte
		var username, nickname string
		var isFriend bool
		if err := rows.Scan(&id, &username, &nickname, &isFriend); err != nil {
			return err
		}

		existing, err := dst.FetchContacts(ContactQuery{ID: [][]byte{id}})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}

		c := Contact{
			ID:       id,
			Username: username,
			Nickname: nickname,
		}
		if isFriend {
			c.AuthStatus = AuthFriend
		}
		if string(id) == string(selfID) {
			c.AuthStatus = AuthFriend
			c.Marshaled = marshaled
		}

		if _, err := dst.SaveContact(c); err != nil {
			return err
		}
		migrated++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "migrateLegacyContacts",
		"migrated": migrated,
	}).Debug("Legacy contacts migrated")

	return nil
}

func migrateLegacyMessages(legacy *sql.DB, dst *Store) error {
	rows, err := legacy.Query("SELECT id, sender_id, text, timestamp, status FROM messages")
	if err != nil {
		return fmt.Errorf("failed to read legacy messages: %w", err)
	}
	defer rows.Close()

	migrated := 0
	for rows.Next() {
		var id, senderID []byte
		var text, timestamp, status string
		if err := rows.Scan(&id, &senderID, &text, &timestamp, &status); err != nil {
			return err
		}

		existing, err := dst.FetchMessages(MessageQuery{ID: [][]byte{id}})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}

		m := Message{
			ID:       id,
			SenderID: senderID,
			Text:     text,
			Status:   legacyMessageStatus(status),
		}
		m.Date, _ = time.Parse(time.RFC3339, timestamp)

		if _, err := dst.SaveMessage(m); err != nil {
			return err
		}
		migrated++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "migrateLegacyMessages",
		"migrated": migrated,
	}).Debug("Legacy messages migrated")

	return nil
}

// legacyMessageStatus maps the legacy status strings onto the current enum.
// Anything in flight when the old app last ran is treated as failed; the
// process that owned those transfers is long gone.
func legacyMessageStatus(status string) MessageStatus {
	switch status {
	case "sent", "ackn":
		return MessageSent
	case "received":
		return MessageReceived
	case "sending":
		return MessageSendingFailed
	case "receiving":
		return MessageReceivingFailed
	default:
		return MessageReceived
	}
}
