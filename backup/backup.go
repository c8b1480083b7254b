// Package backup carries the glue between the session layer and the
// account backup collaborator: the JSON codecs for backup parameters and
// restore reports, the service interface the session forwards payloads to,
// and the settings-driven enable/disable handling.
package backup

import (
	"encoding/json"
	"fmt"
)

// Params is the facts payload embedded in every backup so a restored
// account knows its registered username, email and phone.
type Params struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Username string `json:"username"`
}

// JSON encodes p for the engine's backup payload.
func (p Params) JSON() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode backup params: %w", err)
	}
	return string(data), nil
}

// Report is the decrypted summary returned when an account is restored
// from a backup file.
type Report struct {
	ContactIDs []string `json:"RestoredContacts"`
	Parameters string   `json:"Params"`
}

// DecodeReport parses the engine-produced restore report.
func DecodeReport(data []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("failed to decode backup report: %w", err)
	}
	return r, nil
}

// DecodeParams parses the facts payload of a restore report. An empty
// payload yields zero Params without error.
func DecodeParams(parameters string) (Params, error) {
	if parameters == "" {
		return Params{}, nil
	}

	var p Params
	if err := json.Unmarshal([]byte(parameters), &p); err != nil {
		return Params{}, fmt.Errorf("failed to decode backup params: %w", err)
	}
	return p, nil
}

// Settings describes the user's backup configuration at a point in time.
type Settings struct {
	// Enabled reports whether any backup destination is configured.
	Enabled bool
}

// Service is the external backup collaborator. It owns destinations,
// scheduling and encryption passphrases; the session only forwards
// payloads and reacts to settings changes.
type Service interface {
	// UpdateBackup hands the collaborator a fresh encrypted backup blob.
	UpdateBackup(data []byte)
	// PerformBackupIfAutomaticEnabled schedules a backup when the user
	// has automatic backups on.
	PerformBackupIfAutomaticEnabled()
	// SettingsFeed delivers a settings snapshot on every change.
	SettingsFeed() <-chan Settings
	// TakePassphrase returns the pending backup passphrase, if any, and
	// clears it. The passphrase is held only until the engine's backup is
	// initialized.
	TakePassphrase() (string, bool)
}
