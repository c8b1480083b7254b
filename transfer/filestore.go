package transfer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// ErrDirectoryTraversal indicates a transfer name that attempts to escape
// the storage directory.
var ErrDirectoryTraversal = errors.New("transfer: name contains directory traversal")

// FileStore persists completed download payloads under a single directory.
// File names are derived from the payload digest so repeated deliveries of
// the same transfer are idempotent.
type FileStore struct {
	dir string
}

// NewFileStore creates the storage directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create file storage directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// sanitizeName rejects names that resolve outside the storage directory.
func sanitizeName(name string) (string, error) {
	cleaned := filepath.Clean(name)
	if strings.Contains(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", ErrDirectoryTraversal
	}
	return filepath.Base(cleaned), nil
}

// Store writes data for a completed transfer and returns the path written.
func (fs *FileStore) Store(data []byte, name, fileType string) (string, error) {
	base, err := sanitizeName(name)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Store",
			"file_name": name,
			"error":     err.Error(),
		}).Error("Rejected unsafe transfer name")
		return "", err
	}

	digest := blake2b.Sum256(data)
	fileName := hex.EncodeToString(digest[:8]) + "-" + base
	if fileType != "" && !strings.HasSuffix(fileName, "."+fileType) {
		fileName += "." + fileType
	}

	path := filepath.Join(fs.dir, fileName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to store transfer payload: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Store",
		"path":     path,
		"size":     len(data),
	}).Debug("Stored transfer payload")

	return path, nil
}
