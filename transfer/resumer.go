// Package transfer re-arms file transfers that were in flight when the
// process last stopped. At session start it pairs every message still
// marked sending or receiving with its transfer record and re-attaches a
// progress listener, so each transfer either runs to completion or is
// marked failed; no message is left in progress with nobody watching.
package transfer

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sessioncore/network"
	"github.com/opd-ai/sessioncore/store"
)

// Client is the slice of the engine the resumer drives.
type Client interface {
	ListenUploadFromTransfer(id []byte, cb network.UploadCallback) error
	ListenDownloadFromTransfer(id []byte, cb network.DownloadCallback) error
	DownloadFileFromTransfer(id []byte) ([]byte, error)
	EndTransferUpload(id []byte) error
}

// Store is the slice of the persistent store the resumer reads and writes.
type Store interface {
	FetchMessages(store.MessageQuery) ([]store.Message, error)
	FetchFileTransfers(store.FileTransferQuery) ([]store.FileTransfer, error)
	SaveMessage(store.Message) (store.Message, error)
	SaveFileTransfer(store.FileTransfer) (store.FileTransfer, error)
}

// pair is one message/transfer couple being watched.
type pair struct {
	message  store.Message
	transfer store.FileTransfer
}

// Resumer re-attaches listeners to unfinished transfers and keeps their
// persisted state current as progress callbacks arrive.
type Resumer struct {
	client Client
	db     Store
	files  *FileStore

	// locks serializes persistence per transfer id; callbacks for
	// different transfers proceed independently.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewResumer creates a Resumer. files may be nil, in which case completed
// download payloads are kept only in the store.
func NewResumer(client Client, db Store, files *FileStore) *Resumer {
	return &Resumer{
		client: client,
		db:     db,
		files:  files,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing writes for one transfer id.
func (r *Resumer) lockFor(id []byte) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := string(id)
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// ResumeUnfinished runs once per session: it re-arms unfinished uploads
// and downloads independently. Messages whose transfer record is missing
// are skipped; messages whose listener cannot be registered are marked
// failed immediately.
func (r *Resumer) ResumeUnfinished() {
	r.resumeUploads()
	r.resumeDownloads()
}

func (r *Resumer) resumeUploads() {
	pairs, err := r.unfinishedPairs(store.MessageSending)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "resumeUploads",
			"error":    err.Error(),
		}).Warn("Failed to query unfinished uploads")
		return
	}

	for _, p := range pairs {
		if err := r.client.ListenUploadFromTransfer(p.transfer.ID, r.uploadCallback(p)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "resumeUploads",
				"transfer_id": p.transfer.ID[:min(8, len(p.transfer.ID))],
				"error":       err.Error(),
			}).Warn("Upload listener registration failed, marking message failed")

			p.message.Status = store.MessageSendingFailed
			if _, err := r.db.SaveMessage(p.message); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "resumeUploads",
					"error":    err.Error(),
				}).Error("Failed to persist failed upload message")
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "resumeUploads",
		"count":    len(pairs),
	}).Info("Unfinished uploads processed")
}

func (r *Resumer) resumeDownloads() {
	pairs, err := r.unfinishedPairs(store.MessageReceiving)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "resumeDownloads",
			"error":    err.Error(),
		}).Warn("Failed to query unfinished downloads")
		return
	}

	for _, p := range pairs {
		if err := r.client.ListenDownloadFromTransfer(p.transfer.ID, r.downloadCallback(p)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "resumeDownloads",
				"transfer_id": p.transfer.ID[:min(8, len(p.transfer.ID))],
				"error":       err.Error(),
			}).Warn("Download listener registration failed, marking message failed")

			p.message.Status = store.MessageReceivingFailed
			if _, err := r.db.SaveMessage(p.message); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "resumeDownloads",
					"error":    err.Error(),
				}).Error("Failed to persist failed download message")
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "resumeDownloads",
		"count":    len(pairs),
	}).Info("Unfinished downloads processed")
}

// unfinishedPairs queries the messages stuck in the given status, fetches
// the transfer records they reference, and pairs them by id. Messages with
// no matching transfer record are orphans and are skipped.
func (r *Resumer) unfinishedPairs(status store.MessageStatus) ([]pair, error) {
	messages, err := r.db.FetchMessages(store.MessageQuery{Status: []store.MessageStatus{status}})
	if err != nil {
		return nil, err
	}

	var ids [][]byte
	for _, m := range messages {
		if len(m.FileTransferID) > 0 {
			ids = append(ids, m.FileTransferID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	transfers, err := r.db.FetchFileTransfers(store.FileTransferQuery{ID: ids})
	if err != nil {
		return nil, err
	}

	var pairs []pair
	for _, m := range messages {
		if len(m.FileTransferID) == 0 {
			continue
		}
		for _, ft := range transfers {
			if bytes.Equal(ft.ID, m.FileTransferID) {
				pairs = append(pairs, pair{message: m, transfer: ft})
				break
			}
		}
	}

	return pairs, nil
}

// uploadCallback builds the progress listener for one unfinished upload.
func (r *Resumer) uploadCallback(p pair) network.UploadCallback {
	return func(completed bool, sent, arrived, total int64, err error) {
		l := r.lockFor(p.transfer.ID)
		l.Lock()
		defer l.Unlock()

		switch {
		case completed:
			p.transfer.Progress = 1.0
			p.message.Status = store.MessageSent

			if endErr := r.client.EndTransferUpload(p.transfer.ID); endErr != nil {
				logrus.WithFields(logrus.Fields{
					"function": "uploadCallback",
					"error":    endErr.Error(),
				}).Warn("Failed to end upload transfer")
			}

			r.persistPair(&p)

		case err != nil:
			p.message.Status = store.MessageSendingFailed
			r.persistPair(&p)

		default:
			if total > 0 {
				p.transfer.Progress = float64(arrived) / float64(total)
			}
			r.persistTransfer(&p)
		}
	}
}

// downloadCallback builds the progress listener for one unfinished
// download. New incoming transfers routed through HandleIncoming use the
// same listener.
func (r *Resumer) downloadCallback(p pair) network.DownloadCallback {
	return func(completed bool, received, total int64, err error) {
		l := r.lockFor(p.transfer.ID)
		l.Lock()
		defer l.Unlock()

		switch {
		case completed:
			p.transfer.Progress = 1.0
			p.message.Status = store.MessageReceived

			if data, dlErr := r.client.DownloadFileFromTransfer(p.transfer.ID); dlErr == nil {
				p.transfer.Data = data
				if r.files != nil {
					if _, storeErr := r.files.Store(data, p.transfer.Name, p.transfer.Type); storeErr != nil {
						logrus.WithFields(logrus.Fields{
							"function": "downloadCallback",
							"error":    storeErr.Error(),
						}).Warn("Failed to store downloaded payload")
					}
				}
			} else {
				logrus.WithFields(logrus.Fields{
					"function": "downloadCallback",
					"error":    dlErr.Error(),
				}).Warn("Failed to fetch completed download payload")
			}

			r.persistPair(&p)

		case err != nil:
			p.message.Status = store.MessageReceivingFailed
			r.persistPair(&p)

		default:
			if total > 0 {
				p.transfer.Progress = float64(received) / float64(total)
			}
			r.persistTransfer(&p)
		}
	}
}

// HandleIncoming attaches a download listener to a transfer announced by
// the engine. The transfer record has already been persisted by the
// reconciler; any message that references it is updated alongside it.
func (r *Resumer) HandleIncoming(ft store.FileTransfer, msg store.Message) {
	p := pair{message: msg, transfer: ft}

	if err := r.client.ListenDownloadFromTransfer(ft.ID, r.downloadCallback(p)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "HandleIncoming",
			"transfer_id": ft.ID[:min(8, len(ft.ID))],
			"error":       err.Error(),
		}).Warn("Incoming transfer listener registration failed")

		if len(msg.ID) > 0 {
			msg.Status = store.MessageReceivingFailed
			if _, saveErr := r.db.SaveMessage(msg); saveErr != nil {
				logrus.WithFields(logrus.Fields{
					"function": "HandleIncoming",
					"error":    saveErr.Error(),
				}).Error("Failed to persist failed incoming message")
			}
		}
	}
}

// persistPair writes both records of a pair. The message is skipped when
// the pair has no backing message (incoming transfer not yet referenced).
func (r *Resumer) persistPair(p *pair) {
	r.persistTransfer(p)
	if len(p.message.ID) == 0 {
		return
	}
	if _, err := r.db.SaveMessage(p.message); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "persistPair",
			"error":    err.Error(),
		}).Error("Failed to persist message")
	}
}

func (r *Resumer) persistTransfer(p *pair) {
	if _, err := r.db.SaveFileTransfer(p.transfer); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "persistTransfer",
			"error":    err.Error(),
		}).Error("Failed to persist file transfer")
	}
}
