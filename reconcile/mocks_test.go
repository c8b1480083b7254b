package reconcile

import (
	"errors"
	"sync"

	"github.com/opd-ai/sessioncore/backup"
	"github.com/opd-ai/sessioncore/network"
	"github.com/opd-ai/sessioncore/store"
)

// mockSubscription records cancellation.
type mockSubscription struct {
	mu        sync.Mutex
	cancelled int
}

func (s *mockSubscription) Cancel() {
	s.mu.Lock()
	s.cancelled++
	s.mu.Unlock()
}

func (s *mockSubscription) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// mockEvents hands out subscriptions and lets tests fire events by hand.
type mockEvents struct {
	mu sync.Mutex

	requests      func(store.Contact)
	requestsSent  func(store.Contact)
	confirmations func(store.Contact)
	resets        func(store.Contact)
	messages      func(store.Message)
	networkFn     func(network.Status)
	groupRequests func(network.GroupRequest)
	backupFn      func([]byte)
	transfers     func(store.FileTransfer)

	subs []*mockSubscription
}

func (e *mockEvents) sub() network.Subscription {
	s := &mockSubscription{}
	e.subs = append(e.subs, s)
	return s
}

func (e *mockEvents) SubscribeRequests(fn func(store.Contact)) network.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = fn
	return e.sub()
}

func (e *mockEvents) SubscribeRequestsSent(fn func(store.Contact)) network.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requestsSent = fn
	return e.sub()
}

func (e *mockEvents) SubscribeConfirmations(fn func(store.Contact)) network.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirmations = fn
	return e.sub()
}

func (e *mockEvents) SubscribeResets(fn func(store.Contact)) network.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets = fn
	return e.sub()
}

func (e *mockEvents) SubscribeMessages(fn func(store.Message)) network.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = fn
	return e.sub()
}

func (e *mockEvents) SubscribeNetwork(fn func(network.Status)) network.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.networkFn = fn
	return e.sub()
}

func (e *mockEvents) SubscribeGroupRequests(fn func(network.GroupRequest)) network.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groupRequests = fn
	return e.sub()
}

func (e *mockEvents) SubscribeBackup(fn func([]byte)) network.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backupFn = fn
	return e.sub()
}

func (e *mockEvents) SubscribeTransfers(fn func(store.FileTransfer)) network.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transfers = fn
	return e.sub()
}

// spyStore wraps the real store, counting lookups and recording writes.
type spyStore struct {
	mu    sync.Mutex
	inner *store.Store

	contactFetches int
	groupFetches   int
	savedContacts  []store.Contact
	savedMessages  []store.Message
	savedGroups    []store.Group
	savedMembers   [][]store.GroupMember
	savedTransfers []store.FileTransfer
}

func (s *spyStore) FetchContacts(q store.ContactQuery) ([]store.Contact, error) {
	s.mu.Lock()
	s.contactFetches++
	s.mu.Unlock()
	return s.inner.FetchContacts(q)
}

func (s *spyStore) SaveContact(c store.Contact) (store.Contact, error) {
	saved, err := s.inner.SaveContact(c)
	if err == nil {
		s.mu.Lock()
		s.savedContacts = append(s.savedContacts, saved)
		s.mu.Unlock()
	}
	return saved, err
}

func (s *spyStore) FetchMessages(q store.MessageQuery) ([]store.Message, error) {
	return s.inner.FetchMessages(q)
}

func (s *spyStore) SaveMessage(m store.Message) (store.Message, error) {
	saved, err := s.inner.SaveMessage(m)
	if err == nil {
		s.mu.Lock()
		s.savedMessages = append(s.savedMessages, saved)
		s.mu.Unlock()
	}
	return saved, err
}

func (s *spyStore) SaveFileTransfer(ft store.FileTransfer) (store.FileTransfer, error) {
	saved, err := s.inner.SaveFileTransfer(ft)
	if err == nil {
		s.mu.Lock()
		s.savedTransfers = append(s.savedTransfers, saved)
		s.mu.Unlock()
	}
	return saved, err
}

func (s *spyStore) FetchGroups(q store.GroupQuery) ([]store.Group, error) {
	s.mu.Lock()
	s.groupFetches++
	s.mu.Unlock()
	return s.inner.FetchGroups(q)
}

func (s *spyStore) SaveGroup(g store.Group) (store.Group, error) {
	saved, err := s.inner.SaveGroup(g)
	if err == nil {
		s.mu.Lock()
		s.savedGroups = append(s.savedGroups, saved)
		s.mu.Unlock()
	}
	return saved, err
}

func (s *spyStore) SaveGroupMembers(members []store.GroupMember) error {
	err := s.inner.SaveGroupMembers(members)
	if err == nil {
		s.mu.Lock()
		s.savedMembers = append(s.savedMembers, members)
		s.mu.Unlock()
	}
	return err
}

func (s *spyStore) contactSaves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.savedContacts)
}

func (s *spyStore) fetchCounts() (contacts, groups int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contactFetches, s.groupFetches
}

// mockVerifier advances contacts to verified, or fails when err is set.
type mockVerifier struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (v *mockVerifier) Verify(c store.Contact) (store.Contact, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return store.Contact{}, v.err
	}
	c.AuthStatus = store.AuthVerified
	return c, nil
}

func (v *mockVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// mockMonitor records connectivity updates.
type mockMonitor struct {
	mu      sync.Mutex
	updates []network.Status
}

func (m *mockMonitor) Start() {}

func (m *mockMonitor) FirstAvailable(fn func()) {}

func (m *mockMonitor) Update(s network.Status) {
	m.mu.Lock()
	m.updates = append(m.updates, s)
	m.mu.Unlock()
}

func (m *mockMonitor) updateLog() []network.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]network.Status(nil), m.updates...)
}

// mockBackupService records forwarded payloads.
type mockBackupService struct {
	mu       sync.Mutex
	payloads [][]byte
	feed     chan backup.Settings
}

func (b *mockBackupService) UpdateBackup(data []byte) {
	b.mu.Lock()
	b.payloads = append(b.payloads, data)
	b.mu.Unlock()
}

func (b *mockBackupService) PerformBackupIfAutomaticEnabled() {}

func (b *mockBackupService) SettingsFeed() <-chan backup.Settings {
	return b.feed
}

func (b *mockBackupService) TakePassphrase() (string, bool) {
	return "", false
}

func (b *mockBackupService) payloadLog() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.payloads...)
}

// mockTransfers records routed incoming transfers.
type mockTransfers struct {
	mu    sync.Mutex
	pairs []struct {
		ft  store.FileTransfer
		msg store.Message
	}
}

func (t *mockTransfers) HandleIncoming(ft store.FileTransfer, msg store.Message) {
	t.mu.Lock()
	t.pairs = append(t.pairs, struct {
		ft  store.FileTransfer
		msg store.Message
	}{ft, msg})
	t.mu.Unlock()
}

func (t *mockTransfers) incoming() []struct {
	ft  store.FileTransfer
	msg store.Message
} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]struct {
		ft  store.FileTransfer
		msg store.Message
	}(nil), t.pairs...)
}

// mockReporting is a fixed abuse-gating policy.
type mockReporting struct {
	enabled bool
}

func (r *mockReporting) Enabled() bool { return r.enabled }

var errVerifyBroken = errors.New("verification backend unavailable")
