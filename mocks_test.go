package sessioncore

import (
	"sync"
	"time"

	"github.com/opd-ai/sessioncore/backup"
	"github.com/opd-ai/sessioncore/lifecycle"
	"github.com/opd-ai/sessioncore/network"
	"github.com/opd-ai/sessioncore/store"
)

// mockSubscription is a cancellable no-op stream handle.
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

// mockClient is a full engine stand-in. Event handlers are captured so
// tests can push events; every engine call is recorded.
type mockClient struct {
	mu sync.Mutex

	selfID        []byte
	selfMarshaled []byte

	requests      func(store.Contact)
	confirmations func(store.Contact)
	messages      func(store.Message)

	subs []*mockSubscription

	stopErr     error
	stopCalls   int
	startCalls  int
	runningLeft int

	replayCalls  int
	restoreCalls [][]byte
	restoreErr   error

	deletedAccounts []string
	deleteErr       error

	uploadListeners   map[string]network.UploadCallback
	downloadListeners map[string]network.DownloadCallback

	initialized []string
	resumed     int
	stoppedBk   int
	addedJSON   []string
}

func newMockClient() *mockClient {
	return &mockClient{
		selfID:            []byte("self-id"),
		selfMarshaled:     []byte("self-marshaled"),
		uploadListeners:   make(map[string]network.UploadCallback),
		downloadListeners: make(map[string]network.DownloadCallback),
	}
}

func (c *mockClient) sub() network.Subscription {
	s := &mockSubscription{}
	c.subs = append(c.subs, s)
	return s
}

func (c *mockClient) SubscribeRequests(fn func(store.Contact)) network.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = fn
	return c.sub()
}

func (c *mockClient) SubscribeRequestsSent(fn func(store.Contact)) network.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub()
}

func (c *mockClient) SubscribeConfirmations(fn func(store.Contact)) network.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmations = fn
	return c.sub()
}

func (c *mockClient) SubscribeResets(fn func(store.Contact)) network.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub()
}

func (c *mockClient) SubscribeMessages(fn func(store.Message)) network.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = fn
	return c.sub()
}

func (c *mockClient) SubscribeNetwork(fn func(network.Status)) network.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub()
}

func (c *mockClient) SubscribeGroupRequests(fn func(network.GroupRequest)) network.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub()
}

func (c *mockClient) SubscribeBackup(fn func([]byte)) network.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub()
}

func (c *mockClient) SubscribeTransfers(fn func(store.FileTransfer)) network.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub()
}

func (c *mockClient) Start() error {
	return nil
}

func (c *mockClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCalls++
	return c.stopErr
}

// HasRunningProcesses reports true for the next runningLeft polls.
func (c *mockClient) HasRunningProcesses() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runningLeft > 0 {
		c.runningLeft--
		return true
	}
	return false
}

func (c *mockClient) StartNetworkFollower(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startCalls++
	return nil
}

func (c *mockClient) SelfID() []byte {
	return c.selfID
}

func (c *mockClient) SelfMarshaled() []byte {
	return c.selfMarshaled
}

func (c *mockClient) ReplayRequests() {
	c.mu.Lock()
	c.replayCalls++
	c.mu.Unlock()
}

func (c *mockClient) DeleteAccount(username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletedAccounts = append(c.deletedAccounts, username)
	return c.deleteErr
}

func (c *mockClient) RestoreContacts(contactIDs []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restoreCalls = append(c.restoreCalls, contactIDs)
	return c.restoreErr
}

func (c *mockClient) ListenUploadFromTransfer(id []byte, cb network.UploadCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploadListeners[string(id)] = cb
	return nil
}

func (c *mockClient) ListenDownloadFromTransfer(id []byte, cb network.DownloadCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloadListeners[string(id)] = cb
	return nil
}

func (c *mockClient) DownloadFileFromTransfer(id []byte) ([]byte, error) {
	return nil, nil
}

func (c *mockClient) EndTransferUpload(id []byte) error {
	return nil
}

func (c *mockClient) InitializeBackup(passphrase string) {
	c.mu.Lock()
	c.initialized = append(c.initialized, passphrase)
	c.mu.Unlock()
}

func (c *mockClient) ResumeBackup() {
	c.mu.Lock()
	c.resumed++
	c.mu.Unlock()
}

func (c *mockClient) StopListeningBackup() {
	c.mu.Lock()
	c.stoppedBk++
	c.mu.Unlock()
}

func (c *mockClient) AddBackupJSON(params string) {
	c.mu.Lock()
	c.addedJSON = append(c.addedJSON, params)
	c.mu.Unlock()
}

func (c *mockClient) replayCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replayCalls
}

func (c *mockClient) restoreLog() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.restoreCalls...)
}

func (c *mockClient) backupState() (initialized, addedJSON []string, resumed, stopped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.initialized...),
		append([]string(nil), c.addedJSON...),
		c.resumed, c.stoppedBk
}

func (c *mockClient) uploadListener(id []byte) network.UploadCallback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploadListeners[string(id)]
}

// mockVerifier passes contacts through as verified.
type mockVerifier struct{}

func (mockVerifier) Verify(c store.Contact) (store.Contact, error) {
	c.AuthStatus = store.AuthVerified
	return c, nil
}

// mockMonitor captures the first-available callback for tests to fire.
type mockMonitor struct {
	mu             sync.Mutex
	started        int
	updates        []network.Status
	firstAvailable func()
}

func (m *mockMonitor) Start() {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *mockMonitor) Update(s network.Status) {
	m.mu.Lock()
	m.updates = append(m.updates, s)
	m.mu.Unlock()
}

func (m *mockMonitor) FirstAvailable(fn func()) {
	m.mu.Lock()
	m.firstAvailable = fn
	m.mu.Unlock()
}

func (m *mockMonitor) fireFirstAvailable() {
	m.mu.Lock()
	fn := m.firstAvailable
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// mockBackupService drives the settings feed and holds one passphrase.
type mockBackupService struct {
	mu         sync.Mutex
	feed       chan backup.Settings
	passphrase string
	pending    bool
	performed  int
}

func newMockBackupService() *mockBackupService {
	return &mockBackupService{feed: make(chan backup.Settings, 4)}
}

func (b *mockBackupService) UpdateBackup(data []byte) {}

func (b *mockBackupService) PerformBackupIfAutomaticEnabled() {
	b.mu.Lock()
	b.performed++
	b.mu.Unlock()
}

func (b *mockBackupService) SettingsFeed() <-chan backup.Settings {
	return b.feed
}

func (b *mockBackupService) TakePassphrase() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.pending {
		return "", false
	}
	b.pending = false
	return b.passphrase, true
}

func (b *mockBackupService) setPassphrase(p string) {
	b.mu.Lock()
	b.passphrase = p
	b.pending = true
	b.mu.Unlock()
}

func (b *mockBackupService) performedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.performed
}

// mockReporting is a fixed abuse-gating policy.
type mockReporting struct {
	enabled bool
}

func (r *mockReporting) Enabled() bool { return r.enabled }

// mockGrant issues tokens with a generous fixed budget so lifecycle
// monitoring never interferes with session tests. Issued tokens are kept
// so teardown can be asserted on.
type mockGrant struct {
	mu     sync.Mutex
	tokens []*idleToken
}

func (g *mockGrant) Begin(name string) lifecycle.GrantToken {
	tok := &idleToken{}
	g.mu.Lock()
	g.tokens = append(g.tokens, tok)
	g.mu.Unlock()
	return tok
}

func (g *mockGrant) tokenLog() []*idleToken {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*idleToken(nil), g.tokens...)
}

type idleToken struct {
	mu    sync.Mutex
	ended int
}

func (t *idleToken) TimeRemaining() time.Duration {
	return time.Hour
}

func (t *idleToken) End() {
	t.mu.Lock()
	t.ended++
	t.mu.Unlock()
}

func (t *idleToken) endCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}
