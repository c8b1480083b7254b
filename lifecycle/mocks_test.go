package lifecycle

import (
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/sessioncore/store"
)

// mockNetwork records lifecycle calls against the engine.
type mockNetwork struct {
	mu           sync.Mutex
	stopCalls    int
	stopErr      error
	startCalls   int
	startErr     error
	running      bool
	startTimeout time.Duration
}

func (m *mockNetwork) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	return m.stopErr
}

func (m *mockNetwork) HasRunningProcesses() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *mockNetwork) StartNetworkFollower(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls++
	m.startTimeout = timeout
	return m.startErr
}

func (m *mockNetwork) setRunning(v bool) {
	m.mu.Lock()
	m.running = v
	m.mu.Unlock()
}

func (m *mockNetwork) counts() (stops, starts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls, m.startCalls
}

// mockMessageStore records bulk updates.
type mockMessageStore struct {
	mu      sync.Mutex
	calls   int
	queries []store.MessageQuery
	err     error
}

func (m *mockMessageStore) BulkUpdateMessages(q store.MessageQuery, a store.MessageAssignment) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.queries = append(m.queries, q)
	if m.err != nil {
		return 0, m.err
	}
	return 1, nil
}

func (m *mockMessageStore) bulkCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockGrant hands out mockTokens with a scripted budget sequence.
type mockGrant struct {
	mu     sync.Mutex
	tokens []*mockToken
	script []time.Duration
}

func (g *mockGrant) Begin(name string) GrantToken {
	g.mu.Lock()
	defer g.mu.Unlock()
	tok := &mockToken{script: g.script, name: name}
	g.tokens = append(g.tokens, tok)
	return tok
}

// mockToken replays its script: each TimeRemaining call consumes one
// entry, the last entry repeats once exhausted.
type mockToken struct {
	mu     sync.Mutex
	script []time.Duration
	reads  int
	ended  int
	name   string
}

func (t *mockToken) TimeRemaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.reads
	if i >= len(t.script) {
		i = len(t.script) - 1
	}
	t.reads++
	return t.script[i]
}

func (t *mockToken) End() {
	t.mu.Lock()
	t.ended++
	t.mu.Unlock()
}

func (t *mockToken) endCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

var errStopBroken = errors.New("stop broken")
