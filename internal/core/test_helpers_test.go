package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/presencebridge/internal/config"
	"github.com/vovakirdan/presencebridge/internal/notify"
	"github.com/vovakirdan/presencebridge/internal/store"
	"github.com/vovakirdan/presencebridge/internal/voice"
)

// fakeClient is a scripted voice.Client.
type fakeClient struct {
	id     string
	self   int64
	events chan voice.Event

	mu          sync.Mutex
	users       []voice.User
	usersFn     func(call int) ([]voice.User, error)
	usersCalls  int
	accounts    []voice.Account
	accountsErr error
	joinErr     error
	joinGate    chan struct{}
	joins       int
	currentCall int
	statusCalls int
	loggedOut   bool
	closed      bool
}

func newFakeClient(id string, self int64, users ...voice.User) *fakeClient {
	return &fakeClient{
		id:     id,
		self:   self,
		events: make(chan voice.Event, 16),
		users:  users,
	}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Self() int64 { return c.self }

func (c *fakeClient) Login(context.Context, voice.Credentials) error { return nil }

func (c *fakeClient) ResolveChannel(_ context.Context, ref string) (voice.Channel, error) {
	return voice.Channel{ID: 9, Path: ref}, nil
}

func (c *fakeClient) JoinChannel(ctx context.Context, _ voice.Channel, _ string) error {
	c.mu.Lock()
	c.joins++
	gate, err := c.joinGate, c.joinErr
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *fakeClient) CurrentChannel(context.Context) (voice.Channel, error) {
	c.mu.Lock()
	c.currentCall++
	c.mu.Unlock()
	return voice.Channel{ID: 1, Path: "/"}, nil
}

func (c *fakeClient) currentChannelCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentCall
}

func (c *fakeClient) OnlineUsers(context.Context) ([]voice.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usersCalls++
	if c.usersFn != nil {
		return c.usersFn(c.usersCalls)
	}
	return append([]voice.User(nil), c.users...), nil
}

func (c *fakeClient) onlineUsersCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usersCalls
}

func (c *fakeClient) Accounts(context.Context) ([]voice.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accounts, c.accountsErr
}

func (c *fakeClient) SetStatus(context.Context, voice.Status) error {
	c.mu.Lock()
	c.statusCalls++
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Logout(context.Context) error {
	c.mu.Lock()
	c.loggedOut = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Events() <-chan voice.Event { return c.events }

func (c *fakeClient) push(ev voice.Event) { c.events <- ev }

func (c *fakeClient) snapshot() (joins, statusCalls int, loggedOut, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joins, c.statusCalls, c.loggedOut, c.closed
}

// fakeDialer hands out clients built by newClient, failing the first
// failFirst attempts.
type fakeDialer struct {
	mu        sync.Mutex
	failFirst int
	attempts  int
	clients   []*fakeClient
	newClient func(n int) *fakeClient
}

func (d *fakeDialer) Dial(context.Context, voice.Target) (voice.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.attempts <= d.failFirst {
		return nil, fmt.Errorf("dial: %w", voice.ErrTransport)
	}
	c := d.newClient(len(d.clients) + 1)
	d.clients = append(d.clients, c)
	return c, nil
}

func (d *fakeDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *fakeDialer) client(t *testing.T, n int) *fakeClient {
	t.Helper()
	waitFor(t, func() bool { return d.dialed() >= n })
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[n-1]
}

// memStore is an in-memory store.Store.
type memStore struct {
	mu   sync.Mutex
	subs map[int64]*store.Settings
}

func newMemStore(settings ...*store.Settings) *memStore {
	s := &memStore{subs: make(map[int64]*store.Settings)}
	for _, st := range settings {
		s.subs[st.SubscriberID] = st.Clone()
	}
	return s
}

func (s *memStore) GetOrCreate(_ context.Context, id int64) (*store.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		s.subs[id] = store.NewSettings(id)
	}
	return s.subs[id].Clone(), nil
}

func (s *memStore) Get(_ context.Context, id int64) (*store.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.subs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st.Clone(), nil
}

func (s *memStore) Update(_ context.Context, settings *store.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[settings.SubscriberID]; !ok {
		return store.ErrNotFound
	}
	s.subs[settings.SubscriberID] = settings.Clone()
	return nil
}

func (s *memStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	return nil
}

func (s *memStore) ListSubscriberIDs(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids, nil
}

func (s *memStore) Close() error { return nil }

type delivery struct {
	subscriber int64
	kind       notify.Kind
	actor      string
	server     string
	silent     bool
}

type recordingDeliverer struct {
	notes  chan delivery
	relays chan string
}

func newRecordingDeliverer() *recordingDeliverer {
	return &recordingDeliverer{
		notes:  make(chan delivery, 32),
		relays: make(chan string, 8),
	}
}

func (d *recordingDeliverer) Notify(_ context.Context, id int64, kind notify.Kind, actor, server string, silent bool) error {
	d.notes <- delivery{subscriber: id, kind: kind, actor: actor, server: server, silent: silent}
	return nil
}

func (d *recordingDeliverer) Relay(_ context.Context, text string) error {
	d.relays <- text
	return nil
}

func (d *recordingDeliverer) mustDelivery(t *testing.T) delivery {
	t.Helper()
	select {
	case n := <-d.notes:
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a notification")
		return delivery{}
	}
}

func (d *recordingDeliverer) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case n := <-d.notes:
		t.Fatalf("unexpected notification: %+v", n)
	case <-time.After(within):
	}
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testServer = config.ServerConfig{
	Key:     "main",
	Name:    "Main",
	URL:     "ws://voice.test/gateway",
	Channel: "/Lobby",
}

func testOptions() Options {
	return Options{
		ReconcileInterval: time.Hour,
		RetryBackoff:      10 * time.Millisecond,
		JoinTimeout:       time.Second,
		RequestTimeout:    time.Second,
		ShutdownTimeout:   100 * time.Millisecond,
		Reconnect: config.ReconnectConfig{
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Factor:       2,
		},
	}
}

func startRouter(t *testing.T, opts Options, st store.Store, d Deliverer, dialer voice.Dialer) *Router {
	t.Helper()

	r := NewRouter(st, d, opts, nil, nil)
	if err := r.AddServer(testServer, dialer); err != nil {
		t.Fatalf("add server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(3 * time.Second):
			t.Errorf("router did not stop")
		}
	})
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func waitStatus(t *testing.T, r *Router, cond func(ServerStatus) bool) ServerStatus {
	t.Helper()

	var last ServerStatus
	waitFor(t, func() bool {
		st, err := r.Server(context.Background(), testServer.Key)
		if err != nil {
			return false
		}
		last = st
		return cond(st)
	})
	return last
}

func finalized(st ServerStatus) bool { return st.Finalized }

func userEvent(kind voice.EventKind, id int64, username string) voice.Event {
	return voice.Event{Kind: kind, User: &voice.User{ID: id, Username: username}}
}
