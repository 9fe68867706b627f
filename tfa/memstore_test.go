package tfa

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/MrEthical07/threemaGW/gateway"
)

type memPending struct {
	mu   sync.Mutex
	reqs map[string]PendingRequest
}

func newMemPending() *memPending { return &memPending{reqs: map[string]PendingRequest{}} }

func (m *memPending) Register(_ context.Context, req PendingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, old := range m.reqs {
		if old.ThreemaID == req.ThreemaID && old.ProviderID == req.ProviderID && old.Type == req.Type {
			delete(m.reqs, id)
		}
	}
	m.reqs[req.RequestID] = req
	return nil
}

func (m *memPending) Find(_ context.Context, threemaID string, t PendingType, providerID string) ([]PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingRequest
	for _, r := range m.reqs {
		if r.ThreemaID == threemaID && r.Type == t && (providerID == "" || r.ProviderID == providerID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memPending) Claim(_ context.Context, req PendingRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reqs[req.RequestID]; !ok {
		return false, nil
	}
	delete(m.reqs, req.RequestID)
	return true, nil
}

func (m *memPending) Unregister(_ context.Context, threemaID, providerID string, t PendingType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.reqs {
		if r.ThreemaID == threemaID && r.ProviderID == providerID && r.Type == t {
			delete(m.reqs, id)
		}
	}
	return nil
}

func (m *memPending) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

type memData struct {
	mu   sync.Mutex
	rows map[string][]byte
}

func newMemData() *memData { return &memData{rows: map[string][]byte{}} }

func memKey(scope Scope, owner, providerID string) string {
	return scope.String() + "/" + owner + "/" + providerID
}

func (m *memData) Load(_ context.Context, scope Scope, owner, providerID string) (*ProviderData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.rows[memKey(scope, owner, providerID)]
	if !ok {
		return nil, ErrNoProviderData
	}
	return DecodeProviderData(raw)
}

func (m *memData) Save(_ context.Context, scope Scope, owner, providerID string, data *ProviderData) error {
	raw, err := EncodeProviderData(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[memKey(scope, owner, providerID)] = raw
	return nil
}

func (m *memData) Update(_ context.Context, scope Scope, owner, providerID string, fn func(*ProviderData) error) (*ProviderData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(scope, owner, providerID)
	raw, ok := m.rows[key]
	if !ok {
		return nil, ErrNoProviderData
	}
	data, err := DecodeProviderData(raw)
	if err != nil {
		return nil, err
	}
	if err := fn(data); err != nil {
		return nil, err
	}
	out, err := EncodeProviderData(data)
	if err != nil {
		return nil, err
	}
	m.rows[key] = out
	return data, nil
}

func (m *memData) Delete(_ context.Context, scope Scope, owner, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, memKey(scope, owner, providerID))
	return nil
}

type sentMessage struct {
	to   string
	text string
	id   gateway.MessageID
}

type fakeSender struct {
	mu   sync.Mutex
	next uint64
	sent []sentMessage
}

func (f *fakeSender) SendText(_ context.Context, to, text string) (gateway.MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	var id gateway.MessageID
	binary.BigEndian.PutUint64(id[:], 0xa1b2c3d400000000+f.next)
	f.sent = append(f.sent, sentMessage{to: to, text: text, id: id})
	return id, nil
}

func (f *fakeSender) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeDecline struct {
	mu       sync.Mutex
	allowed  map[DeclineAction]bool
	banned   []string
	bannedIP []string
	notified []string
}

func (f *fakeDecline) Permitted(_ context.Context, _ string, action DeclineAction) (bool, error) {
	return f.allowed[action], nil
}

func (f *fakeDecline) BanUser(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banned = append(f.banned, userID)
	return nil
}

func (f *fakeDecline) BanIP(_ context.Context, _ string, ip, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bannedIP = append(f.bannedIP, ip)
	return nil
}

func (f *fakeDecline) NotifyUser(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, userID)
	return nil
}

type countingLimiter struct {
	max      int
	failures map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, providerID, userID string) (bool, error) {
	return l.failures[providerID+userID] < l.max, nil
}

func (l *countingLimiter) RecordFailure(_ context.Context, providerID, userID string) error {
	l.failures[providerID+userID]++
	return nil
}

func (l *countingLimiter) Reset(_ context.Context, providerID, userID string) error {
	delete(l.failures, providerID+userID)
	return nil
}

type harness struct {
	clock   *fakeClock
	data    *memData
	pending *memPending
	sender  *fakeSender
	decline *fakeDecline
	deps    Deps
}

func newHarness() *harness {
	h := &harness{
		clock:   newFakeClock(),
		data:    newMemData(),
		pending: newMemPending(),
		sender:  &fakeSender{},
		decline: &fakeDecline{allowed: map[DeclineAction]bool{}},
	}
	h.deps = Deps{
		Data:      h.data,
		Pending:   h.pending,
		Sender:    h.sender,
		Decline:   h.decline,
		GatewayID: "*TESTGW1",
		Now:       h.clock.Now,
	}
	return h
}

func (h *harness) enable(providerID, userID, threemaID string) {
	_ = h.data.Save(context.Background(), ScopeAccount, userID, providerID, &ProviderData{ThreemaID: threemaID, Enabled: true})
}
