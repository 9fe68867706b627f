package threemaGW

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/box"

	"github.com/MrEthical07/threemaGW/gateway"
	"github.com/MrEthical07/threemaGW/tfa"
)

const (
	testGatewayID   = "*TESTGWY"
	testSecret      = "gateway-secret"
	testAccessToken = "callback-token"
	testUserID      = "u1"
	testThreemaID   = "ECHOECHO"
	testRemoteAddr  = "192.0.2.10"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
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

type staticKeys struct {
	mu    sync.Mutex
	keys  map[string][gateway.KeySize]byte
	calls int
}

func (k *staticKeys) PublicKey(_ context.Context, threemaID string) ([gateway.KeySize]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls++
	key, ok := k.keys[threemaID]
	if !ok {
		return key, errors.New("unknown threema id")
	}
	return key, nil
}

func (k *staticKeys) Calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

type sentMessage struct {
	To string
	ID gateway.MessageID
}

// fakeTransport accepts every box and hands out sequential message ids.
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	next byte
}

func (f *fakeTransport) SendE2E(_ context.Context, to string, _ []byte, _ gateway.Nonce) (gateway.MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := gateway.MessageID{0xaa, 0xbb, 0, 0, 0, 0, 0, f.next}
	f.sent = append(f.sent, sentMessage{To: to, ID: id})
	return id, nil
}

func (f *fakeTransport) Last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("expected an outbound message")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type mockAccounts struct {
	mu          sync.Mutex
	bannedUsers []string
	bannedIPs   []string
	notified    []string
}

func (m *mockAccounts) BanUser(_ context.Context, userID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bannedUsers = append(m.bannedUsers, userID)
	return nil
}

func (m *mockAccounts) BanIP(_ context.Context, ip, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bannedIPs = append(m.bannedIPs, ip)
	return nil
}

func (m *mockAccounts) NotifyUser(_ context.Context, userID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = append(m.notified, userID)
	return nil
}

type mockPermissions struct {
	mu     sync.Mutex
	groups map[string][]string
	calls  int
}

func (m *mockPermissions) UserGroups(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return append([]string(nil), m.groups[userID]...), nil
}

func (m *mockPermissions) set(userID string, groups ...string) {
	m.mu.Lock()
	m.groups[userID] = groups
	m.mu.Unlock()
}

func (m *mockPermissions) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// testPhone is a Threema client that encrypts to the gateway.
type testPhone struct {
	id     string
	public [gateway.KeySize]byte
	crypto *gateway.Crypto
}

type testEnv struct {
	t         *testing.T
	mr        *miniredis.Miniredis
	engine    *Engine
	clock     *testClock
	transport *fakeTransport
	keys      *staticKeys
	phone     *testPhone
	nextID    byte
}

type envOption func(*Builder)

func testConfig(t *testing.T, gatewayPrivate [gateway.KeySize]byte) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Gateway.ID = testGatewayID
	cfg.Gateway.Secret = testSecret
	cfg.Gateway.PrivateKey = gatewayPrivate[:]
	cfg.Callback.AccessToken = testAccessToken
	cfg.Retention.ContentTTL = 24 * time.Hour
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config), opts ...envOption) *testEnv {
	t.Helper()

	gwPublic, gwPrivate, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate gateway key: %v", err)
	}
	phonePublic, phonePrivate, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate phone key: %v", err)
	}

	cfg := testConfig(t, *gwPrivate)
	if mutate != nil {
		mutate(&cfg)
	}

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		t:         t,
		mr:        mr,
		clock:     newTestClock(),
		transport: &fakeTransport{},
		keys:      &staticKeys{keys: map[string][gateway.KeySize]byte{testThreemaID: *phonePublic}},
		phone: &testPhone{
			id:     testThreemaID,
			public: *phonePublic,
			crypto: gateway.NewCrypto(*phonePrivate, &staticKeys{keys: map[string][gateway.KeySize]byte{testGatewayID: *gwPublic}}, nil),
		},
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(quietLogger()).
		WithClock(env.clock.Now).
		WithTransport(env.transport, env.keys, nil)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// callback encrypts msg from the phone and returns a correctly signed
// callback dated at sent.
func (env *testEnv) callback(msg gateway.Message, sent time.Time) CallbackRequest {
	env.t.Helper()
	boxed, nonce, err := env.phone.crypto.Encrypt(context.Background(), testGatewayID, msg)
	if err != nil {
		env.t.Fatalf("encrypt: %v", err)
	}
	env.nextID++
	id := gateway.MessageID{0x10, 0x20, 0x30, 0x40, 0, 0, 0, env.nextID}

	req := CallbackRequest{
		Method:      "POST",
		RemoteAddr:  testRemoteAddr,
		AccessToken: testAccessToken,
		From:        env.phone.id,
		To:          testGatewayID,
		MessageID:   id.String(),
		Date:        strconv.FormatInt(sent.Unix(), 10),
		Nonce:       nonce.String(),
		Box:         hex.EncodeToString(boxed),
	}
	req.MAC = gateway.CallbackMAC(gateway.CallbackFields{
		From:      req.From,
		To:        req.To,
		MessageID: req.MessageID,
		Date:      req.Date,
		Nonce:     req.Nonce,
		Box:       req.Box,
	}, testSecret)
	return req
}

func (env *testEnv) send(msg gateway.Message) (CallbackRequest, CallbackResponse) {
	env.t.Helper()
	req := env.callback(msg, env.clock.Now())
	return req, env.engine.HandleCallback(context.Background(), req)
}

// enable stores an enabled provider record for the test user.
func (env *testEnv) enable(providerID string) {
	env.t.Helper()
	err := env.engine.data.Save(context.Background(), tfa.ScopeAccount, testUserID, providerID, &tfa.ProviderData{
		ThreemaID: testThreemaID,
		Enabled:   true,
	})
	if err != nil {
		env.t.Fatalf("save provider data: %v", err)
	}
}

func (env *testEnv) providerData(providerID string) *tfa.ProviderData {
	env.t.Helper()
	data, err := env.engine.ProviderData(context.Background(), providerID, tfa.Challenge{UserID: testUserID})
	if err != nil {
		env.t.Fatalf("ProviderData: %v", err)
	}
	return data
}

func (env *testEnv) metric(id MetricID) uint64 {
	return env.engine.MetricsSnapshot().Counters[id]
}
