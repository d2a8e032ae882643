package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"backend-convoyhub/internal/shared/apperr"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	ch := make(chan struct{})
	close(ch)
	return &fakeToken{err: err, done: ch}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	payload []byte
}

// fakeBroker embeds mqtt.Client so only the methods the wrapper calls need bodies.
type fakeBroker struct {
	mqtt.Client

	mu           sync.Mutex
	connectErr   error
	connectTok   *fakeToken
	open         bool
	handlers     map[string]mqtt.MessageHandler
	published    []published
	disconnected bool
}

func (f *fakeBroker) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectTok != nil {
		return f.connectTok
	}
	f.open = f.connectErr == nil
	return doneToken(f.connectErr)
}

func (f *fakeBroker) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeBroker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]mqtt.MessageHandler{}
	}
	f.handlers[topic] = cb
	return doneToken(nil)
}

func (f *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.handlers, topic)
	}
	return doneToken(nil)
}

func (f *fakeBroker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, payload: payload.([]byte)})
	return doneToken(nil)
}

func (f *fakeBroker) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.disconnected = true
}

func (f *fakeBroker) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h(f, &fakeMessage{topic: topic, payload: payload})
	}
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

func (f *fakeBroker) wasDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func withBroker(t *testing.T, broker *fakeBroker) {
	t.Helper()
	old := newMQTTClient
	newMQTTClient = func(*mqtt.ClientOptions) mqtt.Client { return broker }
	t.Cleanup(func() { newMQTTClient = old })
}

func TestClientConnectPublishSubscribe(t *testing.T) {
	broker := &fakeBroker{}
	var opts *mqtt.ClientOptions
	old := newMQTTClient
	newMQTTClient = func(o *mqtt.ClientOptions) mqtt.Client {
		opts = o
		return broker
	}
	defer func() { newMQTTClient = old }()

	c := NewClient(Options{BrokerURL: "tcp://broker:1883", MemberID: "self"})
	if err := c.Connect(context.Background(), nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !strings.HasPrefix(opts.ClientID, "convoy_self_") {
		t.Fatalf("unexpected client id %q", opts.ClientID)
	}
	if opts.AutoReconnect {
		t.Fatalf("expected auto reconnect disabled")
	}

	var got []LocationMessage
	if err := c.Subscribe(context.Background(), "ab12cd", func(m LocationMessage) { got = append(got, m) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	peer, _ := json.Marshal(LocationMessage{MemberID: "peer", Latitude: 1, Longitude: 2, Status: "online"})
	self, _ := json.Marshal(LocationMessage{MemberID: "self", Latitude: 3, Longitude: 4, Status: "online"})
	broker.deliver("convoy/AB12CD/location", peer)
	broker.deliver("convoy/AB12CD/location", self)
	broker.deliver("convoy/AB12CD/location", []byte("garbage"))

	if len(got) != 1 || got[0].MemberID != "peer" {
		t.Fatalf("expected only the peer message, got %+v", got)
	}

	if err := c.Publish(context.Background(), "AB12CD", LocationMessage{MemberID: "self", Latitude: 5, Longitude: 6, Status: "online"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(broker.published) != 1 || broker.published[0].topic != "convoy/AB12CD/location" {
		t.Fatalf("unexpected publish %+v", broker.published)
	}

	if err := c.Unsubscribe(context.Background(), "AB12CD"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	c.Close()
	c.Close()
	if !broker.disconnected {
		t.Fatalf("expected disconnect")
	}
	if err := c.Publish(context.Background(), "AB12CD", LocationMessage{MemberID: "self"}); !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("expected transport error after close, got %v", err)
	}
}

func TestClientConnectFailure(t *testing.T) {
	withBroker(t, &fakeBroker{connectErr: errors.New("refused")})

	c := NewClient(Options{BrokerURL: "tcp://broker:1883", MemberID: "self"})
	if err := c.Connect(context.Background(), nil); !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if err := c.Subscribe(context.Background(), "AB12CD", func(LocationMessage) {}); !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestClientConnectionLostCallback(t *testing.T) {
	broker := &fakeBroker{}
	var opts *mqtt.ClientOptions
	old := newMQTTClient
	newMQTTClient = func(o *mqtt.ClientOptions) mqtt.Client {
		opts = o
		return broker
	}
	defer func() { newMQTTClient = old }()

	lost := make(chan error, 1)
	c := NewClient(Options{BrokerURL: "tcp://broker:1883", MemberID: "self"})
	if err := c.Connect(context.Background(), func(err error) { lost <- err }); err != nil {
		t.Fatalf("connect: %v", err)
	}

	opts.OnConnectionLost(broker, errors.New("eof"))
	select {
	case err := <-lost:
		if err == nil || err.Error() != "eof" {
			t.Fatalf("unexpected lost error %v", err)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("expected lost callback")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pending := &fakeToken{done: make(chan struct{})}
	if err := wait(ctx, pending); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestClientConnectFailureDisconnects(t *testing.T) {
	broker := &fakeBroker{connectErr: errors.New("refused")}
	withBroker(t, broker)

	c := NewClient(Options{BrokerURL: "tcp://broker:1883", MemberID: "self"})
	if err := c.Connect(context.Background(), nil); err == nil {
		t.Fatalf("expected connect error")
	}
	if !broker.wasDisconnected() {
		t.Fatalf("failed client was not disconnected")
	}
}

func TestClientConnectCancelledReleasesPendingClient(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	broker := &fakeBroker{connectTok: pending}
	withBroker(t, broker)

	c := NewClient(Options{BrokerURL: "tcp://broker:1883", MemberID: "self"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Connect(ctx, nil)
	if !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	c.Close()
	if broker.wasDisconnected() {
		t.Fatalf("disconnected before the connect attempt finished")
	}

	// The broker accepts the connection after the caller gave up.
	close(pending.done)
	deadline := time.Now().Add(2 * time.Second)
	for !broker.wasDisconnected() {
		if time.Now().After(deadline) {
			t.Fatalf("late connection was never disconnected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
