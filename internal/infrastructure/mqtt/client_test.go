package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/config"
)

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// startBroker runs an in-process broker for the duration of the test.
func startBroker(t *testing.T) int {
	t.Helper()
	port := freePort(t)

	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("adding auth hook: %v", err)
	}
	tcp := listeners.NewTCP(listeners.Config{
		ID:      "test",
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("adding listener: %v", err)
	}
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(func() { server.Close() })

	waitForPort(t, port)
	return port
}

func waitForPort(t *testing.T, port int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("broker did not start on port %d", port)
}

// testConfig returns a configuration pointing at the test broker.
func testConfig(port int, clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     port,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func connect(t *testing.T, port int, clientID string, opts ...Option) *Client {
	t.Helper()
	c, err := Connect(testConfig(port, clientID), opts...)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// collector records messages received by a handler.
type collector struct {
	mu   sync.Mutex
	msgs map[string][]string
	ch   chan string
}

func newCollector() *collector {
	return &collector{msgs: make(map[string][]string), ch: make(chan string, 64)}
}

func (c *collector) handle(topic string, payload []byte) error {
	c.mu.Lock()
	c.msgs[topic] = append(c.msgs[topic], string(payload))
	c.mu.Unlock()
	c.ch <- topic
	return nil
}

func (c *collector) wait(t *testing.T, topic string) []string {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		got := append([]string(nil), c.msgs[topic]...)
		c.mu.Unlock()
		if len(got) > 0 {
			return got
		}
		select {
		case <-c.ch:
		case <-timeout:
			t.Fatalf("no message on %s", topic)
		}
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	port := startBroker(t)
	client := connect(t, port, "cybro-test")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}
}

func TestConnectRefused(t *testing.T) {
	cfg := testConfig(freePort(t), "cybro-test")

	_, err := Connect(cfg, WithConnectTimeout(2*time.Second))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose(t *testing.T) {
	port := startBroker(t)
	client, err := Connect(testConfig(port, "cybro-test"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on empty client error = %v, want nil", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() on empty client = true")
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	port := startBroker(t)
	client := connect(t, port, "cybro-test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestPublishValidation(t *testing.T) {
	port := startBroker(t)
	client := connect(t, port, "cybro-test")

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "t", []byte("x"), 3, ErrInvalidQoS},
		{"payload too large", "t", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}

	if err := client.Publish("cybro/test/nil", nil, 0, false); err != nil {
		t.Errorf("Publish(nil payload) error = %v", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	port := startBroker(t)
	client := connect(t, port, "cybro-test")
	noop := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v", err)
	}
	if err := client.Subscribe("t", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v", err)
	}
	if err := client.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v", err)
	}
	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v", err)
	}
}

func TestOperationsWhenDisconnected(t *testing.T) {
	port := startBroker(t)
	client, err := Connect(testConfig(port, "cybro-test"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	noop := func(string, []byte) error { return nil }
	if err := client.Publish("t", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := client.Subscribe("t", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := client.Unsubscribe("t"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Message Flow Tests
// =============================================================================

func TestPublishSubscribeRoundtrip(t *testing.T) {
	port := startBroker(t)
	sub := connect(t, port, "cybro-sub")
	pub := connect(t, port, "cybro-pub")

	col := newCollector()
	topics := Topics{}
	if err := sub.Subscribe(topics.BridgeStates("cybro"), 1, col.handle); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription(topics.BridgeStates("cybro")) || sub.SubscriptionCount() != 1 {
		t.Fatal("subscription not tracked")
	}

	stateTopic := topics.BridgeState("cybro", "c1000.scan_time")
	if err := pub.PublishJSON(stateTopic, map[string]any{"available": true, "value": 12}, true); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	got := col.wait(t, stateTopic)
	if got[0] != `{"available":true,"value":12}` {
		t.Errorf("payload = %s", got[0])
	}

	if err := sub.Unsubscribe(topics.BridgeStates("cybro")); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if sub.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Unsubscribe", sub.SubscriptionCount())
	}
}

func TestRetainedMessageDeliveredToLateSubscriber(t *testing.T) {
	port := startBroker(t)
	pub := connect(t, port, "cybro-pub")

	topic := Topics{}.BridgeState("cybro", "c1000.general_error")
	if err := pub.PublishRetained(topic, []byte(`{"available":true,"value":false}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	sub := connect(t, port, "cybro-sub")
	col := newCollector()
	if err := sub.Subscribe(topic, 1, col.handle); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	col.wait(t, topic)
}

func TestWithWill_PublishesOnlineAndOffline(t *testing.T) {
	port := startBroker(t)
	availability := Topics{}.BridgeAvailability("cybro")

	watcher := connect(t, port, "cybro-watch")
	col := newCollector()
	if err := watcher.Subscribe(availability, 1, col.handle); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	bridge, err := Connect(testConfig(port, "cybro-bridge"),
		WithWill(Will{Topic: availability, Payload: "offline", QoS: 1, Retained: true}, "online"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if got := col.wait(t, availability); got[0] != "online" {
		t.Errorf("first availability = %q, want online", got[0])
	}

	bridge.Close()

	deadline := time.After(5 * time.Second)
	for {
		col.mu.Lock()
		msgs := append([]string(nil), col.msgs[availability]...)
		col.mu.Unlock()
		if msgs[len(msgs)-1] == "offline" {
			return
		}
		select {
		case <-col.ch:
		case <-deadline:
			t.Fatalf("availability messages = %v, want trailing offline", msgs)
		}
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

type recordingLogger struct {
	errors atomic.Int32
	warns  atomic.Int32
}

func (l *recordingLogger) Error(string, ...any) { l.errors.Add(1) }
func (l *recordingLogger) Warn(string, ...any)  { l.warns.Add(1) }

func TestHandlerErrorsAndPanicsAreLogged(t *testing.T) {
	port := startBroker(t)
	sub := connect(t, port, "cybro-sub")
	pub := connect(t, port, "cybro-pub")

	logger := &recordingLogger{}
	sub.SetLogger(logger)

	if err := sub.Subscribe("cybro/test/error", 1, func(string, []byte) error {
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := sub.Subscribe("cybro/test/panic", 1, func(string, []byte) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	pub.PublishString("cybro/test/error", "x", 1, false)
	pub.PublishString("cybro/test/panic", "x", 1, false)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if logger.errors.Load() >= 1 && logger.warns.Load() >= 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if logger.warns.Load() < 1 {
		t.Error("handler error was not logged")
	}
	if logger.errors.Load() < 1 {
		t.Error("handler panic was not logged")
	}
	if !sub.IsConnected() {
		t.Error("client disconnected after handler panic")
	}
}

func TestOnConnectCallback(t *testing.T) {
	port := startBroker(t)
	client := connect(t, port, "cybro-test")

	// The initial connect already happened; a callback set now is stored
	// for reconnects and must be safe to replace concurrently.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.SetOnConnect(func() {})
			client.SetOnDisconnect(func(error) {})
		}()
	}
	wg.Wait()
}
