package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-slsdet/internal/infrastructure/config"
)

// These tests need no broker: they exercise validation, option building
// and handler wrapping on an unconnected client.

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "slsdet-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func unconnected() *Client {
	return &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	if unconnected().IsConnected() {
		t.Error("IsConnected() = true for new client")
	}
}

func TestHealthCheck(t *testing.T) {
	c := unconnected()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c := unconnected()
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"too large", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "a/b", []byte("x"), 1, ErrNotConnected},
		{"nil payload disconnected", "a/b", nil, 0, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := unconnected()
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: %v", err)
	}
	if err := c.Subscribe("a/b", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos: %v", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: %v", err)
	}
	if err := c.Subscribe("a/b", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: %v", err)
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("a/b") {
		t.Error("rejected subscription was tracked")
	}

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe empty: %v", err)
	}
	if err := c.Unsubscribe("a/b"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe disconnected: %v", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "det", Password: "pw"}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "slsdet-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "det" || opts.Password != "pw" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.TLSConfig != nil {
		t.Error("TLS configured for plain broker")
	}

	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS min version not set")
	}
}

func TestStatusWill(t *testing.T) {
	w := statusWill("slsdet-test")
	if w.Topic != "graylogic/system/status" {
		t.Errorf("Topic = %q", w.Topic)
	}

	for name, payload := range map[string][]byte{"will": w.Payload, "online": w.Online, "offline": w.Offline} {
		var m map[string]string
		if err := json.Unmarshal(payload, &m); err != nil {
			t.Fatalf("%s payload not JSON: %v", name, err)
		}
		if m["client_id"] != "slsdet-test" {
			t.Errorf("%s client_id = %q", name, m["client_id"])
		}
	}
	if !strings.Contains(string(w.Payload), "unexpected_disconnect") {
		t.Errorf("will payload = %s", w.Payload)
	}
	if !strings.Contains(string(w.Online), `"status":"online"`) {
		t.Errorf("online payload = %s", w.Online)
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestWrapHandler(t *testing.T) {
	c := unconnected()
	log := &recordingLogger{}
	c.SetLogger(log)

	var got string
	c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return nil
	})(nil, fakeMessage{topic: "a/b", payload: []byte("1")})
	if got != "a/b=1" {
		t.Errorf("handler saw %q", got)
	}

	c.wrapHandler(func(string, []byte) error {
		return errors.New("bad payload")
	})(nil, fakeMessage{topic: "a/b"})

	c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})(nil, fakeMessage{topic: "a/b"})

	if len(log.warns) != 1 {
		t.Errorf("warns = %v, want one handler error", log.warns)
	}
	if len(log.errors) != 1 {
		t.Errorf("errors = %v, want one recovered panic", log.errors)
	}
}

func TestCallbacks(t *testing.T) {
	c := unconnected()
	var lost error
	c.SetOnDisconnect(func(err error) { lost = err })
	c.connected = true

	c.handleDisconnect(errors.New("eof"))
	if c.connected {
		t.Error("still connected after handleDisconnect")
	}
	if lost == nil || lost.Error() != "eof" {
		t.Errorf("disconnect callback got %v", lost)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		got, want string
	}{
		{topics.BridgeState("slsdet", "0"), "graylogic/state/slsdet/0"},
		{topics.BridgeCommand("slsdet", "1"), "graylogic/command/slsdet/1"},
		{topics.BridgeCommand("slsdet", "+"), "graylogic/command/slsdet/+"},
		{topics.BridgeAck("slsdet", "1"), "graylogic/ack/slsdet/1"},
		{topics.BridgeRequest("slsdet", "req-1"), "graylogic/request/slsdet/req-1"},
		{topics.BridgeResponse("slsdet", "req-1"), "graylogic/response/slsdet/req-1"},
		{topics.BridgeHealth("slsdet"), "graylogic/health/slsdet"},
		{topics.SystemStatus(), "graylogic/system/status"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

// stubToken is a pahomqtt.Token that either never completes or completes
// with err.
type stubToken struct {
	done chan struct{}
	err  error
}

func (s *stubToken) Wait() bool { <-s.done; return true }

func (s *stubToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (s *stubToken) Done() <-chan struct{} { return s.done }
func (s *stubToken) Error() error          { return s.err }

func TestAwaitToken(t *testing.T) {
	pending := &stubToken{done: make(chan struct{})}
	err := awaitToken(pending, 10*time.Millisecond, ErrPublishFailed)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, ErrPublishFailed) {
		t.Errorf("awaitToken(pending) error = %v, want %v and %v", err, ErrPublishFailed, ErrTimeout)
	}

	cause := errors.New("not authorized")
	failed := &stubToken{done: make(chan struct{}), err: cause}
	close(failed.done)
	err = awaitToken(failed, time.Second, ErrSubscribeFailed)
	if !errors.Is(err, ErrSubscribeFailed) || !errors.Is(err, cause) || errors.Is(err, ErrTimeout) {
		t.Errorf("awaitToken(failed) error = %v, want %v wrapping %v", err, ErrSubscribeFailed, cause)
	}

	ok := &stubToken{done: make(chan struct{})}
	close(ok.done)
	if err := awaitToken(ok, time.Second, ErrUnsubscribeFailed); err != nil {
		t.Errorf("awaitToken(ok) error = %v, want nil", err)
	}
}
