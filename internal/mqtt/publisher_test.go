package mqtt

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"

	"github.com/dj-oyu/livecam-uploader/internal/config"
	"github.com/dj-oyu/livecam-uploader/internal/metrics"
	"github.com/dj-oyu/livecam-uploader/internal/uploader"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	open         bool
	connectToken paho.Token
	publishToken paho.Token
	published    []published
	subscribed   map[string]paho.MessageHandler
	disconnected bool
}

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectToken == nil {
		c.open = true
		return completedToken(nil)
	}
	return c.connectToken
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.disconnected = true
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic, qos, retained, payload.([]byte)})
	if c.publishToken != nil {
		return c.publishToken
	}
	return completedToken(nil)
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed == nil {
		c.subscribed = make(map[string]paho.MessageHandler)
	}
	c.subscribed[topic] = cb
	return completedToken(nil)
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subscribed, t)
	}
	return completedToken(nil)
}

func testConfig() config.MQTTConfig {
	cfg := config.Default().MQTT
	cfg.Enabled = true
	cfg.PublishTimeout = time.Second
	cfg.ConnectTimeout = time.Second
	return cfg
}

func testPayload() uploader.Payload {
	return uploader.Payload{
		ID:       "id",
		JPEG:     []byte{0xff, 0xd8, 0xff, 0xd9},
		FrameNum: 7,
		Captured: time.Unix(1700000000, 5),
		Width:    10,
		Height:   20,
	}
}

func TestSendRawPublishesJPEG(t *testing.T) {
	fc := &fakeClient{}
	m := metrics.New()
	p := newWithClient(testConfig(), fc, m)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	res := p.Send(context.Background(), testPayload())
	if !res.OK() {
		t.Fatalf("Send: %v", res.Err)
	}
	want := []published{{topic: "stream/detection", qos: 1, retained: false, payload: testPayload().JPEG}}
	if diff := cmp.Diff(want, fc.published, cmp.AllowUnexported(published{})); diff != "" {
		t.Fatalf("published mismatch (-want +got):\n%s", diff)
	}
	if m.MQTTPublished.Load() != 1 {
		t.Fatalf("published counter = %d", m.MQTTPublished.Load())
	}
}

func TestSendEnvelope(t *testing.T) {
	fc := &fakeClient{}
	cfg := testConfig()
	cfg.Format = config.FormatEnvelope
	p := newWithClient(cfg, fc, nil)
	p.Connect(context.Background())

	if res := p.Send(context.Background(), testPayload()); !res.OK() {
		t.Fatalf("Send: %v", res.Err)
	}
	env, err := DecodeEnvelope(fc.published[0].payload)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	pl := testPayload()
	if env.FrameNum != pl.FrameNum || env.Width != 10 || env.Height != 20 {
		t.Fatalf("envelope = %+v", env)
	}
	if !env.Captured.Equal(pl.Captured) || !bytes.Equal(env.JPEG, pl.JPEG) {
		t.Fatalf("envelope payload mismatch: %+v", env)
	}
}

func TestSendNotConnected(t *testing.T) {
	fc := &fakeClient{}
	m := metrics.New()
	p := newWithClient(testConfig(), fc, m)

	res := p.Send(context.Background(), testPayload())
	if !errors.Is(res.Err, ErrNotConnected) {
		t.Fatalf("Send = %v, want ErrNotConnected", res.Err)
	}
	if len(fc.published) != 0 {
		t.Fatalf("published while disconnected")
	}
	if m.MQTTErrors.Load() != 1 {
		t.Fatalf("error counter = %d", m.MQTTErrors.Load())
	}
}

func TestSendTimeout(t *testing.T) {
	fc := &fakeClient{publishToken: pendingToken()}
	cfg := testConfig()
	cfg.PublishTimeout = 20 * time.Millisecond
	p := newWithClient(cfg, fc, nil)
	p.Connect(context.Background())

	res := p.Send(context.Background(), testPayload())
	if !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("Send = %v, want ErrTimeout", res.Err)
	}
}

func TestConnectTimeout(t *testing.T) {
	fc := &fakeClient{connectToken: pendingToken()}
	cfg := testConfig()
	cfg.ConnectTimeout = 20 * time.Millisecond
	p := newWithClient(cfg, fc, nil)
	if err := p.Connect(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Connect = %v, want ErrTimeout", err)
	}
	if p.Connected() {
		t.Fatalf("connected after timeout")
	}
}

func TestConnectionLostAndRestored(t *testing.T) {
	fc := &fakeClient{}
	p := newWithClient(testConfig(), fc, nil)
	p.Connect(context.Background())

	p.onConnectionLost(errors.New("eof"))
	if res := p.Send(context.Background(), testPayload()); !errors.Is(res.Err, ErrNotConnected) {
		t.Fatalf("Send after loss = %v", res.Err)
	}
	p.onConnect()
	if res := p.Send(context.Background(), testPayload()); !res.OK() {
		t.Fatalf("Send after reconnect = %v", res.Err)
	}
}

func TestSubscribeAndDisconnect(t *testing.T) {
	fc := &fakeClient{}
	p := newWithClient(testConfig(), fc, nil)
	p.Connect(context.Background())

	if err := p.Subscribe(context.Background(), "stream/control", 1, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, ok := fc.subscribed["stream/control"]; !ok {
		t.Fatalf("subscription not registered")
	}
	if err := p.Unsubscribe(context.Background(), "stream/control"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if _, ok := fc.subscribed["stream/control"]; ok {
		t.Fatalf("subscription not removed")
	}

	p.Disconnect()
	if !fc.disconnected || p.Connected() {
		t.Fatalf("Disconnect did not close the client")
	}
}

func TestBrokerURL(t *testing.T) {
	if got := brokerURL("localhost:1883"); got != "tcp://localhost:1883" {
		t.Fatalf("brokerURL = %q", got)
	}
	if got := brokerURL("ssl://broker:8883"); got != "ssl://broker:8883" {
		t.Fatalf("brokerURL = %q", got)
	}
}

func TestDecodeEnvelopeRejectsTruncated(t *testing.T) {
	b := EncodeEnvelope(Envelope{FrameNum: 1, Width: 2, Height: 3, JPEG: []byte("abcdef")})
	if _, err := DecodeEnvelope(b[:len(b)-2]); err == nil {
		t.Fatalf("expected error for truncated envelope")
	}
}
