// Package mqtt publishes accepted frames to an MQTT broker as a second
// upload transport.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/dj-oyu/livecam-uploader/internal/config"
	"github.com/dj-oyu/livecam-uploader/internal/logger"
	"github.com/dj-oyu/livecam-uploader/internal/metrics"
	"github.com/dj-oyu/livecam-uploader/internal/uploader"
)

var (
	ErrNotConnected = errors.New("mqtt not connected")
	ErrTimeout      = errors.New("mqtt operation timed out")
)

const disconnectQuiesceMs = 250

// client is the subset of paho.Client the publisher uses.
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// Publisher is an uploader.Transport that publishes each frame to one topic.
type Publisher struct {
	cfg     config.MQTTConfig
	client  client
	metrics *metrics.Metrics

	connected atomic.Bool
}

// New builds a publisher and its paho client. It does not connect.
func New(cfg config.MQTTConfig, m *metrics.Metrics) *Publisher {
	if cfg.ClientID == "" {
		cfg.ClientID = "livecam-" + uuid.NewString()
	}
	p := &Publisher{cfg: cfg, metrics: m}

	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(paho.Client) { p.onConnect() })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) { p.onConnectionLost(err) })

	p.client = paho.NewClient(opts)
	return p
}

func newWithClient(cfg config.MQTTConfig, c client, m *metrics.Metrics) *Publisher {
	return &Publisher{cfg: cfg, client: c, metrics: m}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func (p *Publisher) onConnect() {
	p.connected.Store(true)
	logger.Info("MQTT", "Connected to %s as %s", p.cfg.Broker, p.cfg.ClientID)
}

func (p *Publisher) onConnectionLost(err error) {
	p.connected.Store(false)
	logger.Warn("MQTT", "Connection to %s lost, reconnecting: %v", p.cfg.Broker, err)
}

// Connect dials the broker and waits up to the connect timeout. On timeout
// the client keeps retrying in the background.
func (p *Publisher) Connect(ctx context.Context) error {
	logger.Info("MQTT", "Connecting to %s", p.cfg.Broker)
	if err := wait(ctx, p.client.Connect(), p.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", p.cfg.Broker, err)
	}
	p.connected.Store(true)
	return nil
}

// Connected reports whether the last known connection state is up.
func (p *Publisher) Connected() bool {
	return p.connected.Load() && p.client.IsConnectionOpen()
}

// Name implements uploader.Transport.
func (p *Publisher) Name() string { return "mqtt" }

// Send implements uploader.Transport.
func (p *Publisher) Send(ctx context.Context, pl uploader.Payload) uploader.Result {
	res := uploader.Result{Transport: p.Name(), Target: p.cfg.Topic}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if !p.Connected() {
		res.Err = ErrNotConnected
		p.countError()
		return res
	}

	payload := pl.JPEG
	if p.cfg.Format == config.FormatEnvelope {
		payload = EncodeEnvelope(Envelope{
			FrameNum: pl.FrameNum,
			Captured: pl.Captured,
			Width:    pl.Width,
			Height:   pl.Height,
			JPEG:     pl.JPEG,
		})
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retained, payload)
	if err := wait(ctx, token, p.cfg.PublishTimeout); err != nil {
		res.Err = fmt.Errorf("publish to %s: %w", p.cfg.Topic, err)
		p.countError()
		return res
	}

	if p.metrics != nil {
		p.metrics.MQTTPublished.Add(1)
	}
	logger.Debug("MQTT", "Published frame %d to %s (%d bytes, qos=%d)", pl.FrameNum, p.cfg.Topic, len(payload), p.cfg.QoS)
	return res
}

func (p *Publisher) countError() {
	if p.metrics != nil {
		p.metrics.MQTTErrors.Add(1)
	}
}

// Subscribe registers fn for messages on topic. A nil fn logs each message.
func (p *Publisher) Subscribe(ctx context.Context, topic string, qos byte, fn func(topic string, payload []byte)) error {
	handler := func(_ paho.Client, msg paho.Message) {
		if fn == nil {
			logger.Info("MQTT", "Received %d bytes on %s", len(msg.Payload()), msg.Topic())
			return
		}
		fn(msg.Topic(), msg.Payload())
	}
	if err := wait(ctx, p.client.Subscribe(topic, qos, handler), p.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	logger.Info("MQTT", "Subscribed to %s", topic)
	return nil
}

// Unsubscribe removes subscriptions.
func (p *Publisher) Unsubscribe(ctx context.Context, topics ...string) error {
	if err := wait(ctx, p.client.Unsubscribe(topics...), p.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("unsubscribe %v: %w", topics, err)
	}
	return nil
}

// Disconnect closes the connection after a short grace period.
func (p *Publisher) Disconnect() {
	if p.client.IsConnectionOpen() {
		p.client.Disconnect(disconnectQuiesceMs)
		logger.Info("MQTT", "Disconnected from %s", p.cfg.Broker)
	}
	p.connected.Store(false)
}

func wait(ctx context.Context, t paho.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return ErrTimeout
	}
}
