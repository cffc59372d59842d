// Package broker implements BrokerClient (spec.md §4.4): a connection to
// a remote MQTT-style broker with an exponential-backoff reconnect loop,
// owned publish/subscribe, and a last-will availability topic.
package broker

import (
	"context"
	"math/rand"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/isic-edge/reader-core/internal/apperr"
	"github.com/isic-edge/reader-core/internal/clock"
	"github.com/isic-edge/reader-core/internal/config"
	"github.com/isic-edge/reader-core/internal/eventbus"
	"github.com/isic-edge/reader-core/internal/logging"
)

// State is the BrokerClient's connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Dialer opens the underlying paho client connection. Production code
// satisfies this with a net.Dial + paho.NewClient adapter; tests supply a
// fake that never touches the network.
type Dialer interface {
	// Dial connects and performs the MQTT CONNECT handshake, returning a
	// ready-to-use client or an error.
	Dial(ctx context.Context, will *paho.WillMessage, username, password string) (PahoClient, error)
}

// PahoClient is the subset of *paho.Client that BrokerClient drives,
// narrowed so tests can substitute a fake.
type PahoClient interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Subscribe(ctx context.Context, s *paho.Subscribe) (*paho.Suback, error)
	Disconnect(d *paho.Disconnect) error
}

// LinkChecker reports whether the underlying network link (e.g. WiFi) is
// up. BrokerClient only transitions to Connecting while the link reports
// up (spec.md §4.4 "while the link is down it stays Disconnected").
type LinkChecker interface {
	LinkUp() bool
}

// Client drives the broker connection state machine. One Tick() call per
// scheduler invocation; no goroutines of its own beyond what the Dialer
// implementation needs internally.
type Client struct {
	bus    *eventbus.Bus
	clock  clock.Clock
	log    logging.Logger
	dialer Dialer
	link   LinkChecker

	cfg config.Broker

	state               State
	client              PahoClient
	consecutiveFailures int
	lastAttemptMs       uint64

	messagesPublished uint64
	messagesFailed    uint64

	baseTopic string
	deviceID  string
	configFn  func() (config.Broker, string)

	subs []*eventbus.Subscription
}

// New constructs a Client bound to cfg. The topic prefix is cached
// immediately. If configFn is non-nil, it is re-consulted and the topic
// prefix rebuilt every time ConfigChanged fires (spec.md §4.4 "Topic
// composition ... rebuilt whenever ConfigChanged alters base_topic or
// device_id").
func New(bus *eventbus.Bus, clk clock.Clock, log logging.Logger, dialer Dialer, link LinkChecker, cfg config.Broker, deviceID string, configFn func() (config.Broker, string)) *Client {
	if log == nil {
		log = logging.Nop{}
	}
	c := &Client{
		bus:       bus,
		clock:     clk,
		log:       log,
		dialer:    dialer,
		link:      link,
		cfg:       cfg,
		state:     Disconnected,
		baseTopic: cfg.BaseTopic,
		deviceID:  deviceID,
		configFn:  configFn,
	}
	if bus != nil {
		if s, err := bus.Subscribe(eventbus.MqttPublishRequest, c.onPublishRequest); err == nil {
			c.subs = append(c.subs, s)
		}
		if s, err := bus.Subscribe(eventbus.ConfigChanged, c.onConfigChanged); err == nil {
			c.subs = append(c.subs, s)
		}
	}
	return c
}

// Close cancels every bus subscription the client registered.
func (c *Client) Close() {
	for _, s := range c.subs {
		s.Cancel()
	}
}

func (c *Client) State() State { return c.state }

// Topic composes base_topic + "/" + device_id + "/" + suffix.
func (c *Client) Topic(suffix string) string {
	return c.baseTopic + "/" + c.deviceID + "/" + suffix
}

func (c *Client) onConfigChanged(eventbus.Event) {
	if c.configFn == nil {
		return
	}
	cfg, deviceID := c.configFn()
	c.UpdateConfig(cfg, deviceID)
}

// UpdateConfig rebuilds the cached topic prefix.
func (c *Client) UpdateConfig(cfg config.Broker, deviceID string) {
	c.cfg = cfg
	c.baseTopic = cfg.BaseTopic
	c.deviceID = deviceID
}

func (c *Client) onPublishRequest(e eventbus.Event) {
	p := e.Payload.(eventbus.MqttPublishRequestPayload)
	_ = c.Publish(p.Topic, p.Payload)
}

// backoffMs implements spec.md §4.4's reconnect formula.
func backoffMs(minMs, maxMs uint32, consecutiveFailures int) uint64 {
	n := consecutiveFailures
	if n > 5 {
		n = 5
	}
	backoff := uint64(minMs) << uint(n)
	if backoff < uint64(minMs) {
		backoff = uint64(minMs)
	}
	if backoff > uint64(maxMs) {
		backoff = uint64(maxMs)
	}
	jitter := uint64(rand.Int63n(int64(backoff/10 + 1)))
	return backoff + jitter
}

// Tick drives connection attempts and liveness. Call once per scheduler
// pass.
func (c *Client) Tick() {
	now := c.clock.MonotonicMs()
	switch c.state {
	case Disconnected, Error:
		c.tryConnect(now)
	case Connecting:
		// Dial is synchronous in this implementation (the paho handshake
		// blocks the calling tick briefly); Connecting is therefore a
		// transient state collapsed within tryConnect. A tick that
		// observes Connecting indicates tryConnect itself is mid-call,
		// which cannot happen on a single-threaded scheduler — present
		// for completeness against the documented state set.
	case Connected:
		// A failed publish does not change state. A link that reports
		// down ends the connection: revert to Disconnected and publish
		// MqttDisconnected.
		if c.link != nil && !c.link.LinkUp() {
			c.state = Disconnected
			c.publish(eventbus.MqttDisconnected, nil)
		}
	}
}

func (c *Client) tryConnect(now uint64) {
	if c.link != nil && !c.link.LinkUp() {
		c.state = Disconnected
		return
	}
	// The very first attempt (no client yet, no failure yet) is made
	// immediately; every later attempt waits out the backoff window.
	firstAttempt := c.client == nil && c.consecutiveFailures == 0
	backoff := backoffMs(c.cfg.BackoffMinMs, c.cfg.BackoffMaxMs, c.consecutiveFailures)
	if !firstAttempt && now-c.lastAttemptMs < backoff {
		return
	}
	c.lastAttemptMs = now
	c.state = Connecting

	var will *paho.WillMessage
	if c.cfg.AvailabilityTopic != "" {
		will = &paho.WillMessage{Topic: c.Topic(c.cfg.AvailabilityTopic), Payload: []byte("offline"), QoS: 1, Retain: true}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := c.dialer.Dial(ctx, will, c.cfg.Username, c.cfg.Password)
	if err != nil {
		c.consecutiveFailures++
		c.state = Error
		c.publish(eventbus.MqttError, eventbus.ErrorPayload{Message: err.Error()})
		return
	}
	c.client = client
	c.consecutiveFailures = 0
	c.state = Connected
	c.publish(eventbus.MqttConnected, nil)
	if c.cfg.AvailabilityTopic != "" {
		_ = c.Publish(c.cfg.AvailabilityTopic, []byte("online"))
	}
}

// Publish is a best-effort transport action (spec.md §4.4 "Publish
// semantics"): the broker's own ack, if any, is not surfaced.
func (c *Client) Publish(suffix string, payload []byte) error {
	if c.state != Connected || c.client == nil {
		c.messagesFailed++
		return apperr.New("broker", apperr.NotReady, "not connected")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.client.Publish(ctx, &paho.Publish{Topic: c.Topic(suffix), Payload: payload, QoS: 0})
	if err != nil {
		c.messagesFailed++
		return apperr.Wrap("broker", apperr.TransportError, "publish failed", err)
	}
	c.messagesPublished++
	return nil
}

// SubscribeTopic subscribes to suffix and arranges for inbound messages
// to surface as Message events; the caller's Dialer-supplied client must
// route received publishes back through OnMessage.
func (c *Client) SubscribeTopic(suffix string) error {
	if c.state != Connected || c.client == nil {
		return apperr.New("broker", apperr.NotReady, "not connected")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	topic := c.Topic(suffix)
	_, err := c.client.Subscribe(ctx, &paho.Subscribe{Subscriptions: []paho.SubscribeOptions{{Topic: topic}}})
	if err != nil {
		return apperr.Wrap("broker", apperr.TransportError, "subscribe failed", err)
	}
	return nil
}

// OnMessage is invoked by the Dialer's inbound-message plumbing for every
// received publish; it republishes as a Message event with no filtering
// at this layer (subscribers match on topic substrings, spec.md §4.4).
func (c *Client) OnMessage(topic string, payload []byte) {
	c.publish(eventbus.MqttMessage, eventbus.MqttMessagePayload{Topic: topic, Payload: payload})
}

// Disconnect gracefully closes the connection, publishing Disconnected
// and reverting to Disconnected lifecycle state.
func (c *Client) Disconnect() {
	if c.state != Connected {
		return
	}
	if c.cfg.AvailabilityTopic != "" {
		_ = c.Publish(c.cfg.AvailabilityTopic, []byte("offline"))
	}
	if c.client != nil {
		_ = c.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}
	c.state = Disconnected
	c.publish(eventbus.MqttDisconnected, nil)
}

// Stats is a point-in-time metrics snapshot.
type Stats struct {
	State               State
	ConsecutiveFailures int
	MessagesPublished   uint64
	MessagesFailed      uint64
}

func (c *Client) Stats() Stats {
	return Stats{State: c.state, ConsecutiveFailures: c.consecutiveFailures, MessagesPublished: c.messagesPublished, MessagesFailed: c.messagesFailed}
}

func (c *Client) publish(kind eventbus.Kind, payload any) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(eventbus.Event{Kind: kind, TimestampMs: c.clock.MonotonicMs(), Payload: payload})
}
