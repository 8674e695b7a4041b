package mqtt

import (
	"fmt"
	"strconv"
	"time"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/metrics"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pion/logging"
)

// Connection constants.
const (
	// DefaultConnectTimeout is the maximum time to wait for the initial
	// connection.
	DefaultConnectTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time paho may spend flushing pending
	// publishes on Close, in milliseconds.
	defaultDisconnectQuiesce = 250

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	// metricsComponent labels the bridge in the shared counters.
	metricsComponent = "mqtt-bridge"
)

// Status payloads published on Topics.Status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Client is the subset of pahomqtt.Client the bridge uses.
type Client interface {
	Connect() pahomqtt.Token
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

var _ Client = pahomqtt.Client(nil)

// Config configures a Bridge.
type Config struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker string

	// ClientID identifies the bridge to the broker (default: "mapper-" plus
	// the process start time).
	ClientID string

	// Username and Password authenticate the bridge, if set.
	Username string
	Password string

	// TopicPrefix is the root of all topics (default: "mapper").
	TopicPrefix string

	// QoS for every publish (0, 1 or 2).
	QoS byte

	// ConnectTimeout bounds the initial connection (default: 10s).
	ConnectTimeout time.Duration

	// Client overrides the paho client built from the fields above. Tests
	// use it to capture publishes.
	Client Client

	// Metrics, if set, counts published and dropped messages.
	Metrics *metrics.Metrics

	// LoggerFactory for bridge logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Broker == "" && c.Client == nil {
		return fmt.Errorf("%w: broker URL required", ErrInvalidConfig)
	}
	if c.QoS > maxQoS {
		return fmt.Errorf("%w: QoS %d", ErrInvalidConfig, c.QoS)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("%w: negative connect timeout", ErrInvalidConfig)
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "mapper-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

// Bridge publishes database changes as retained MQTT messages.
type Bridge struct {
	config  Config
	client  Client
	topics  Topics
	log     logging.LeveledLogger
	metrics *metrics.Metrics

	db  *db.Database
	ids [4]db.CallbackID
}

// New connects to the broker and announces the bridge as online.
func New(config Config) (*Bridge, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	b := &Bridge{
		config:  config,
		client:  config.Client,
		topics:  Topics{Prefix: config.TopicPrefix},
		metrics: config.Metrics,
	}
	if config.LoggerFactory != nil {
		b.log = config.LoggerFactory.NewLogger("mqtt-bridge")
	}
	if b.client == nil {
		b.client = pahomqtt.NewClient(b.clientOptions())
	}

	tok := b.client.Connect()
	if !tok.WaitTimeout(config.ConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, config.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if b.log != nil {
		b.log.Infof("Connected to %s as %s", config.Broker, config.ClientID)
	}
	b.publish(b.topics.Status(), []byte(StatusOnline))
	return b, nil
}

func (b *Bridge) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(b.config.Broker)
	opts.SetClientID(b.config.ClientID)
	if b.config.Username != "" {
		opts.SetUsername(b.config.Username)
		opts.SetPassword(b.config.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(b.config.ConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	// The broker marks the bridge offline if it disappears without Close.
	opts.SetWill(b.topics.Status(), StatusOffline, b.config.QoS, true)

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if b.log != nil {
			b.log.Warnf("Connection lost: %v", err)
		}
	})
	return opts
}

// Topics returns the topic builder of the bridge.
func (b *Bridge) Topics() Topics { return b.topics }

// Attach mirrors d: records already in it are published right away and
// later changes follow through callbacks.
func (b *Bridge) Attach(d *db.Database) error {
	if b.db != nil {
		return ErrAlreadyAttached
	}
	b.db = d
	b.ids = [4]db.CallbackID{
		d.AddDeviceCallback(b.onDevice),
		d.AddSignalCallback(b.onSignal),
		d.AddLinkCallback(b.onLink),
		d.AddMappingCallback(b.onMapping),
	}

	for rec := range d.AllDevices() {
		b.onDevice(rec, db.ActionNew)
	}
	for rec := range d.AllInputs() {
		b.onSignal(rec, db.ActionNew)
	}
	for rec := range d.AllOutputs() {
		b.onSignal(rec, db.ActionNew)
	}
	for rec := range d.AllLinks() {
		b.onLink(rec, db.ActionNew)
	}
	for rec := range d.AllMappings() {
		b.onMapping(rec, db.ActionNew)
	}
	return nil
}

// Detach stops mirroring. Retained topics are left in place.
func (b *Bridge) Detach() {
	if b.db == nil {
		return
	}
	b.db.RemoveDeviceCallback(b.ids[0])
	b.db.RemoveSignalCallback(b.ids[1])
	b.db.RemoveLinkCallback(b.ids[2])
	b.db.RemoveMappingCallback(b.ids[3])
	b.db = nil
}

// Close detaches, announces the bridge as offline and disconnects.
func (b *Bridge) Close() error {
	b.Detach()
	if b.client.IsConnectionOpen() {
		tok := b.client.Publish(b.topics.Status(), b.config.QoS, true, []byte(StatusOffline))
		tok.WaitTimeout(time.Second)
	}
	b.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

func (b *Bridge) onDevice(rec *db.DeviceRecord, action db.Action) {
	b.mirror(b.topics.Device(rec.Name), action, func() ([]byte, error) { return encodeDevice(rec) })
}

func (b *Bridge) onSignal(rec *db.SignalRecord, action db.Action) {
	b.mirror(b.topics.Signal(rec.DeviceName, rec.Name), action, func() ([]byte, error) { return encodeSignal(rec) })
}

func (b *Bridge) onLink(rec *db.LinkRecord, action db.Action) {
	b.mirror(b.topics.Link(rec.SrcName, rec.DestName), action, func() ([]byte, error) { return encodeLink(rec) })
}

func (b *Bridge) onMapping(rec *db.MappingRecord, action db.Action) {
	b.mirror(b.topics.Mapping(rec.ID), action, func() ([]byte, error) { return encodeMapping(rec) })
}

// mirror publishes the encoded record, or an empty retained message to
// clear the topic when the record is removed.
func (b *Bridge) mirror(topic string, action db.Action, encode func() ([]byte, error)) {
	payload := []byte{}
	if action != db.ActionRemove {
		var err error
		if payload, err = encode(); err != nil {
			if b.log != nil {
				b.log.Errorf("Encoding %s: %v", topic, err)
			}
			b.metrics.MessageDropped(metricsComponent, metrics.ReasonMalformed)
			return
		}
	}
	b.publish(topic, payload)
}

// publish sends a retained message without waiting for the broker. Errors
// that paho reports synchronously are logged and counted.
func (b *Bridge) publish(topic string, payload []byte) {
	if !b.client.IsConnectionOpen() {
		if b.log != nil {
			b.log.Debugf("Dropping %s: %v", topic, ErrNotConnected)
		}
		b.metrics.MessageDropped(metricsComponent, metrics.ReasonSendFailed)
		return
	}
	tok := b.client.Publish(topic, b.config.QoS, true, payload)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			if b.log != nil {
				b.log.Warnf("Publishing %s: %v", topic, err)
			}
			b.metrics.MessageDropped(metricsComponent, metrics.ReasonSendFailed)
			return
		}
	default:
	}
	b.metrics.MessagesSent(metricsComponent, 1)
}

func hexID(id uint64) string {
	return fmt.Sprintf("%016x", id)
}
