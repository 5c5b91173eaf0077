package mqttclient

import (
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// All subscriptions use QoS 2 so the broker holds undelivered messages
// across reconnects and never delivers a frame twice.
const qos = 2

const (
	initialRetryInterval = 4 * time.Second
	maxRetryInterval     = 600 * time.Second
)

// MessageHandler receives every frame on a subscribed topic. The retained
// flag lets the consumer discard broker replays.
type MessageHandler func(topic string, payload []byte, retained bool)

type Client struct {
	conn      mqtt.Client
	connected atomic.Bool
	log       zerolog.Logger
	handler   MessageHandler

	mu     sync.Mutex
	topics []string
}

type Options struct {
	BrokerURL string
	ClientID  string
	Topics    []string
	Username  string
	Password  string
	Keepalive time.Duration
	Log       zerolog.Logger
}

// Connect starts dialing the broker and subscribes to the given topics
// once connected. A broker that is down at boot is not an error: connect
// retries run on the same 4 s to 600 s backoff as reconnects. The client
// id gets a random suffix so several daemons can share a base id without
// evicting each other's session.
func Connect(opts Options) (*Client, error) {
	c := &Client{
		topics: opts.Topics,
		log:    opts.Log.With().Str("component", "mqtt").Logger(),
	}

	c.conn = mqtt.NewClient(newClientOptions(opts, c))
	token := c.conn.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Error().Err(err).Msg("mqtt connect failed")
		}
	}()

	return c, nil
}

// newClientOptions builds the paho option set. Dispatch stays ordered and
// synchronous (the paho default): handlers run one message at a time per
// connection, so readings from one device enter the staging queue in
// publish order, and a full queue stalls the inbound flow instead of
// piling up goroutines.
func newClientOptions(opts Options, c *Client) *mqtt.ClientOptions {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(initialRetryInterval).
		SetMaxReconnectInterval(maxRetryInterval).
		SetKeepAlive(opts.Keepalive).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}
	return clientOpts
}

func (c *Client) SetMessageHandler(h MessageHandler) {
	c.handler = h
}

// Reload reconciles the subscription set against a new topic list,
// unsubscribing and subscribing only the difference.
func (c *Client) Reload(topics []string) {
	c.mu.Lock()
	removed := diff(c.topics, topics)
	added := diff(topics, c.topics)
	c.topics = topics
	c.mu.Unlock()

	if !c.connected.Load() {
		// onConnect will pick up the new set on reconnect.
		return
	}
	if len(removed) > 0 {
		token := c.conn.Unsubscribe(removed...)
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Error().Err(err).Strs("topics", removed).Msg("mqtt unsubscribe failed")
		}
	}
	if len(added) > 0 {
		c.subscribe(c.conn, added)
	}
	c.log.Info().Strs("added", added).Strs("removed", removed).Msg("mqtt subscriptions reloaded")
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.mu.Lock()
	topics := c.topics
	c.mu.Unlock()
	c.log.Info().Strs("topics", topics).Msg("mqtt connected, subscribing")
	c.subscribe(client, topics)
}

func (c *Client) subscribe(client mqtt.Client, topics []string) {
	if len(topics) == 0 {
		return
	}
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = qos
	}
	token := client.SubscribeMultiple(filters, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if c.handler != nil {
		c.handler(msg.Topic(), msg.Payload(), msg.Retained())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message received")
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

// diff returns the elements of a that are not in b.
func diff(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, t := range b {
		inB[t] = struct{}{}
	}
	var out []string
	for _, t := range a {
		if _, ok := inB[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}
