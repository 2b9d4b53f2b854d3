package tracker

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/rigidreg/geom"
	"github.com/kwv/rigidreg/registration"
)

// MQTTClient manages the broker connection and the subscriptions to the
// acquired point sets of every tool.
type MQTTClient struct {
	client         mqtt.Client
	config         *Config
	messageHandler MessageHandler
	isConnected    bool
	mu             sync.RWMutex
}

// MessageHandler is called when a point set arrives for a tool.
// Decoding failures are reported through err with a nil point list.
type MessageHandler func(toolID string, points registration.PointList, err error)

// PointPayload is the JSON form of an acquired point set. Visible is
// optional; a missing or short list marks the remaining points visible.
type PointPayload struct {
	Points  [][3]float64 `json:"points"`
	Visible []bool       `json:"visible,omitempty"`
}

// DecodePointPayload parses a PointPayload into a point list
func DecodePointPayload(payload []byte) (registration.PointList, error) {
	var p PointPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decoding point payload: %w", err)
	}
	if len(p.Points) == 0 {
		return nil, registration.ErrEmptyPointSet
	}
	pl := make(registration.PointList, len(p.Points))
	for i, c := range p.Points {
		pl[i] = registration.Point{Coord: geom.Vec{X: c[0], Y: c[1], Z: c[2]}, Visible: true}
		if i < len(p.Visible) {
			pl[i].Visible = p.Visible[i]
		}
	}
	return pl, nil
}

// EncodePointPayload is the inverse of DecodePointPayload
func EncodePointPayload(pl registration.PointList) ([]byte, error) {
	p := PointPayload{
		Points:  make([][3]float64, len(pl)),
		Visible: make([]bool, len(pl)),
	}
	for i, pt := range pl {
		p.Points[i] = [3]float64{pt.Coord.X, pt.Coord.Y, pt.Coord.Z}
		p.Visible[i] = pt.Visible
	}
	return json.Marshal(p)
}

// InitMQTT creates the client and connects in the background.
// Without a broker (MQTT_BROKER env var or config) MQTT is disabled and
// this returns nil.
func InitMQTT(config *Config, handler MessageHandler) (*MQTTClient, error) {
	var mc MQTTConfig
	if config != nil {
		mc = config.MQTT
	}
	broker := envOr("MQTT_BROKER", mc.Broker)
	if broker == "" {
		log.Println("[MQTT] Disabled: no broker configured")
		return nil, nil
	}
	if config == nil || len(config.Tools) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no tool configuration provided")
	}

	client := &MQTTClient{
		config:         config,
		messageHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(envOr("MQTT_CLIENT_ID", mc.ClientID, "rigidreg"))
	if username := envOr("MQTT_USERNAME", mc.Username); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", mc.Password))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep subscriptions across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// envOr returns the environment variable key, else the first non-empty fallback
func envOr(key string, fallbacks ...string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	for _, f := range fallbacks {
		if f != "" {
			return f
		}
	}
	return ""
}

// connectWithRetry connects with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] Connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] Connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] Connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] Connection timeout")
		}

		log.Printf("[MQTT] Retrying in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to every tool topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("[MQTT] Connected, subscribing to tool topics...")
	c.setConnected(true)

	for _, tool := range c.config.Tools {
		if tool.Topic == "" {
			log.Printf("[MQTT] Warning: tool %s has no topic configured", tool.ID)
			continue
		}

		token := client.Subscribe(tool.Topic, 0, c.createMessageHandler(tool.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] Error subscribing to %s: %v", tool.Topic, token.Error())
		} else {
			log.Printf("[MQTT] Subscribed to %s for tool %s", tool.Topic, tool.ID)
		}
	}
}

// onConnectionLost is typically transient; auto-reconnect is enabled
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] Reconnecting...")
}

// createMessageHandler creates the handler of one tool's topic
func (c *MQTTClient) createMessageHandler(toolID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("[MQTT] Received points for %s (topic: %s, size: %d bytes)", toolID, msg.Topic(), len(payload))

		points, err := DecodePointPayload(payload)
		if err != nil {
			log.Printf("[MQTT] Error decoding points for %s: %v", toolID, err)
		}
		if c.messageHandler != nil {
			c.messageHandler(toolID, points, err)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] Disconnecting from broker...")
		c.client.Disconnect(250) // ms quiesce
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wraps an existing mqtt.Client, for tests
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler MessageHandler) *MQTTClient {
	return &MQTTClient{
		client:         client,
		config:         config,
		messageHandler: handler,
	}
}
