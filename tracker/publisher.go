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

// TransformMessage is the JSON payload of a published transform
type TransformMessage struct {
	ToolID      string               `json:"toolId"`
	RunID       string               `json:"runId,omitempty"`
	Matrix      geom.Mat4            `json:"matrix"`
	Quaternion  [4]float64           `json:"quaternion"` // w, x, y, z
	Translation [3]float64           `json:"translation"`
	RMS         float64              `json:"rms"`
	Quality     registration.Quality `json:"quality,omitempty"`
	Converged   bool                 `json:"converged"`
	Timestamp   int64                `json:"timestamp"`
}

// NewTransformMessage builds the payload of t for toolID
func NewTransformMessage(toolID string, t registration.RigidTransform) TransformMessage {
	q := t.Quaternion()
	tr := t.Translation()
	ts := t.Stamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	return TransformMessage{
		ToolID:      toolID,
		Matrix:      t.M,
		Quaternion:  [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		Translation: [3]float64{tr.X, tr.Y, tr.Z},
		RMS:         t.RMS,
		Quality:     registration.Grade(t.RMS),
		Converged:   true,
		Timestamp:   ts.Unix(),
	}
}

// Publisher publishes registration results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	latest        map[string]TransformMessage
	mu            sync.RWMutex
}

// NewPublisher creates a publisher. The topic prefix comes from the
// MQTT_PUBLISH_PREFIX env var, then prefix, then "rigidreg".
// If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "rigidreg"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // fire and forget
		retain:        true, // late subscribers get the latest transform
		latest:        make(map[string]TransformMessage),
	}
}

// TransformTopic returns the topic of a tool's raw registrations
func (p *Publisher) TransformTopic(toolID string) string {
	return fmt.Sprintf("%s/%s/transform", p.publishPrefix, toolID)
}

// FilteredTopic returns the topic of a tool's filtered transform
func (p *Publisher) FilteredTopic(toolID string) string {
	return fmt.Sprintf("%s/%s/filtered", p.publishPrefix, toolID)
}

// PublishRegistration publishes reg to the tool's transform topic and
// refreshes the combined registrations topic.
func (p *Publisher) PublishRegistration(reg Registration) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	msg := NewTransformMessage(reg.ToolID, reg.Transform)
	msg.RunID = reg.RunID
	msg.RMS = reg.LastRMS
	msg.Quality = reg.Quality
	msg.Converged = reg.Converged
	if !reg.Timestamp.IsZero() {
		msg.Timestamp = reg.Timestamp.Unix()
	}

	p.mu.Lock()
	p.latest[reg.ToolID] = msg
	p.mu.Unlock()

	if err := p.publish(p.TransformTopic(reg.ToolID), msg); err != nil {
		log.Printf("[MQTT] Error publishing transform for %s: %v", reg.ToolID, err)
		return err
	}
	log.Printf("[MQTT] Published transform for %s: rms=%.4g quality=%s", reg.ToolID, msg.RMS, msg.Quality)

	if err := p.publishCombined(); err != nil {
		log.Printf("[MQTT] Error publishing combined registrations: %v", err)
		return err
	}
	return nil
}

// PublishFiltered publishes the filtered transform of toolID
func (p *Publisher) PublishFiltered(toolID string, t registration.RigidTransform) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	return p.publish(p.FilteredTopic(toolID), NewTransformMessage(toolID, t))
}

func (p *Publisher) publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// publishCombined publishes the latest message of every tool to
// <prefix>/registrations
func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	tools := make([]TransformMessage, 0, len(p.latest))
	for _, m := range p.latest {
		tools = append(tools, m)
	}
	p.mu.RUnlock()

	if len(tools) == 0 {
		return nil
	}

	message := map[string]interface{}{
		"tools":     tools,
		"timestamp": time.Now().Unix(),
	}
	return p.publish(fmt.Sprintf("%s/registrations", p.publishPrefix), message)
}

// GetLatest returns the last message published for a tool
func (p *Publisher) GetLatest(toolID string) (TransformMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.latest[toolID]
	return m, ok
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
