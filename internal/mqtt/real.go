package mqtt

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/kettle-filler/internal/controller"
)

// BufferSize is the number of publications held while the broker is
// unreachable.
const BufferSize = 256

var errPublishTimeout = errors.New("publish timeout")

// RealPublisher publishes to an actual MQTT broker and feeds commands
// received on TopicCommand to Commands.
type RealPublisher struct {
	client   paho.Client
	commands chan int
	now      func() time.Time

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	connects  int
}

// NewRealPublisher creates a publisher connected to the given broker.
// The broker holds an OFFLINE will on TopicSystem for unclean disconnects.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := newRealPublisher(nil)

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

func newRealPublisher(client paho.Client) *RealPublisher {
	return &RealPublisher{
		client:   client,
		commands: make(chan int, 16),
		now:      time.Now,
		buf:      newRingBuffer(BufferSize),
	}
}

// Commands returns the channel of received command modes.
func (p *RealPublisher) Commands() <-chan int {
	return p.commands
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *RealPublisher) onConnect(c paho.Client) {
	log.Printf("mqtt: connected")

	token := c.Subscribe(TopicCommand, 1, p.onMessage)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("mqtt: subscribe %s: %v", TopicCommand, token.Error())
	}

	p.mu.Lock()
	p.connected = true
	p.connects++
	reconnect := p.connects > 1
	pending := p.buf.drainAll()
	p.mu.Unlock()

	if len(pending) > 0 {
		log.Printf("mqtt: replaying %d buffered messages", len(pending))
	}
	for _, m := range pending {
		if err := p.send(m); err != nil {
			log.Printf("mqtt: replay to %s: %v", m.topic, err)
		}
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		if err := p.publish(TopicSystem, 1, false, payload); err != nil {
			log.Printf("mqtt: publish reconnected: %v", err)
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	log.Printf("mqtt: connection lost: %v", err)
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

func (p *RealPublisher) onMessage(_ paho.Client, msg paho.Message) {
	mode, err := ParseCommand(msg.Payload())
	if err != nil {
		log.Printf("mqtt: %s: %v", msg.Topic(), err)
		return
	}
	select {
	case p.commands <- mode:
	default:
		log.Printf("mqtt: command %d dropped, loop not draining", mode)
	}
}

// publish sends a message now, or buffers it for replay if the broker is
// unreachable.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	m := bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained}

	p.mu.Lock()
	if !p.connected {
		p.buf.push(m)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.send(m)
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return errPublishTimeout
	}
	return token.Error()
}

// Publish sends a controller event to the MQTT broker.
func (p *RealPublisher) Publish(event controller.Event) error {
	payload, err := FormatPayload(event, p.now())
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 1 so a remote caller sees every command result
	if err := p.publish(Topic, 1, false, payload); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	if err := p.publish(TopicSystem, 1, event.Retained, payload); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// PublishLevel sends the water level class, retained.
func (p *RealPublisher) PublishLevel(level Level) error {
	if err := p.publish(TopicWaterLevel, 1, true, []byte(strconv.Itoa(int(level)))); err != nil {
		return fmt.Errorf("publish level: %w", err)
	}
	return nil
}

// PublishKettle sends kettle presence as 0 or 1, retained.
func (p *RealPublisher) PublishKettle(present bool) error {
	v := "0"
	if present {
		v = "1"
	}
	if err := p.publish(TopicKettle, 1, true, []byte(v)); err != nil {
		return fmt.Errorf("publish kettle: %w", err)
	}
	return nil
}

// Buffered returns the number of messages waiting for the broker.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}
