// Package mqtt provides MQTT publishing and command ingestion with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/kettle-filler/internal/controller"
)

// Topics used by the kettle filler.
const (
	// TopicCommand receives remote fill commands (mode 1-8 as decimal text).
	TopicCommand = "/devices/pump/filling"
	// TopicWaterLevel carries the water level class (0, 1 or 2), retained.
	TopicWaterLevel = "/devices/pump/water_level"
	// TopicKettle carries kettle presence (0 or 1), retained.
	TopicKettle = "/devices/pump/kettle"
	// Topic carries controller events.
	Topic = "/devices/pump/events"
	// TopicSystem carries lifecycle events.
	TopicSystem = "/devices/pump/system"
)

// ErrBadCommand is returned by ParseCommand for payloads that are not a
// decimal integer.
var ErrBadCommand = errors.New("command payload is not an integer")

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a controller event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event controller.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// PublishLevel sends the water level class.
	PublishLevel(level Level) error

	// PublishKettle sends kettle presence.
	PublishKettle(present bool) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Kettle KettlePayload `json:"kettle"`
}

// KettlePayload contains the controller event details.
type KettlePayload struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	From      string  `json:"from,omitempty"`
	To        string  `json:"to,omitempty"`
	Error     string  `json:"error,omitempty"`
	FillID    string  `json:"fill_id,omitempty"`
	Target    float64 `json:"target_g,omitempty"`
	Weight    float64 `json:"weight_g"`
	Mode      int     `json:"mode,omitempty"`
	Result    string  `json:"result,omitempty"`
}

// FormatPayload creates the JSON payload for a controller event observed at ts.
func FormatPayload(event controller.Event, ts time.Time) ([]byte, error) {
	payload := Payload{
		Kettle: KettlePayload{
			Timestamp: ts.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			From:      string(event.From),
			To:        string(event.To),
			Error:     string(event.Error),
			FillID:    event.FillID,
			Target:    event.Target,
			Weight:    event.Weight,
			Mode:      event.Mode,
			Result:    string(event.Result),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ParseCommand decodes a command payload. Surrounding whitespace is
// ignored. Range checking is left to the controller, which beeps the
// rejection.
func ParseCommand(payload []byte) (int, error) {
	s := strings.TrimSpace(string(payload))
	mode, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadCommand, s)
	}
	return mode, nil
}

// Nop is a Publisher that discards everything, used when no broker is
// configured.
type Nop struct{}

func (Nop) Publish(controller.Event) error  { return nil }
func (Nop) PublishSystem(SystemEvent) error { return nil }
func (Nop) PublishLevel(Level) error        { return nil }
func (Nop) PublishKettle(bool) error        { return nil }
func (Nop) Close() error                    { return nil }
