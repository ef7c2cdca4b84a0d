package mqtt

import (
	"time"

	"github.com/sweeney/kettle-filler/internal/controller"
)

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	// Events contains all controller events that were published.
	Events []controller.Event

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// Levels and Kettle record water level and presence publications.
	Levels []Level
	Kettle []bool

	// PublishError, if set, will be returned by Publish, PublishLevel
	// and PublishKettle.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	// Now stamps event payloads. Defaults to time.Now.
	Now func() time.Time
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the controller event.
func (f *FakePublisher) Publish(event controller.Event) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	payload, err := FormatPayload(event, now())
	if err != nil {
		return err
	}

	f.Events = append(f.Events, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}

	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// PublishLevel records the level.
func (f *FakePublisher) PublishLevel(level Level) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Levels = append(f.Levels, level)
	return nil
}

// PublishKettle records kettle presence.
func (f *FakePublisher) PublishKettle(present bool) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Kettle = append(f.Kettle, present)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.Events = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Levels = nil
	f.Kettle = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
