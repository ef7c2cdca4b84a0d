package controller

import (
	"log"

	"github.com/google/uuid"

	"github.com/sweeney/kettle-filler/internal/actuator"
	"github.com/sweeney/kettle-filler/internal/button"
	"github.com/sweeney/kettle-filler/internal/clock"
	"github.com/sweeney/kettle-filler/internal/gpio"
	"github.com/sweeney/kettle-filler/internal/scale"
)

// Controller is the appliance state machine.
type Controller struct {
	cfg    Config
	input  gpio.Input
	button *button.Detector
	sensor *scale.Sensor
	bank   *actuator.Bank

	now          clock.Tick
	cur          state
	transitioned bool
	events       []Event
	commands     []int

	lastPowerCheck clock.Tick
	powerCheckDue  bool
	unready        bool
	unreadySince   clock.Tick
	inputErr       string

	lastFill fillState

	newID func() string
}

// New creates a controller. The first Tick enters Idle.
func New(cfg Config, input gpio.Input, btn *button.Detector, sensor *scale.Sensor, bank *actuator.Bank) *Controller {
	return &Controller{
		cfg:    cfg,
		input:  input,
		button: btn,
		sensor: sensor,
		bank:   bank,
		newID:  uuid.NewString,
	}
}

// State returns the current state kind.
func (c *Controller) State() StateKind { return c.cur.kind }

// Fault returns the error kind while in StateError.
func (c *Controller) Fault() ErrorKind { return c.cur.fault }

// Tick runs one control cycle: sample the button, update the sensor, advance
// the actuators, then evaluate the current state. At most one state
// transition happens per tick. Returns the events produced.
func (c *Controller) Tick(now clock.Tick) []Event {
	c.now = now
	c.events = nil
	c.transitioned = false

	c.button.Poll(now, c.readButton())
	c.sensor.Update(now)
	c.bank.Update(now)

	if c.cur.kind == StateNone {
		c.transition(state{kind: StateIdle})
		return c.events
	}

	c.update()
	if !c.transitioned {
		c.handleCommand()
	}
	if !c.transitioned {
		c.handleButton()
	}

	return c.events
}

func (c *Controller) readButton() bool {
	pressed, err := c.input.Value()
	if err != nil {
		// Log once per distinct failure; the loop runs ten times a second.
		if msg := err.Error(); msg != c.inputErr {
			log.Printf("controller: read button: %v", err)
			c.inputErr = msg
		}
		return false
	}
	c.inputErr = ""
	return pressed
}

func (c *Controller) emit(e Event) {
	e.Tick = c.now
	c.events = append(c.events, e)
}

// transition runs exit on the current state, swaps in next, and runs enter
// on it. Transitions the state machine does not permit are logged and
// dropped.
func (c *Controller) transition(next state) bool {
	from := c.cur.kind
	if !CanTransition(from, next.kind) {
		log.Printf("controller: transition %s -> %s rejected", describe(from), describe(next.kind))
		return false
	}

	c.exit()
	c.cur = next
	c.transitioned = true
	c.enter()

	if next.fault != ErrorNone {
		log.Printf("controller: %s -> %s (%s)", describe(from), next.kind, next.fault)
	} else {
		log.Printf("controller: %s -> %s", describe(from), next.kind)
	}

	c.emit(Event{
		Type:   EventStateChanged,
		From:   from,
		To:     next.kind,
		Error:  c.cur.fault,
		FillID: c.cur.fill.id,
		Target: c.cur.fill.target,
		Weight: c.sensor.Weight(),
	})
	return true
}

func (c *Controller) fail(kind ErrorKind) {
	c.transition(state{kind: StateError, fault: kind})
}

func (c *Controller) toIdle() {
	c.transition(state{kind: StateIdle})
}

func describe(k StateKind) string {
	if k == StateNone {
		return "NONE"
	}
	return string(k)
}
