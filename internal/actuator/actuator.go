// Package actuator drives the pump relay, the kettle power relay, the spout
// servo and the buzzer. Every multi-tick behavior (relay cooldown, servo
// travel, beep sequences) is state advanced by Update; nothing here sleeps.
package actuator

import (
	"log"
	"time"

	"github.com/sweeney/kettle-filler/internal/clock"
	"github.com/sweeney/kettle-filler/internal/gpio"
)

// ServoState is the believed position of the spout servo.
type ServoState string

const (
	ServoIdle       ServoState = "IDLE"
	ServoMoving     ServoState = "MOVING"
	ServoOverKettle ServoState = "OVER_KETTLE"
)

// Config holds actuator timing.
type Config struct {
	RelayCooldown time.Duration // minimum time between kettle power toggles
	ServoTravel   time.Duration // assumed time for the servo to reach a position
	KettleAngle   int
	IdleAngle     int
	BeepUnit      time.Duration // short pulse; a long pulse is 3 units, the gap 2
	AlertInterval time.Duration // alert pattern repeat period
}

// DefaultConfig returns production timing.
func DefaultConfig() Config {
	return Config{
		RelayCooldown: 2 * time.Second,
		ServoTravel:   time.Second,
		KettleAngle:   90,
		IdleAngle:     0,
		BeepUnit:      100 * time.Millisecond,
		AlertInterval: 5 * time.Second,
	}
}

// Bank owns every output of the appliance.
type Bank struct {
	pump   gpio.Output
	power  gpio.Output
	buzzer gpio.Output
	servo  gpio.Servo
	cfg    Config

	now clock.Tick

	pumpOn bool

	powerOn      bool
	powerToggled bool
	lastToggle   clock.Tick

	servoState  ServoState
	servoTarget ServoState
	moveStart   clock.Tick

	bz sequencer
}

// New creates a bank with every output off and the servo commanded to idle.
func New(pump, power, buzzer gpio.Output, servo gpio.Servo, cfg Config, now clock.Tick) *Bank {
	b := &Bank{
		pump:        pump,
		power:       power,
		buzzer:      buzzer,
		servo:       servo,
		cfg:         cfg,
		now:         now,
		servoState:  ServoIdle,
		servoTarget: ServoIdle,
	}

	b.write("pump", b.pump, false)
	b.write("power", b.power, false)
	b.write("buzzer", b.buzzer, false)
	if err := b.servo.SetAngle(cfg.IdleAngle); err != nil {
		log.Printf("actuator: servo: %v", err)
	}
	return b
}

func (b *Bank) write(name string, out gpio.Output, on bool) {
	if err := out.Set(on); err != nil {
		log.Printf("actuator: %s: %v", name, err)
	}
}

// Update advances servo travel and the buzzer sequence.
func (b *Bank) Update(now clock.Tick) {
	b.now = now

	if b.servoState == ServoMoving && now.Sub(b.moveStart) >= b.cfg.ServoTravel {
		b.servoState = b.servoTarget
	}

	b.stepBuzzer(now)
}

// PumpOn energizes the pump relay.
func (b *Bank) PumpOn() {
	if !b.pumpOn {
		log.Printf("actuator: pump on")
	}
	b.pumpOn = true
	b.write("pump", b.pump, true)
}

// PumpOff de-energizes the pump relay.
func (b *Bank) PumpOff() {
	if b.pumpOn {
		log.Printf("actuator: pump off")
	}
	b.pumpOn = false
	b.write("pump", b.pump, false)
}

// IsPumpOn reports the commanded pump state.
func (b *Bank) IsPumpOn() bool { return b.pumpOn }

// SetKettlePower requests the kettle power relay state. A change within
// RelayCooldown of the previous toggle is ignored and false is returned.
func (b *Bank) SetKettlePower(on bool) bool {
	if on == b.powerOn {
		return true
	}
	if b.powerToggled && b.now.Sub(b.lastToggle) < b.cfg.RelayCooldown {
		return false
	}
	b.togglePower(on)
	return true
}

func (b *Bank) togglePower(on bool) {
	b.powerOn = on
	b.powerToggled = true
	b.lastToggle = b.now
	b.write("power", b.power, on)
	log.Printf("actuator: kettle power %s", onOff(on))
}

// IsKettlePowerOn reports the kettle power relay state.
func (b *Bank) IsKettlePowerOn() bool { return b.powerOn }

// MoveServoToKettle swings the spout over the kettle. Ignored while the
// servo is travelling.
func (b *Bank) MoveServoToKettle() { b.moveServo(ServoOverKettle, false) }

// MoveServoToIdle parks the spout. Ignored while the servo is travelling.
func (b *Bank) MoveServoToIdle() { b.moveServo(ServoIdle, false) }

func (b *Bank) moveServo(target ServoState, force bool) {
	if b.servoState == ServoMoving {
		if !force || b.servoTarget == target {
			return
		}
	} else if b.servoState == target {
		return
	}

	angle := b.cfg.IdleAngle
	if target == ServoOverKettle {
		angle = b.cfg.KettleAngle
	}
	if err := b.servo.SetAngle(angle); err != nil {
		log.Printf("actuator: servo: %v", err)
	}

	b.servoState = ServoMoving
	b.servoTarget = target
	b.moveStart = b.now
}

// ServoState returns the believed servo position.
func (b *Bank) ServoState() ServoState { return b.servoState }

// IsServoInPosition reports whether the servo has finished travelling.
func (b *Bank) IsServoInPosition() bool { return b.servoState != ServoMoving }

// ParkServo sends the servo to idle, overriding any travel in progress.
func (b *Bank) ParkServo() { b.moveServo(ServoIdle, true) }

// EmergencyStop turns the pump off and parks the servo.
func (b *Bank) EmergencyStop() {
	b.PumpOff()
	b.ParkServo()
}

// SafeState de-energizes everything: pump off, kettle power off regardless
// of the relay cooldown, servo parked.
func (b *Bank) SafeState() {
	b.EmergencyStop()
	if b.powerOn {
		b.togglePower(false)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
