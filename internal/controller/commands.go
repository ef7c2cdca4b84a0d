package controller

import (
	"errors"
	"fmt"
	"log"
)

var (
	// ErrQueueFull is returned by Submit when commands arrive faster than
	// the loop drains them.
	ErrQueueFull = errors.New("command queue full")
	// ErrNotIdle is returned by diagnostics that require StateIdle.
	ErrNotIdle = errors.New("controller not idle")
)

// Submit queues a remote command. Commands are processed one per tick and
// each produces an EventCommand carrying its result. A command that does not
// fit in the queue is dropped with a double beep.
func (c *Controller) Submit(mode int) error {
	if len(c.commands) >= c.cfg.CommandQueue {
		log.Printf("controller: command %d dropped: %v", mode, ErrQueueFull)
		c.bank.BeepShort(2)
		return ErrQueueFull
	}
	c.commands = append(c.commands, mode)
	return nil
}

func (c *Controller) handleCommand() {
	if len(c.commands) == 0 {
		return
	}
	mode := c.commands[0]
	c.commands = c.commands[1:]

	result := c.command(mode)
	log.Printf("controller: command %d: %s", mode, result)
	c.emit(Event{
		Type:   EventCommand,
		Mode:   mode,
		Result: result,
		FillID: c.cur.fill.id,
		Target: c.cur.fill.target,
		Weight: c.sensor.Weight(),
	})
}

func (c *Controller) command(mode int) CommandResult {
	if mode == ModeStop {
		return c.stop()
	}

	target, ok := c.modeTarget(mode)
	if !ok {
		c.bank.BeepShort(2)
		return ResultRejectedMode
	}
	if c.cur.kind != StateIdle {
		c.bank.BeepShort(2)
		return ResultRejectedBusy
	}
	return c.requestFill(target)
}

// stop latches an emergency stop for the running fill. The fill is wound
// down on the next tick, exactly as for a long press.
func (c *Controller) stop() CommandResult {
	if c.cur.kind != StateFilling {
		c.bank.BeepShort(2)
		return ResultNothingToStop
	}
	c.cur.fill.emergency = true
	c.bank.BeepShort(3)
	return ResultStopped
}

func (c *Controller) modeTarget(mode int) (float64, bool) {
	empty := c.sensor.EmptyWeight()
	switch mode {
	case ModeTopUp:
		return c.topUpTarget(), true
	case ModeFull:
		return empty + c.cfg.FullWaterLevel, true
	}
	v, ok := modeVolumes[mode]
	return empty + v, ok
}

// StartFactorCalibration begins a factor calibration against a known mass.
// Not allowed while filling.
func (c *Controller) StartFactorCalibration(known float64) error {
	if c.cur.kind == StateFilling {
		return fmt.Errorf("factor calibration: %w", ErrNotIdle)
	}
	return c.sensor.StartFactorCalibration(known)
}

// ResetFactor restores the default conversion factor.
func (c *Controller) ResetFactor() error {
	return c.sensor.ResetFactor()
}

// ResetCalibration restores every calibration default.
func (c *Controller) ResetCalibration() error {
	return c.sensor.ResetCalibration()
}

// Tare zeroes the weight sensor on its next sample.
func (c *Controller) Tare() {
	c.sensor.Tare()
}

// ForcePump drives the pump directly. Switching it on is only allowed in
// StateIdle; switching it off is always allowed.
func (c *Controller) ForcePump(on bool) error {
	if !on {
		c.bank.PumpOff()
		return nil
	}
	if c.cur.kind != StateIdle {
		return fmt.Errorf("force pump: %w", ErrNotIdle)
	}
	c.bank.PumpOn()
	return nil
}

// ForceServo moves the spout directly. Only allowed in StateIdle.
func (c *Controller) ForceServo(overKettle bool) error {
	if c.cur.kind != StateIdle {
		return fmt.Errorf("force servo: %w", ErrNotIdle)
	}
	if overKettle {
		c.bank.MoveServoToKettle()
	} else {
		c.bank.MoveServoToIdle()
	}
	return nil
}
