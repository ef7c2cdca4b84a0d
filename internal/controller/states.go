package controller

import (
	"log"
	"math"

	"github.com/sweeney/kettle-filler/internal/actuator"
)

func (c *Controller) enter() {
	switch c.cur.kind {
	case StateIdle:
		c.bank.PumpOff()
		c.button.Clear()
		c.powerCheckDue = true
		c.unready = false

	case StateFilling:
		c.button.Clear()
		f := &c.cur.fill
		if !c.sensor.IsKettlePresent() {
			log.Printf("controller: no kettle, fill abandoned")
			c.bank.BeepShort(2)
			f.aborted = true
			return
		}
		f.startWeight = c.sensor.Weight()
		f.start = c.now
		f.id = c.newID()
		c.lastFill = *f
		log.Printf("controller: fill %s from %.0f g to %.0f g", f.id, f.startWeight, f.target)
		c.bank.MoveServoToKettle()
		c.bank.BeepShort(1)

	case StateCalibrating:
		c.button.Clear()
		c.bank.PumpOff()
		c.bank.SetKettlePower(false)
		c.cur.calib = calibState{step: StepAwaitRemoval}
		log.Printf("controller: calibration: remove kettle and press")

	case StateError:
		c.button.Clear()
		c.bank.SafeState()
		if c.bank.BuzzerMode() == actuator.BuzzerIdle {
			c.bank.StartAlert()
		}
	}
}

func (c *Controller) exit() {
	switch c.cur.kind {
	case StateFilling:
		c.bank.PumpOff()
		if c.bank.ServoState() != actuator.ServoIdle {
			c.bank.ParkServo()
		}
	}
}

func (c *Controller) update() {
	switch c.cur.kind {
	case StateIdle:
		c.updateIdle()
	case StateFilling:
		c.updateFilling()
	case StateCalibrating:
		c.updateCalibrating()
	case StateError:
		// A beep announcing the fault plays out before the alert takes over.
		if c.bank.BuzzerMode() == actuator.BuzzerIdle {
			c.bank.StartAlert()
		}
	}
}

func (c *Controller) updateIdle() {
	if !c.sensor.IsReady() {
		if !c.unready {
			c.unready = true
			c.unreadySince = c.now
		}
		if c.now.Sub(c.unreadySince) >= c.cfg.SensorTimeout {
			log.Printf("controller: sensor not ready (live=%v factor calibrated=%v)",
				c.sensor.IsLive(), c.sensor.IsFactorCalibrated())
			c.fail(ErrorSensorTimeout)
			return
		}
	} else {
		c.unready = false
	}

	if c.powerCheckDue || c.now.Sub(c.lastPowerCheck) >= c.cfg.PowerCheckInterval {
		c.powerCheckDue = false
		c.lastPowerCheck = c.now
		c.checkKettlePower()
	}
}

// checkKettlePower keeps the kettle powered only while it holds enough water
// to boil safely.
func (c *Controller) checkKettlePower() {
	if !c.sensor.IsKettlePresent() {
		c.bank.SetKettlePower(false)
		return
	}

	water := c.sensor.WaterWeight()
	switch {
	case water >= c.cfg.MinWaterLevel && !c.bank.IsPumpOn():
		c.bank.SetKettlePower(true)
	case water < c.cfg.MinWaterLevel-c.cfg.PowerHysteresis:
		c.bank.SetKettlePower(false)
	}
}

func (c *Controller) updateFilling() {
	f := &c.cur.fill

	if f.aborted {
		c.toIdle()
		return
	}
	if f.emergency {
		log.Printf("controller: fill %s stopped", f.id)
		c.bank.EmergencyStop()
		c.toIdle()
		return
	}
	if !c.sensor.IsKettlePresent() {
		log.Printf("controller: kettle removed during fill %s", f.id)
		c.bank.BeepShort(2)
		c.fail(ErrorNoFlow)
		return
	}

	w := c.sensor.Weight()
	elapsed := c.now.Sub(f.start)
	if elapsed > c.cfg.FillTimeout {
		c.fail(ErrorFillTimeout)
		return
	}
	if elapsed > c.cfg.NoFlowTimeout && c.sensor.IsWeightStable() && math.Abs(w-f.startWeight) < c.cfg.NoFlowBand {
		log.Printf("controller: no flow after %v (%.0f g)", elapsed, w)
		c.fail(ErrorNoFlow)
		return
	}

	if c.bank.IsServoInPosition() {
		if c.bank.ServoState() != actuator.ServoOverKettle {
			c.bank.MoveServoToKettle()
		} else if !c.bank.IsPumpOn() {
			c.bank.PumpOn()
		}
	}

	if w >= f.target-c.cfg.FillHysteresis {
		log.Printf("controller: fill %s complete at %.0f g", f.id, w)
		c.bank.BeepShort(2)
		c.toIdle()
	}
}

func (c *Controller) updateCalibrating() {
	if c.bank.IsKettlePowerOn() {
		c.bank.SetKettlePower(false)
	}

	cl := &c.cur.calib
	if cl.succeeded && c.now.Sub(cl.successAt) >= c.cfg.CalibrationSuccessDelay {
		c.toIdle()
	}
}

func (c *Controller) handleButton() {
	switch c.cur.kind {
	case StateIdle:
		c.handleIdleButton()
	case StateFilling:
		if c.button.IsLongPress() {
			log.Printf("controller: long press, stopping fill %s", c.cur.fill.id)
			c.cur.fill.emergency = true
			c.bank.BeepShort(3)
		}
		c.button.ResetClicks()
	case StateCalibrating:
		c.handleCalibrationButton()
	case StateError:
		c.button.Clear()
	}
}

func (c *Controller) handleIdleButton() {
	if c.button.IsVeryLongPress() {
		c.button.ResetClicks()
		if err := c.sensor.ResetEmpty(); err != nil {
			log.Printf("controller: reset empty weight: %v", err)
		}
		log.Printf("controller: very long press, empty weight cleared")
		c.bank.BeepLong(1)
		return
	}

	if c.button.ClickCount() == 0 {
		return
	}
	switch {
	case c.button.IsSingleClick():
		c.requestFill(c.topUpTarget())
	case c.button.IsDoubleClick():
		c.requestFill(c.sensor.EmptyWeight() + c.cfg.FullWaterLevel)
	case c.button.IsTripleClick():
		c.transition(state{kind: StateCalibrating})
	}
	c.button.AckClicks()
}

func (c *Controller) handleCalibrationButton() {
	cl := &c.cur.calib
	pressed := c.button.ConsumePress()
	c.button.ResetClicks()
	if !pressed || cl.succeeded {
		return
	}

	switch cl.step {
	case StepAwaitRemoval:
		c.sensor.Tare()
		cl.step = StepAwaitPlacement
		log.Printf("controller: calibration: place empty kettle and press")

	case StepAwaitPlacement:
		w := c.sensor.Weight()
		if err := c.sensor.CalibrateEmpty(w); err != nil {
			log.Printf("controller: calibration: %v", err)
			c.bank.BeepLong(1)
			return
		}
		c.bank.BeepShort(1)
		cl.succeeded = true
		cl.successAt = c.now
		c.emit(Event{Type: EventCalibrated, Weight: c.sensor.EmptyWeight()})
	}
}

// topUpTarget fills to the minimum boil level, or adds one cup when the
// kettle already holds that much.
func (c *Controller) topUpTarget() float64 {
	if c.sensor.WaterWeight() < c.cfg.MinWaterLevel {
		return c.sensor.EmptyWeight() + c.cfg.MinWaterLevel
	}
	return c.sensor.Weight() + c.cfg.CupVolume
}

// requestFill validates a fill target and, if acceptable, starts filling.
// Rejections are announced with a double beep.
func (c *Controller) requestFill(target float64) CommandResult {
	reject := func(r CommandResult) CommandResult {
		log.Printf("controller: fill to %.0f g rejected: %s", target, r)
		c.bank.BeepShort(2)
		return r
	}

	if !c.sensor.IsReady() {
		return reject(ResultRejectedNotReady)
	}
	if !c.sensor.IsKettlePresent() {
		return reject(ResultRejectedNoKettle)
	}

	target = math.Min(target, c.sensor.EmptyWeight()+c.cfg.FullWaterLevel)
	if target <= c.sensor.Weight()+c.cfg.CommandMargin {
		return reject(ResultRejectedSatisfied)
	}

	if !c.transition(state{kind: StateFilling, fill: fillState{target: target}}) {
		return reject(ResultRejectedBusy)
	}
	return ResultAccepted
}
