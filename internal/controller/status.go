package controller

import (
	"github.com/sweeney/kettle-filler/internal/actuator"
)

// Status is a point-in-time view of the appliance for status sinks.
type Status struct {
	State         StateKind
	Error         ErrorKind
	Ready         bool
	KettlePresent bool
	Weight        float64
	Water         float64
	EmptyWeight   float64
	Factor        float64

	FillID     string
	FillTarget float64
	FillStart  float64

	PumpOn      bool
	KettlePower bool
	Servo       actuator.ServoState
	Buzzer      actuator.BuzzerMode

	CalibrationStep    CalibrationStep
	CalibrationSuccess bool
}

// Status returns the current status. The fill fields describe the running
// fill, or the most recent one.
func (c *Controller) Status() Status {
	s := Status{
		State:         c.cur.kind,
		Error:         c.cur.fault,
		Ready:         c.sensor.IsReady(),
		KettlePresent: c.sensor.IsKettlePresent(),
		Weight:        c.sensor.Weight(),
		Water:         c.sensor.WaterWeight(),
		EmptyWeight:   c.sensor.EmptyWeight(),
		Factor:        c.sensor.Factor(),
		FillID:        c.lastFill.id,
		FillTarget:    c.lastFill.target,
		FillStart:     c.lastFill.startWeight,
		PumpOn:        c.bank.IsPumpOn(),
		KettlePower:   c.bank.IsKettlePowerOn(),
		Servo:         c.bank.ServoState(),
		Buzzer:        c.bank.BuzzerMode(),
	}
	if c.cur.kind == StateCalibrating {
		s.CalibrationStep = c.cur.calib.step
		s.CalibrationSuccess = c.cur.calib.succeeded
	}
	return s
}
