// Package controller is the kettle filler's state machine. It composes the
// button, the weight sensor and the actuator bank, and is advanced by Tick
// from a single cooperative loop.
//
// Time is always injected: the controller never reads a clock of its own.
package controller

import (
	"time"

	"github.com/sweeney/kettle-filler/internal/clock"
)

// StateKind identifies a controller state.
type StateKind string

const (
	StateNone        StateKind = ""
	StateIdle        StateKind = "IDLE"
	StateFilling     StateKind = "FILLING"
	StateCalibrating StateKind = "CALIBRATING"
	StateError       StateKind = "ERROR"
)

// ErrorKind is the reason the controller entered StateError.
type ErrorKind string

const (
	ErrorNone          ErrorKind = ""
	ErrorSensorTimeout ErrorKind = "SENSOR_TIMEOUT"
	ErrorNoFlow        ErrorKind = "NO_FLOW"
	ErrorFillTimeout   ErrorKind = "FILL_TIMEOUT"
)

// CalibrationStep is the progress of the empty-kettle calibration dialog.
type CalibrationStep string

const (
	StepAwaitRemoval   CalibrationStep = "AWAIT_REMOVAL"
	StepAwaitPlacement CalibrationStep = "AWAIT_PLACEMENT"
)

// EventType represents the type of event emitted by Tick.
type EventType string

const (
	EventStateChanged EventType = "STATE_CHANGED"
	EventCommand      EventType = "COMMAND"
	EventCalibrated   EventType = "CALIBRATED"
)

// CommandResult is the outcome of a remote command.
type CommandResult string

const (
	ResultAccepted          CommandResult = "ACCEPTED"
	ResultStopped           CommandResult = "STOPPED"
	ResultNothingToStop     CommandResult = "NOTHING_TO_STOP"
	ResultRejectedMode      CommandResult = "REJECTED_MODE"
	ResultRejectedBusy      CommandResult = "REJECTED_BUSY"
	ResultRejectedNotReady  CommandResult = "REJECTED_NOT_READY"
	ResultRejectedNoKettle  CommandResult = "REJECTED_NO_KETTLE"
	ResultRejectedSatisfied CommandResult = "REJECTED_SATISFIED"
)

// Event is something the outside world may want to hear about.
type Event struct {
	Tick   clock.Tick
	Type   EventType
	From   StateKind
	To     StateKind
	Error  ErrorKind
	FillID string
	Target float64
	Weight float64
	Mode   int
	Result CommandResult
}

// Config holds control parameters. Weights are grams; one gram of water is
// one millilitre.
type Config struct {
	MinWaterLevel  float64
	FullWaterLevel float64
	CupVolume      float64

	FillHysteresis  float64 // stop this far below target
	PowerHysteresis float64 // kettle power drops this far below MinWaterLevel
	CommandMargin   float64 // a target must exceed current weight by more than this
	NoFlowBand      float64 // weight gain below this counts as no flow

	PowerCheckInterval      time.Duration
	FillTimeout             time.Duration
	NoFlowTimeout           time.Duration
	CalibrationSuccessDelay time.Duration
	SensorTimeout           time.Duration // how long the sensor may be unready in Idle

	CommandQueue int
}

// DefaultConfig returns production parameters.
func DefaultConfig() Config {
	return Config{
		MinWaterLevel:           500,
		FullWaterLevel:          1700,
		CupVolume:               250,
		FillHysteresis:          20,
		PowerHysteresis:         20,
		CommandMargin:           10,
		NoFlowBand:              10,
		PowerCheckInterval:      time.Second,
		FillTimeout:             120 * time.Second,
		NoFlowTimeout:           5 * time.Second,
		CalibrationSuccessDelay: 2 * time.Second,
		SensorTimeout:           time.Second,
		CommandQueue:            8,
	}
}

// Remote command modes.
const (
	ModeTopUp = 1
	ModeFull  = 7
	ModeStop  = 8
)

// modeVolumes maps the fixed-volume modes to grams of water above empty.
var modeVolumes = map[int]float64{
	2: 500,
	3: 750,
	4: 1000,
	5: 1250,
	6: 1500,
}

type fillState struct {
	target      float64
	startWeight float64
	start       clock.Tick
	id          string
	aborted     bool
	emergency   bool
}

type calibState struct {
	step      CalibrationStep
	succeeded bool
	successAt clock.Tick
}

// state is a tagged union: kind selects which of the variant fields is live.
type state struct {
	kind  StateKind
	fill  fillState
	calib calibState
	fault ErrorKind
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to StateKind) bool {
	switch to {
	case StateIdle, StateFilling, StateCalibrating, StateError:
	default:
		return false
	}

	switch from {
	case StateNone, StateIdle:
		return true
	case StateFilling, StateCalibrating:
		return to == StateIdle || to == StateError
	case StateError:
		return to == StateError
	}
	return false
}
