package gpio

import "errors"

// FakeInput is a test double that returns scripted input levels.
type FakeInput struct {
	// Samples contains scripted levels to return.
	// Each call to Value() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Value()
	ReadError error
}

// NewFakeInput creates a FakeInput with the given samples.
func NewFakeInput(samples ...bool) *FakeInput {
	return &FakeInput{Samples: samples}
}

// Value returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeInput) Value() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	v := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return v, nil
}

// Set replaces the script with a constant level.
func (f *FakeInput) Set(level bool) {
	f.Samples = []bool{level}
	f.index = 0
}

// Close marks the input as closed.
func (f *FakeInput) Close() error {
	f.Closed = true
	return nil
}

// FakeOutput records every level written to it.
type FakeOutput struct {
	On       bool
	History  []bool
	Closed   bool
	SetError error
}

// NewFakeOutput creates an inactive FakeOutput.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the level.
func (f *FakeOutput) Set(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.On = on
	f.History = append(f.History, on)
	return nil
}

// Close marks the output inactive and closed.
func (f *FakeOutput) Close() error {
	f.On = false
	f.Closed = true
	return nil
}

// Pulses counts rising edges in the history.
func (f *FakeOutput) Pulses() int {
	n := 0
	prev := false
	for _, v := range f.History {
		if v && !prev {
			n++
		}
		prev = v
	}
	return n
}

// FakeServo records commanded angles.
type FakeServo struct {
	Angle   int
	History []int
	Closed  bool
}

// NewFakeServo creates a FakeServo at 0 degrees.
func NewFakeServo() *FakeServo {
	return &FakeServo{}
}

// SetAngle records the angle.
func (f *FakeServo) SetAngle(deg int) error {
	f.Angle = deg
	f.History = append(f.History, deg)
	return nil
}

// Close marks the servo closed.
func (f *FakeServo) Close() error {
	f.Closed = true
	return nil
}
