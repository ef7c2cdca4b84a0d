// Package button turns a raw, bouncing push-button level into debounced
// gestures: single, double and triple clicks, long and very long presses.
//
// This package is pure logic with no hardware access. The caller samples the
// input line and passes the level into Poll along with the current tick.
package button

import (
	"time"

	"github.com/sweeney/kettle-filler/internal/clock"
)

// Config holds gesture timing.
type Config struct {
	// Debounce is how long a new level must persist before it is accepted.
	Debounce time.Duration
	// StableSamples is the number of consecutive samples that must agree
	// before a new level is accepted, in addition to Debounce.
	StableSamples int
	// LongPress and VeryLongPress are hold thresholds, measured from the
	// start of the press.
	LongPress     time.Duration
	VeryLongPress time.Duration
	// ClickGap is the quiet time after the last release that ends a click run.
	ClickGap time.Duration
}

// DefaultConfig returns the production gesture timing.
func DefaultConfig() Config {
	return Config{
		Debounce:      50 * time.Millisecond,
		StableSamples: 1,
		LongPress:     3 * time.Second,
		VeryLongPress: 10 * time.Second,
		ClickGap:      400 * time.Millisecond,
	}
}

// Detector classifies button gestures.
type Detector struct {
	cfg Config

	stable       bool
	pending      bool
	pendingSince clock.Tick
	pendingCount int

	pressStart    clock.Tick
	longFired     bool
	veryLongFired bool

	// Latched until consumed.
	pressLatch    bool
	longLatch     bool
	veryLongLatch bool

	clicks    int
	lastClick clock.Tick
	finalized int
}

// NewDetector creates a gesture detector. The button starts released.
func NewDetector(cfg Config) *Detector {
	if cfg.StableSamples < 1 {
		cfg.StableSamples = 1
	}
	return &Detector{cfg: cfg}
}

// Poll feeds one raw sample of the button level (true = pressed).
func (d *Detector) Poll(now clock.Tick, pressed bool) {
	d.debounce(now, pressed)

	if d.stable {
		d.checkHold(now)
	}

	d.checkClickRun(now)
}

func (d *Detector) debounce(now clock.Tick, level bool) {
	if level == d.stable {
		d.pending = false
		return
	}

	if !d.pending {
		d.pending = true
		d.pendingSince = now
		d.pendingCount = 1
	} else {
		d.pendingCount++
	}

	if now.Sub(d.pendingSince) < d.cfg.Debounce || d.pendingCount < d.cfg.StableSamples {
		return
	}

	edge := d.pendingSince
	d.pending = false
	d.stable = level
	if level {
		d.onPress(edge)
	} else {
		d.onRelease(edge)
	}
}

func (d *Detector) onPress(edge clock.Tick) {
	d.pressStart = edge
	d.longFired = false
	d.veryLongFired = false
	d.longLatch = false
	d.veryLongLatch = false
	d.pressLatch = true
}

func (d *Detector) onRelease(edge clock.Tick) {
	held := edge.Sub(d.pressStart)

	if held < 2*d.cfg.Debounce {
		return
	}
	if held >= d.cfg.LongPress {
		if !d.longFired {
			d.fireLong()
		}
		return
	}
	if d.longFired {
		return
	}

	d.clicks++
	d.lastClick = edge
}

func (d *Detector) checkHold(now clock.Tick) {
	held := now.Sub(d.pressStart)

	if !d.longFired && held >= d.cfg.LongPress {
		d.fireLong()
	}
	if !d.veryLongFired && held >= d.cfg.VeryLongPress {
		d.veryLongFired = true
		d.veryLongLatch = true
	}
}

// fireLong latches a long press. A long press abandons any click run in
// progress.
func (d *Detector) fireLong() {
	d.longFired = true
	d.longLatch = true
	d.clicks = 0
}

func (d *Detector) checkClickRun(now clock.Tick) {
	if d.clicks == 0 || d.stable || d.pending {
		return
	}
	if now.Sub(d.lastClick) <= d.cfg.ClickGap {
		return
	}

	d.finalized = d.clicks
	d.clicks = 0
}

// IsPressed reports the debounced level.
func (d *Detector) IsPressed() bool {
	return d.stable
}

// ConsumePress reports whether a press was confirmed since the last call.
func (d *Detector) ConsumePress() bool {
	p := d.pressLatch
	d.pressLatch = false
	return p
}

// IsSingleClick reports a completed run of exactly one click.
func (d *Detector) IsSingleClick() bool { return d.finalized == 1 }

// IsDoubleClick reports a completed run of exactly two clicks.
func (d *Detector) IsDoubleClick() bool { return d.finalized == 2 }

// IsTripleClick reports a completed run of exactly three clicks.
func (d *Detector) IsTripleClick() bool { return d.finalized == 3 }

// ClickCount returns the length of the last completed click run, or 0.
// Runs of four or more are reported here but by none of the Is*Click getters.
func (d *Detector) ClickCount() int { return d.finalized }

// AckClicks acknowledges the completed click run. A run still being built
// is kept.
func (d *Detector) AckClicks() {
	d.finalized = 0
}

// ResetClicks acknowledges the completed click run and drops any run in
// progress.
func (d *Detector) ResetClicks() {
	d.finalized = 0
	d.clicks = 0
}

// IsLongPress reports, once per press, that the hold crossed LongPress.
func (d *Detector) IsLongPress() bool {
	l := d.longLatch
	d.longLatch = false
	return l
}

// IsVeryLongPress reports, once per press, that the hold crossed VeryLongPress.
func (d *Detector) IsVeryLongPress() bool {
	l := d.veryLongLatch
	d.veryLongLatch = false
	return l
}

// Clear drops every latched gesture. The debounced level is kept.
func (d *Detector) Clear() {
	d.ResetClicks()
	d.pressLatch = false
	d.longLatch = false
	d.veryLongLatch = false
}
