package actuator

import (
	"time"

	"github.com/sweeney/kettle-filler/internal/clock"
)

// BuzzerMode is the active annunciation pattern.
type BuzzerMode string

const (
	BuzzerIdle  BuzzerMode = "IDLE"
	BuzzerShort BuzzerMode = "SHORT"
	BuzzerLong  BuzzerMode = "LONG"
	BuzzerAlert BuzzerMode = "ALERT"
)

type sequencer struct {
	mode       BuzzerMode
	pulses     []time.Duration
	done       int
	high       bool
	stepStart  clock.Tick
	cycleStart clock.Tick
}

// BeepShort plays n short pulses, replacing any pattern in progress.
func (b *Bank) BeepShort(n int) {
	b.startPattern(BuzzerShort, repeat(b.cfg.BeepUnit, n))
}

// BeepLong plays n long pulses, replacing any pattern in progress.
func (b *Bank) BeepLong(n int) {
	b.startPattern(BuzzerLong, repeat(3*b.cfg.BeepUnit, n))
}

// StartAlert plays three long pulses and one short pulse, repeating every
// AlertInterval until another pattern replaces it or StopBuzzer is called.
func (b *Bank) StartAlert() {
	long := 3 * b.cfg.BeepUnit
	b.startPattern(BuzzerAlert, []time.Duration{long, long, long, b.cfg.BeepUnit})
}

// StopBuzzer silences the buzzer.
func (b *Bank) StopBuzzer() {
	b.bz = sequencer{mode: BuzzerIdle}
	b.write("buzzer", b.buzzer, false)
}

// BuzzerMode returns the active pattern.
func (b *Bank) BuzzerMode() BuzzerMode {
	if b.bz.mode == "" {
		return BuzzerIdle
	}
	return b.bz.mode
}

func repeat(d time.Duration, n int) []time.Duration {
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, d)
	}
	return out
}

func (b *Bank) startPattern(mode BuzzerMode, pulses []time.Duration) {
	if len(pulses) == 0 {
		return
	}
	b.bz = sequencer{
		mode:       mode,
		pulses:     pulses,
		high:       true,
		stepStart:  b.now,
		cycleStart: b.now,
	}
	b.write("buzzer", b.buzzer, true)
}

func (b *Bank) stepBuzzer(now clock.Tick) {
	s := &b.bz
	gap := 2 * b.cfg.BeepUnit

	switch {
	case s.mode == "" || s.mode == BuzzerIdle:
		return

	case s.high:
		if now.Sub(s.stepStart) >= s.pulses[s.done] {
			b.write("buzzer", b.buzzer, false)
			s.high = false
			s.done++
			s.stepStart = now
		}

	case s.done < len(s.pulses):
		if now.Sub(s.stepStart) >= gap {
			b.write("buzzer", b.buzzer, true)
			s.high = true
			s.stepStart = now
		}

	case s.mode == BuzzerAlert:
		if now.Sub(s.cycleStart) >= b.cfg.AlertInterval {
			s.done = 0
			s.cycleStart = now
			s.stepStart = now
			s.high = true
			b.write("buzzer", b.buzzer, true)
		}

	default:
		s.mode = BuzzerIdle
	}
}
