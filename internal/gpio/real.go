//go:build linux

package gpio

import (
	"fmt"
	"log"

	"github.com/warthog618/go-gpiocdev"
)

// Chip hands out lines from a single GPIO character device.
type Chip struct {
	chip *gpiocdev.Chip
}

// OpenChip opens the named GPIO chip.
func OpenChip(name string) (*Chip, error) {
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &Chip{chip: chip}, nil
}

// Close closes the chip. Lines already requested stay valid until closed.
func (c *Chip) Close() error {
	return c.chip.Close()
}

// Input requests pin as an active-low input with pull-up, the wiring of a
// push button to ground.
func (c *Chip) Input(pin int) (Input, error) {
	line, err := c.chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.AsActiveLow)
	if err != nil {
		return nil, fmt.Errorf("request input pin %d: %w", pin, err)
	}
	return &RealInput{line: line}, nil
}

// Output requests pin as an output, initially inactive. Relay boards are
// usually active-low.
func (c *Chip) Output(pin int, activeLow bool) (Output, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := c.chip.RequestLine(pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}
	return &RealOutput{line: line, pin: pin}, nil
}

// HX711 requests the data and clock pins of an HX711 amplifier.
func (c *Chip) HX711(dataPin, clockPin int) (LoadCell, error) {
	dt, err := c.chip.RequestLine(dataPin, gpiocdev.AsInput)
	if err != nil {
		return nil, fmt.Errorf("request HX711 data pin %d: %w", dataPin, err)
	}
	sck, err := c.chip.RequestLine(clockPin, gpiocdev.AsOutput(0))
	if err != nil {
		dt.Close()
		return nil, fmt.Errorf("request HX711 clock pin %d: %w", clockPin, err)
	}
	return &HX711{dt: dt, sck: sck}, nil
}

// RealInput reads a GPIO input line.
type RealInput struct {
	line *gpiocdev.Line
}

// Value returns the logical level.
func (r *RealInput) Value() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read input: %w", err)
	}
	return v == 1, nil
}

// Close releases the line.
func (r *RealInput) Close() error {
	return r.line.Close()
}

// RealOutput drives a GPIO output line.
type RealOutput struct {
	line *gpiocdev.Line
	pin  int
}

// Set drives the logical level.
func (o *RealOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", o.pin, err)
	}
	return nil
}

// Close drives the line inactive, then reconfigures it as an input with
// pull-down (matching Pi boot defaults) before releasing it.
func (o *RealOutput) Close() error {
	var errs []error

	if err := o.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("drive pin %d inactive: %w", o.pin, err))
	}
	if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", o.pin, err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", o.pin, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// HX711 bit-bangs the HX711 two-wire protocol, channel A at gain 128.
type HX711 struct {
	dt   *gpiocdev.Line
	sck  *gpiocdev.Line
	last int32
}

// Available reports whether a conversion is ready (data line pulled low).
func (h *HX711) Available() bool {
	v, err := h.dt.Value()
	return err == nil && v == 0
}

// Read clocks out one 24-bit conversion plus one gain pulse. On a line error
// the previous conversion is returned.
func (h *HX711) Read() int32 {
	var v uint32
	for i := 0; i < 24; i++ {
		bit, err := h.pulse(true)
		if err != nil {
			log.Printf("gpio: hx711 read: %v", err)
			return h.last
		}
		v = v<<1 | uint32(bit)
	}
	if _, err := h.pulse(false); err != nil {
		log.Printf("gpio: hx711 gain pulse: %v", err)
	}

	h.last = decode24(v)
	return h.last
}

func (h *HX711) pulse(sample bool) (int, error) {
	if err := h.sck.SetValue(1); err != nil {
		return 0, err
	}
	bit := 0
	if sample {
		b, err := h.dt.Value()
		if err != nil {
			h.sck.SetValue(0)
			return 0, err
		}
		bit = b
	}
	return bit, h.sck.SetValue(0)
}

// Close releases both lines.
func (h *HX711) Close() error {
	var errs []error
	if err := h.sck.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close HX711 clock: %w", err))
	}
	if err := h.dt.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close HX711 data: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
