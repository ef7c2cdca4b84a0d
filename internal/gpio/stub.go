//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// Chip is not available on non-Linux platforms.
type Chip struct{}

// OpenChip returns an error on non-Linux platforms.
func OpenChip(name string) (*Chip, error) {
	return nil, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (c *Chip) Close() error {
	return nil
}

// Input is not implemented on non-Linux platforms.
func (c *Chip) Input(pin int) (Input, error) {
	return nil, errUnsupported
}

// Output is not implemented on non-Linux platforms.
func (c *Chip) Output(pin int, activeLow bool) (Output, error) {
	return nil, errUnsupported
}

// HX711 is not implemented on non-Linux platforms.
func (c *Chip) HX711(dataPin, clockPin int) (LoadCell, error) {
	return nil, errUnsupported
}
