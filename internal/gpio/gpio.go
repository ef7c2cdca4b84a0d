// Package gpio provides the appliance's hardware lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device for digital
// lines and the HX711 load-cell amplifier, and sysfs PWM for the servo.
// The fake implementations allow testing without hardware.
package gpio

// Input reads a digital input line.
type Input interface {
	// Value returns the logical level (true = active).
	Value() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Output drives a digital output line.
type Output interface {
	// Set drives the logical level (true = active).
	Set(on bool) error

	// Close releases the line, leaving it inactive.
	Close() error
}

// Servo positions a hobby servo.
type Servo interface {
	// SetAngle commands the servo to deg degrees (0-180).
	SetAngle(deg int) error

	// Close stops driving the servo.
	Close() error
}

// LoadCell reads a load-cell amplifier.
type LoadCell interface {
	Available() bool
	Read() int32
	Close() error
}

// ChipName is the GPIO character device used for all lines.
const ChipName = "gpiochip0"

// Pin definitions (BCM numbering)
const (
	PinPumpRelay  = 26
	PinPowerRelay = 25
	PinButton     = 27
	PinBuzzer     = 23
	PinHX711Data  = 16
	PinHX711Clock = 4
)

// decode24 sign-extends a 24-bit two's complement HX711 conversion.
func decode24(v uint32) int32 {
	v &= 0xFFFFFF
	if v&0x800000 != 0 {
		v |= 0xFF000000
	}
	return int32(v)
}
