// Package watchdog re-arms the Linux hardware watchdog from the control loop.
// If the loop stalls, the board resets.
package watchdog

import (
	"fmt"
	"log"
	"os"
)

// DefaultDevice is the kernel watchdog device.
const DefaultDevice = "/dev/watchdog"

// Kicker re-arms a watchdog.
type Kicker interface {
	Kick() error
	Close() error
}

// Device is a watchdog device file. Any write re-arms it.
type Device struct {
	f      *os.File
	failed bool
}

// Open opens the watchdog device. The watchdog starts counting down as
// soon as the device is opened.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %s: %w", path, err)
	}
	return &Device{f: f}, nil
}

// Kick re-arms the watchdog. The first failure is logged.
func (d *Device) Kick() error {
	if _, err := d.f.Write([]byte{0}); err != nil {
		if !d.failed {
			log.Printf("watchdog: kick: %v", err)
			d.failed = true
		}
		return err
	}
	d.failed = false
	return nil
}

// Close disarms the watchdog with the magic close character and closes
// the device. Drivers built with nowayout ignore the disarm.
func (d *Device) Close() error {
	if _, err := d.f.Write([]byte("V")); err != nil {
		d.f.Close()
		return fmt.Errorf("disarm watchdog: %w", err)
	}
	return d.f.Close()
}

// Nop is a Kicker that does nothing, used when no watchdog is configured.
type Nop struct{}

func (Nop) Kick() error  { return nil }
func (Nop) Close() error { return nil }
