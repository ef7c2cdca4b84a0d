package gpio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const sysfsPWM = "/sys/class/pwm"

// SysfsServo drives a hobby servo from a kernel PWM channel.
type SysfsServo struct {
	chipDir  string
	dir      string
	channel  int
	minPulse time.Duration
	maxPulse time.Duration
}

// NewSysfsServo exports channel on pwmchip<chip> and starts a 50 Hz signal.
func NewSysfsServo(chip, channel int) (*SysfsServo, error) {
	return newSysfsServo(sysfsPWM, chip, channel)
}

func newSysfsServo(root string, chip, channel int) (*SysfsServo, error) {
	chipDir := filepath.Join(root, fmt.Sprintf("pwmchip%d", chip))
	s := &SysfsServo{
		chipDir:  chipDir,
		dir:      filepath.Join(chipDir, fmt.Sprintf("pwm%d", channel)),
		channel:  channel,
		minPulse: 500 * time.Microsecond,
		maxPulse: 2500 * time.Microsecond,
	}

	if _, err := os.Stat(s.dir); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(filepath.Join(chipDir, "export"), channel); err != nil {
			return nil, fmt.Errorf("export pwm channel %d: %w", channel, err)
		}
	}
	if err := s.write(filepath.Join(s.dir, "period"), int(20*time.Millisecond)); err != nil {
		return nil, fmt.Errorf("set pwm period: %w", err)
	}
	if err := s.write(filepath.Join(s.dir, "enable"), 1); err != nil {
		return nil, fmt.Errorf("enable pwm: %w", err)
	}
	return s, nil
}

func (s *SysfsServo) write(path string, v int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(v)), 0o644)
}

// SetAngle sets the pulse width for deg, clamped to 0-180.
func (s *SysfsServo) SetAngle(deg int) error {
	if deg < 0 {
		deg = 0
	}
	if deg > 180 {
		deg = 180
	}
	pulse := s.minPulse + (s.maxPulse-s.minPulse)*time.Duration(deg)/180
	if err := s.write(filepath.Join(s.dir, "duty_cycle"), int(pulse)); err != nil {
		return fmt.Errorf("set servo angle %d: %w", deg, err)
	}
	return nil
}

// Close disables the channel and unexports it.
func (s *SysfsServo) Close() error {
	var errs []error
	if err := s.write(filepath.Join(s.dir, "enable"), 0); err != nil {
		errs = append(errs, fmt.Errorf("disable pwm: %w", err))
	}
	if err := s.write(filepath.Join(s.chipDir, "unexport"), s.channel); err != nil {
		errs = append(errs, fmt.Errorf("unexport pwm: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
