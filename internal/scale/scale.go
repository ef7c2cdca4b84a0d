// Package scale converts raw load-cell counts into a filtered weight in grams
// and owns the calibration that makes that conversion meaningful.
//
// The sensor is polled once per tick. It never blocks: tare and factor
// calibration are requested and then completed over the following samples.
package scale

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/sweeney/kettle-filler/internal/clock"
	"github.com/sweeney/kettle-filler/internal/store"
)

// RawSource provides raw load-cell counts.
type RawSource interface {
	// Available reports whether a new conversion is ready.
	Available() bool
	// Read returns the latest conversion.
	Read() int32
}

// Config holds filter and calibration parameters.
type Config struct {
	DefaultFactor      float64       // grams per count when uncalibrated
	MaxJump            float64       // grams; larger single-sample moves are noise
	StableThreshold    float64       // grams
	StableTime         time.Duration // how long weight must hold within StableThreshold
	PresenceHysteresis float64       // grams below empty weight still counted as present
	MinEmpty           float64       // plausible empty-kettle range, exclusive
	MaxEmpty           float64
	FactorSamples      int
	Slot               int  // store slot of the calibration record
	TareOnStart        bool // zero on the first sample after startup
}

// DefaultConfig returns production parameters.
func DefaultConfig() Config {
	return Config{
		DefaultFactor:      0.00042,
		MaxJump:            500,
		StableThreshold:    5,
		StableTime:         2 * time.Second,
		PresenceHysteresis: 20,
		MinEmpty:           100,
		MaxEmpty:           5000,
		FactorSamples:      20,
		TareOnStart:        true,
	}
}

const filterSize = 5

var (
	ErrImplausibleWeight = errors.New("implausible empty weight")
	ErrInvalidKnownMass  = errors.New("known mass must be positive")
	ErrNoSignal          = errors.New("no signal above tare")
)

type factorCal struct {
	active bool
	known  float64
	sum    int64
	n      int
	err    error
}

// Sensor is the filtered, calibrated weight sensor.
type Sensor struct {
	src RawSource
	st  store.Store
	cfg Config

	emptyWeight float64
	emptyValid  bool
	factor      float64
	factorValid bool

	offset      int32
	tarePending bool
	lastRaw     int32

	buf      [filterSize]float64
	idx      int
	weight   float64
	live     bool
	rejected int

	now         clock.Tick
	stableRef   float64
	stableSince clock.Tick
	stableInit  bool

	fc factorCal
}

// New creates a sensor with default calibration. Call Load to restore the
// persisted calibration.
func New(src RawSource, st store.Store, cfg Config) *Sensor {
	return &Sensor{
		src:         src,
		st:          st,
		cfg:         cfg,
		factor:      cfg.DefaultFactor,
		tarePending: cfg.TareOnStart,
	}
}

// Load restores calibration from the store. Fields without a valid flag keep
// their defaults.
func (s *Sensor) Load() error {
	rec, found, err := s.st.Load(s.cfg.Slot)
	if err != nil {
		return fmt.Errorf("load calibration: %w", err)
	}
	if !found {
		log.Printf("scale: no stored calibration, using defaults")
		return nil
	}

	if rec.EmptyValid {
		s.emptyWeight = float64(rec.EmptyWeight)
		s.emptyValid = true
	}
	f := float64(rec.Factor)
	if rec.FactorValid && f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f) {
		s.factor = f
		s.factorValid = true
	}

	log.Printf("scale: loaded calibration empty=%.1f (valid=%v) factor=%.6f (valid=%v)",
		s.emptyWeight, s.emptyValid, s.factor, s.factorValid)
	return nil
}

// Update takes one sample. It returns false, and forces the weight to zero,
// when the source has no conversion ready.
func (s *Sensor) Update(now clock.Tick) bool {
	s.now = now

	if !s.src.Available() {
		s.live = false
		s.weight = 0
		s.track(now)
		return false
	}

	raw := s.src.Read()
	s.live = true
	s.lastRaw = raw

	if s.tarePending {
		s.offset = raw
		s.tarePending = false
		s.resetFilter()
		log.Printf("scale: tare at raw %d", raw)
	}

	if s.fc.active {
		s.accumulateFactor(raw)
	}

	g := float64(int64(raw)-int64(s.offset)) * s.factor
	if g < 0 {
		g = 0
	}
	s.filter(g)
	s.track(now)
	return true
}

func (s *Sensor) filter(g float64) {
	if s.weight > 0 && math.Abs(g-s.weight) > s.cfg.MaxJump {
		s.rejected++
		if s.rejected < filterSize {
			return
		}
		// The jump persisted for a whole window: it is a real load change.
		log.Printf("scale: step change %.1f -> %.1f accepted", s.weight, g)
		for i := range s.buf {
			s.buf[i] = g
		}
		s.weight = g
		s.rejected = 0
		return
	}

	s.rejected = 0
	s.buf[s.idx] = g
	s.idx = (s.idx + 1) % filterSize
	s.weight = median(s.buf)
}

func median(buf [filterSize]float64) float64 {
	sorted := buf
	sort.Float64s(sorted[:])
	return sorted[filterSize/2]
}

func (s *Sensor) resetFilter() {
	s.buf = [filterSize]float64{}
	s.idx = 0
	s.weight = 0
	s.rejected = 0
}

// track restarts the stability timer whenever the weight leaves the band
// around the last reference.
func (s *Sensor) track(now clock.Tick) {
	if !s.stableInit || math.Abs(s.weight-s.stableRef) >= s.cfg.StableThreshold {
		s.stableRef = s.weight
		s.stableSince = now
		s.stableInit = true
	}
}

// Weight returns the filtered weight in grams.
func (s *Sensor) Weight() float64 { return s.weight }

// LastRaw returns the most recent raw count.
func (s *Sensor) LastRaw() int32 { return s.lastRaw }

// Offset returns the tare offset in raw counts.
func (s *Sensor) Offset() int32 { return s.offset }

// IsLive reports whether the last Update got a sample.
func (s *Sensor) IsLive() bool { return s.live }

// IsReady reports whether the weight can be trusted: the factor is
// calibrated and the source is delivering samples.
func (s *Sensor) IsReady() bool { return s.factorValid && s.live }

// IsKettlePresent compares the weight against the empty kettle weight.
func (s *Sensor) IsKettlePresent() bool {
	return s.weight >= s.emptyWeight-s.cfg.PresenceHysteresis
}

// IsWeightStable reports whether the weight has stayed within
// StableThreshold for longer than StableTime.
func (s *Sensor) IsWeightStable() bool {
	return s.stableInit && s.now.Sub(s.stableSince) > s.cfg.StableTime
}

// WaterWeight returns the weight above the empty kettle, never negative.
func (s *Sensor) WaterWeight() float64 {
	return math.Max(0, s.weight-s.emptyWeight)
}

// EmptyWeight returns the calibrated empty kettle weight, or 0.
func (s *Sensor) EmptyWeight() float64 { return s.emptyWeight }

// Factor returns the grams-per-count conversion factor.
func (s *Sensor) Factor() float64 { return s.factor }

// IsEmptyCalibrated reports whether the empty weight has been calibrated.
func (s *Sensor) IsEmptyCalibrated() bool { return s.emptyValid }

// IsFactorCalibrated reports whether the factor has been calibrated.
func (s *Sensor) IsFactorCalibrated() bool { return s.factorValid }

// Tare zeroes the raw reference on the next available sample.
func (s *Sensor) Tare() {
	s.tarePending = true
}

// CalibrateEmpty records w as the empty kettle weight and persists it.
func (s *Sensor) CalibrateEmpty(w float64) error {
	if w <= s.cfg.MinEmpty || w >= s.cfg.MaxEmpty {
		return fmt.Errorf("%w: %.1f g (want %.0f-%.0f)", ErrImplausibleWeight, w, s.cfg.MinEmpty, s.cfg.MaxEmpty)
	}

	// Round through float32 so memory matches what a reload returns.
	s.emptyWeight = float64(float32(w))
	s.emptyValid = true
	log.Printf("scale: empty weight calibrated to %.1f g", s.emptyWeight)
	return s.save()
}

// StartFactorCalibration averages the next FactorSamples raw readings with
// known grams on the platform, then derives and persists the factor.
func (s *Sensor) StartFactorCalibration(known float64) error {
	if known <= 0 || math.IsNaN(known) || math.IsInf(known, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidKnownMass, known)
	}
	s.fc = factorCal{active: true, known: known}
	log.Printf("scale: factor calibration started with %.1f g", known)
	return nil
}

// FactorCalibrating reports whether a factor calibration is collecting samples.
func (s *Sensor) FactorCalibrating() bool { return s.fc.active }

// FactorCalibrationErr returns the outcome of the last completed factor
// calibration.
func (s *Sensor) FactorCalibrationErr() error { return s.fc.err }

func (s *Sensor) accumulateFactor(raw int32) {
	s.fc.sum += int64(raw) - int64(s.offset)
	s.fc.n++
	if s.fc.n < s.cfg.FactorSamples {
		return
	}

	s.fc.active = false
	avg := float64(s.fc.sum) / float64(s.fc.n)
	if avg <= 0 {
		s.fc.err = fmt.Errorf("factor calibration: %w (average %.1f counts)", ErrNoSignal, avg)
		log.Printf("scale: %v", s.fc.err)
		return
	}

	s.factor = float64(float32(s.fc.known / avg))
	s.factorValid = true
	s.resetFilter()
	log.Printf("scale: factor calibrated to %.8f from %d samples", s.factor, s.fc.n)
	s.fc.err = s.save()
}

// ResetFactor restores the default factor and persists the change.
func (s *Sensor) ResetFactor() error {
	s.factor = s.cfg.DefaultFactor
	s.factorValid = false
	s.resetFilter()
	log.Printf("scale: factor reset to default %.6f", s.factor)
	return s.save()
}

// ResetEmpty forgets the empty kettle weight and persists that. The factor
// is kept, so the sensor stays ready.
func (s *Sensor) ResetEmpty() error {
	s.emptyWeight = 0
	s.emptyValid = false
	log.Printf("scale: empty weight cleared")
	return s.save()
}

// ResetCalibration restores all calibration defaults and persists them.
func (s *Sensor) ResetCalibration() error {
	s.factor = s.cfg.DefaultFactor
	s.factorValid = false
	s.emptyWeight = 0
	s.emptyValid = false
	s.resetFilter()
	log.Printf("scale: calibration reset")
	return s.save()
}

func (s *Sensor) save() error {
	rec := store.Record{
		EmptyValid:  s.emptyValid,
		EmptyWeight: float32(s.emptyWeight),
		Factor:      float32(s.factor),
		FactorValid: s.factorValid,
	}
	if err := s.st.Save(s.cfg.Slot, rec); err != nil {
		log.Printf("scale: save calibration: %v", err)
		return fmt.Errorf("save calibration: %w", err)
	}
	return nil
}
