package mqtt

import (
	"log"

	"github.com/sweeney/kettle-filler/internal/controller"
)

// Level is the coarse water level published for home automation.
type Level int

const (
	LevelEmpty  Level = 0 // below 500 ml, or no kettle
	LevelLow    Level = 1 // 500 to 1000 ml
	LevelNormal Level = 2 // above 1000 ml
)

// Level thresholds in millilitres of water.
const (
	LowThreshold    = 500
	NormalThreshold = 1000
)

// ClassifyWater maps the water above the empty kettle to a Level.
func ClassifyWater(water float64, kettlePresent bool) Level {
	switch {
	case !kettlePresent || water < LowThreshold:
		return LevelEmpty
	case water <= NormalThreshold:
		return LevelLow
	default:
		return LevelNormal
	}
}

// LevelReporter publishes the water level and kettle presence only when
// they change. The first report always publishes both.
type LevelReporter struct {
	pub Publisher

	level      Level
	levelSent  bool
	kettle     bool
	kettleSent bool
}

// NewLevelReporter creates a LevelReporter publishing through pub.
func NewLevelReporter(pub Publisher) *LevelReporter {
	return &LevelReporter{pub: pub}
}

// Report classifies st and publishes whatever changed since the last
// successful report. A failed publish is retried on the next report.
func (r *LevelReporter) Report(st controller.Status) {
	level := ClassifyWater(st.Water, st.KettlePresent)

	if !r.levelSent || level != r.level {
		if err := r.pub.PublishLevel(level); err != nil {
			log.Printf("mqtt: publish level: %v", err)
		} else {
			r.level, r.levelSent = level, true
		}
	}
	if !r.kettleSent || st.KettlePresent != r.kettle {
		if err := r.pub.PublishKettle(st.KettlePresent); err != nil {
			log.Printf("mqtt: publish kettle: %v", err)
		} else {
			r.kettle, r.kettleSent = st.KettlePresent, true
		}
	}
}
