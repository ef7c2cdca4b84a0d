// Package status provides a thread-safe status tracker for the kettle-filler daemon.
// The control loop writes to it; HTTP handlers and the MQTT publisher read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/kettle-filler/internal/controller"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TickMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	Store       string
	Sensor      string
}

// Counts tallies controller events since startup.
type Counts struct {
	Fills            int
	FillsCompleted   int
	FillsStopped     int
	Errors           int
	Commands         int
	CommandsRejected int
	Calibrations     int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Kettle        controller.Status
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot

	lastHeartbeat time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		lastHeartbeat: startTime,
	}
}

// Update sets the controller status.
// Called from runLoop on every tick.
func (t *Tracker) Update(st controller.Status) {
	t.mu.Lock()
	t.snap.Kettle = st
	t.mu.Unlock()
}

// Record tallies controller events.
func (t *Tracker) Record(events []controller.Event) {
	if len(events) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c := &t.snap.Counts
	for _, e := range events {
		switch e.Type {
		case controller.EventStateChanged:
			switch {
			case e.To == controller.StateFilling:
				c.Fills++
			case e.To == controller.StateError:
				c.Errors++
			case e.From == controller.StateFilling && e.To == controller.StateIdle:
				c.FillsCompleted++
			}
		case controller.EventCommand:
			c.Commands++
			switch e.Result {
			case controller.ResultAccepted:
			case controller.ResultStopped:
				c.FillsStopped++
			default:
				c.CommandsRejected++
			}
		case controller.EventCalibrated:
			c.Calibrations++
		}
	}
}

// CheckHeartbeat reports whether interval has passed since the last
// heartbeat, and if so starts a new interval at now.
func (t *Tracker) CheckHeartbeat(now time.Time, interval time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if interval <= 0 || now.Sub(t.lastHeartbeat) < interval {
		return false
	}
	t.lastHeartbeat = now
	return true
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
