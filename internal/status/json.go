package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Kettle        KettleJSON   `json:"kettle"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// KettleJSON is the JSON representation of the controller status.
type KettleJSON struct {
	State              string  `json:"state"`
	Error              string  `json:"error,omitempty"`
	Ready              bool    `json:"ready"`
	Present            bool    `json:"present"`
	Weight             float64 `json:"weight_g"`
	Water              float64 `json:"water_ml"`
	EmptyWeight        float64 `json:"empty_weight_g"`
	Factor             float64 `json:"factor"`
	FillID             string  `json:"fill_id,omitempty"`
	FillTarget         float64 `json:"fill_target_g,omitempty"`
	FillStart          float64 `json:"fill_start_g,omitempty"`
	Pump               bool    `json:"pump"`
	Power              bool    `json:"power"`
	Servo              string  `json:"servo"`
	Buzzer             string  `json:"buzzer"`
	CalibrationStep    string  `json:"calibration_step,omitempty"`
	CalibrationSuccess bool    `json:"calibration_success,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Fills            int `json:"fills"`
	FillsCompleted   int `json:"fills_completed"`
	FillsStopped     int `json:"fills_stopped"`
	Errors           int `json:"errors"`
	Commands         int `json:"commands"`
	CommandsRejected int `json:"commands_rejected"`
	Calibrations     int `json:"calibrations"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	Store       string `json:"store"`
	Sensor      string `json:"sensor"`
}

func buildInner(snap Snapshot) StatusInner {
	k := snap.Kettle
	state := string(k.State)
	if state == "" {
		state = "UNKNOWN"
	}

	return StatusInner{
		Kettle: KettleJSON{
			State:              state,
			Error:              string(k.Error),
			Ready:              k.Ready,
			Present:            k.KettlePresent,
			Weight:             round1(k.Weight),
			Water:              round1(k.Water),
			EmptyWeight:        round1(k.EmptyWeight),
			Factor:             k.Factor,
			FillID:             k.FillID,
			FillTarget:         round1(k.FillTarget),
			FillStart:          round1(k.FillStart),
			Pump:               k.PumpOn,
			Power:              k.KettlePower,
			Servo:              string(k.Servo),
			Buzzer:             string(k.Buzzer),
			CalibrationStep:    string(k.CalibrationStep),
			CalibrationSuccess: k.CalibrationSuccess,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Fills:            snap.Counts.Fills,
			FillsCompleted:   snap.Counts.FillsCompleted,
			FillsStopped:     snap.Counts.FillsStopped,
			Errors:           snap.Counts.Errors,
			Commands:         snap.Counts.Commands,
			CommandsRejected: snap.Counts.CommandsRejected,
			Calibrations:     snap.Counts.Calibrations,
		},
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			Store:       snap.Config.Store,
			Sensor:      snap.Config.Sensor,
		},
	}
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
