// Command kettle-filler runs the control loop of an automatic kettle filler:
// it weighs the kettle, drives the pump, servo and kettle power relay, and
// takes fill commands from the button and MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sweeney/kettle-filler/internal/actuator"
	"github.com/sweeney/kettle-filler/internal/button"
	"github.com/sweeney/kettle-filler/internal/clock"
	"github.com/sweeney/kettle-filler/internal/controller"
	"github.com/sweeney/kettle-filler/internal/gpio"
	"github.com/sweeney/kettle-filler/internal/mqtt"
	"github.com/sweeney/kettle-filler/internal/scale"
	"github.com/sweeney/kettle-filler/internal/serialadc"
	"github.com/sweeney/kettle-filler/internal/status"
	"github.com/sweeney/kettle-filler/internal/store"
	"github.com/sweeney/kettle-filler/internal/watchdog"
	"github.com/sweeney/kettle-filler/internal/web"
)

// Environment overrides (set directly or via the env file).
const (
	envBroker = "KETTLE_BROKER"
	envStore  = "KETTLE_STORE"
)

type options struct {
	tick        time.Duration
	broker      string
	clientID    string
	httpAddr    string
	store       string
	slot        int
	sensor      string
	watchdog    string
	statusEvery time.Duration
	heartbeat   time.Duration
	printState  bool

	pinPump, pinPower, pinButton, pinBuzzer int
	pinHXData, pinHXClock                   int
	relayActiveLow                          bool
	pwmChip, pwmChannel                     int

	calibrateFactor  float64
	resetFactor      bool
	resetCalibration bool
}

func main() {
	var o options
	envFile := flag.String("env-file", "/run/pi-helper.env", "Environment file to load (missing file is ignored)")
	flag.DurationVar(&o.tick, "tick", 100*time.Millisecond, "Control loop interval")
	flag.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address (empty to disable; env "+envBroker+")")
	flag.StringVar(&o.clientID, "client-id", "kettle-filler", "MQTT client id")
	flag.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.StringVar(&o.store, "store", "/var/lib/kettle-filler/eeprom.bin", "Calibration store: EEPROM image path or redis:// URL (env "+envStore+")")
	flag.IntVar(&o.slot, "slot", 0, "Calibration record offset in the store")
	flag.StringVar(&o.sensor, "sensor", "gpio", `Load cell source: "gpio" or "serial:/dev/ttyUSB0"`)
	flag.StringVar(&o.watchdog, "watchdog", "", "Hardware watchdog device to kick every tick (empty to disable)")
	flag.DurationVar(&o.statusEvery, "status-interval", 2*time.Second, "Water level publish interval")
	flag.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.BoolVar(&o.printState, "print-state", false, "Print button and load cell readings and exit")
	flag.IntVar(&o.pinPump, "pin-pump", gpio.PinPumpRelay, "BCM pin for the pump relay")
	flag.IntVar(&o.pinPower, "pin-power", gpio.PinPowerRelay, "BCM pin for the kettle power relay")
	flag.IntVar(&o.pinButton, "pin-button", gpio.PinButton, "BCM pin for the button")
	flag.IntVar(&o.pinBuzzer, "pin-buzzer", gpio.PinBuzzer, "BCM pin for the buzzer")
	flag.IntVar(&o.pinHXData, "pin-hx711-data", gpio.PinHX711Data, "BCM pin for HX711 DT")
	flag.IntVar(&o.pinHXClock, "pin-hx711-clock", gpio.PinHX711Clock, "BCM pin for HX711 SCK")
	flag.BoolVar(&o.relayActiveLow, "relay-active-low", true, "Relay board inputs are active-low")
	flag.IntVar(&o.pwmChip, "pwm-chip", 0, "sysfs PWM chip for the servo")
	flag.IntVar(&o.pwmChannel, "pwm-channel", 0, "sysfs PWM channel for the servo")
	flag.Float64Var(&o.calibrateFactor, "calibrate-factor", 0, "Start factor calibration with this known mass in grams on the scale")
	flag.BoolVar(&o.resetFactor, "reset-factor", false, "Reset the conversion factor to its default at startup")
	flag.BoolVar(&o.resetCalibration, "reset-calibration", false, "Clear all stored calibration at startup")

	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("env file %s: %v", *envFile, err)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	envDefault(set, "broker", envBroker, &o.broker)
	envDefault(set, "store", envStore, &o.store)

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// envDefault replaces *val with the environment variable env unless the
// flag was given explicitly.
func envDefault(set map[string]bool, flagName, env string, val *string) {
	if set[flagName] {
		return
	}
	if v, ok := os.LookupEnv(env); ok {
		*val = v
	}
}

// hardware is everything run opens and must close.
type hardware struct {
	button gpio.Input
	pump   gpio.Output
	power  gpio.Output
	buzzer gpio.Output
	servo  gpio.Servo
	cell   gpio.LoadCell
	chip   *gpio.Chip
}

func openHardware(o options) (*hardware, error) {
	chip, err := gpio.OpenChip(gpio.ChipName)
	if err != nil {
		return nil, err
	}
	hw := &hardware{chip: chip}

	if hw.button, err = chip.Input(o.pinButton); err != nil {
		hw.Close()
		return nil, err
	}
	if hw.pump, err = chip.Output(o.pinPump, o.relayActiveLow); err != nil {
		hw.Close()
		return nil, err
	}
	if hw.power, err = chip.Output(o.pinPower, o.relayActiveLow); err != nil {
		hw.Close()
		return nil, err
	}
	if hw.buzzer, err = chip.Output(o.pinBuzzer, false); err != nil {
		hw.Close()
		return nil, err
	}
	if hw.cell, err = openLoadCell(o.sensor, chip, o.pinHXData, o.pinHXClock); err != nil {
		hw.Close()
		return nil, err
	}
	servo, err := gpio.NewSysfsServo(o.pwmChip, o.pwmChannel)
	if err != nil {
		hw.Close()
		return nil, fmt.Errorf("init servo: %w", err)
	}
	hw.servo = servo
	return hw, nil
}

// openLoadCell selects the HX711 source named by -sensor.
func openLoadCell(sensor string, chip *gpio.Chip, dataPin, clockPin int) (gpio.LoadCell, error) {
	if sensor == "gpio" {
		return chip.HX711(dataPin, clockPin)
	}
	if path, ok := strings.CutPrefix(sensor, "serial:"); ok && path != "" {
		r, err := serialadc.Open(path, serialadc.DefaultBaud)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown sensor source %q", sensor)
}

// Close releases every line that was opened. Outputs go inactive.
func (hw *hardware) Close() {
	for _, c := range []io.Closer{hw.servo, hw.pump, hw.power, hw.buzzer, hw.button, hw.cell} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}
	if hw.chip != nil {
		hw.chip.Close()
	}
}

func run(o options) error {
	hw, err := openHardware(o)
	if err != nil {
		return fmt.Errorf("init hardware: %w", err)
	}
	defer hw.Close()

	if o.printState {
		return printState(os.Stdout, hw.button, hw.cell, 20, 50*time.Millisecond)
	}

	st, err := store.Open(o.store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}

	src := clock.NewMonotonic()

	scaleCfg := scale.DefaultConfig()
	scaleCfg.Slot = o.slot
	sensor := scale.New(hw.cell, st, scaleCfg)
	if err := sensor.Load(); err != nil {
		// Defaults keep the appliance usable; recalibrate to persist.
		log.Printf("scale: %v", err)
	}

	bank := actuator.New(hw.pump, hw.power, hw.buzzer, hw.servo, actuator.DefaultConfig(), src.Now())
	defer bank.SafeState()

	ctrl := controller.New(controller.DefaultConfig(), hw.button, button.NewDetector(button.DefaultConfig()), sensor, bank)
	if err := applyDiagnostics(ctrl, o); err != nil {
		return err
	}

	kick := watchdog.Kicker(watchdog.Nop{})
	if o.watchdog != "" {
		d, err := watchdog.Open(o.watchdog)
		if err != nil {
			return err
		}
		kick = d
	}
	defer kick.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		TickMs:      o.tick.Milliseconds(),
		HeartbeatMs: o.heartbeat.Milliseconds(),
		Broker:      o.broker,
		HTTPPort:    o.httpAddr,
		Store:       o.store,
		Sensor:      o.sensor,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	var (
		publisher  mqtt.Publisher = mqtt.Nop{}
		mqttStatus mqtt.ConnectionStatus
		commands   <-chan int
	)
	if o.broker != "" {
		rp, err := mqtt.NewRealPublisher(o.broker, o.clientID)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer rp.Close()
		publisher, mqttStatus, commands = rp, rp, rp.Commands()
	} else {
		log.Printf("mqtt disabled")
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	var live broadcaster
	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		live = srv
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	log.Printf("started: tick=%v broker=%s store=%s sensor=%s heartbeat=%v", o.tick, o.broker, o.store, o.sensor, o.heartbeat)

	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopDeps{
		ctrl:        ctrl,
		clock:       src,
		commands:    commands,
		publisher:   publisher,
		mqttStatus:  mqttStatus,
		tracker:     tracker,
		live:        live,
		watchdog:    kick,
		statusEvery: o.statusEvery,
		heartbeat:   o.heartbeat,
		now:         time.Now,
	}, ticker.C, sigCh)
}

// applyDiagnostics runs the one-shot maintenance flags before the loop starts.
func applyDiagnostics(ctrl *controller.Controller, o options) error {
	if o.resetCalibration {
		if err := ctrl.ResetCalibration(); err != nil {
			return fmt.Errorf("reset calibration: %w", err)
		}
		log.Printf("calibration cleared")
	}
	if o.resetFactor {
		if err := ctrl.ResetFactor(); err != nil {
			return fmt.Errorf("reset factor: %w", err)
		}
		log.Printf("conversion factor reset")
	}
	if o.calibrateFactor != 0 {
		if err := ctrl.StartFactorCalibration(o.calibrateFactor); err != nil {
			return fmt.Errorf("calibrate factor: %w", err)
		}
		log.Printf("factor calibration started with %.1f g", o.calibrateFactor)
	}
	return nil
}

// printState reports the button level and a load cell count. The HX711
// may need a few conversions before it reports ready.
func printState(w io.Writer, btn gpio.Input, cell scale.RawSource, tries int, wait time.Duration) error {
	pressed, err := btn.Value()
	if err != nil {
		return fmt.Errorf("read button: %w", err)
	}
	fmt.Fprintf(w, "button: %s\n", pressedString(pressed))

	for i := 0; i < tries; i++ {
		if cell.Available() {
			fmt.Fprintf(w, "load cell: %d\n", cell.Read())
			return nil
		}
		time.Sleep(wait)
	}
	fmt.Fprintln(w, "load cell: not ready")
	return nil
}

func pressedString(p bool) string {
	if p {
		return "PRESSED"
	}
	return "RELEASED"
}

// broadcaster pushes the current status to live viewers.
type broadcaster interface {
	Broadcast()
}

type loopDeps struct {
	ctrl        *controller.Controller
	clock       clock.Source
	commands    <-chan int
	publisher   mqtt.Publisher
	mqttStatus  mqtt.ConnectionStatus // may be nil
	tracker     *status.Tracker
	live        broadcaster // may be nil
	watchdog    watchdog.Kicker
	statusEvery time.Duration
	heartbeat   time.Duration
	now         func() time.Time
}

func runLoop(d loopDeps, tick <-chan time.Time, sig <-chan os.Signal) error {
	levels := mqtt.NewLevelReporter(d.publisher)
	var lastStatus time.Time

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if d.mqttStatus != nil {
				d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
			}
			snap := d.tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  snap.Now,
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			t := d.now()
			drainCommands(d.ctrl, d.commands)

			events := d.ctrl.Tick(d.clock.Now())
			for _, event := range events {
				if err := d.publisher.Publish(event); err != nil {
					log.Printf("publish error: %v", err)
					// Don't crash on publish failure
				}
			}

			st := d.ctrl.Status()
			d.tracker.Update(st)
			d.tracker.Record(events)
			if d.mqttStatus != nil {
				d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
			}

			periodic := t.Sub(lastStatus) >= d.statusEvery
			if periodic {
				levels.Report(st)
				lastStatus = t
			}
			if d.live != nil && (periodic || len(events) > 0) {
				d.live.Broadcast()
			}

			if d.tracker.CheckHeartbeat(t, d.heartbeat) {
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					d.tracker.SetNetwork(net)
				}
				snap := d.tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v state=%s fills=%d errors=%d",
					snap.Uptime().Truncate(time.Second), st.State, snap.Counts.Fills, snap.Counts.Errors)
				hbEvent := mqtt.SystemEvent{
					Timestamp:  t,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
				}
				if err := d.publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}

			d.watchdog.Kick()
		}
	}
}

// drainCommands hands every pending remote command to the controller,
// which queues them and processes one per tick.
func drainCommands(ctrl *controller.Controller, commands <-chan int) {
	for {
		select {
		case mode := <-commands:
			ctrl.Submit(mode)
		default:
			return
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
