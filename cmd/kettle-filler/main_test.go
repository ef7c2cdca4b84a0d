package main

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/sweeney/kettle-filler/internal/actuator"
	"github.com/sweeney/kettle-filler/internal/button"
	"github.com/sweeney/kettle-filler/internal/clock"
	"github.com/sweeney/kettle-filler/internal/controller"
	"github.com/sweeney/kettle-filler/internal/gpio"
	"github.com/sweeney/kettle-filler/internal/mqtt"
	"github.com/sweeney/kettle-filler/internal/scale"
	"github.com/sweeney/kettle-filler/internal/status"
	"github.com/sweeney/kettle-filler/internal/store"
)

func TestEnvVarNames(t *testing.T) {
	// These must match the variable names written by pi-helper
	expected := map[string]string{
		"envNetworkType":       "NETWORK_TYPE",
		"envNetworkIP":         "NETWORK_IP",
		"envNetworkStatus":     "NETWORK_STATUS",
		"envNetworkGateway":    "NETWORK_GATEWAY",
		"envNetworkWifiStatus": "NETWORK_WIFI_STATUS",
		"envNetworkWifiSSID":   "NETWORK_WIFI_SSID",
	}
	actual := map[string]string{
		"envNetworkType":       envNetworkType,
		"envNetworkIP":         envNetworkIP,
		"envNetworkStatus":     envNetworkStatus,
		"envNetworkGateway":    envNetworkGateway,
		"envNetworkWifiStatus": envNetworkWifiStatus,
		"envNetworkWifiSSID":   envNetworkWifiSSID,
	}
	for name, want := range expected {
		if got := actual[name]; got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNet")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	if info.Type != "wifi" || info.IP != "192.168.1.42" || info.Gateway != "192.168.1.1" || info.SSID != "MyNet" {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil, got %+v", info)
	}
}

func TestEnvDefault(t *testing.T) {
	t.Setenv(envBroker, "tcp://10.0.0.5:1883")

	v := "tcp://default:1883"
	envDefault(map[string]bool{}, "broker", envBroker, &v)
	if v != "tcp://10.0.0.5:1883" {
		t.Errorf("expected env to override default, got %q", v)
	}

	v = "tcp://explicit:1883"
	envDefault(map[string]bool{"broker": true}, "broker", envBroker, &v)
	if v != "tcp://explicit:1883" {
		t.Errorf("explicit flag must win, got %q", v)
	}

	v = "/var/lib/x"
	t.Setenv(envStore, "")
	os.Unsetenv(envStore)
	envDefault(map[string]bool{}, "store", envStore, &v)
	if v != "/var/lib/x" {
		t.Errorf("unset env must keep default, got %q", v)
	}
}

func TestOpenLoadCellUnknownSource(t *testing.T) {
	for _, s := range []string{"i2c", "serial:", ""} {
		if _, err := openLoadCell(s, nil, 0, 0); err == nil {
			t.Errorf("%q: expected error", s)
		}
	}
}

func TestPrintState(t *testing.T) {
	var buf bytes.Buffer
	src := scale.NewFakeSource(-4242)

	if err := printState(&buf, gpio.NewFakeInput(true), src, 3, 0); err != nil {
		t.Fatalf("printState: %v", err)
	}
	want := "button: PRESSED\nload cell: -4242\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestPrintStateLoadCellNotReady(t *testing.T) {
	var buf bytes.Buffer
	src := scale.NewFakeSource(0)
	src.Ready = false

	printState(&buf, gpio.NewFakeInput(false), src, 3, 0)
	if !strings.Contains(buf.String(), "load cell: not ready") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestPrintStateButtonError(t *testing.T) {
	in := gpio.NewFakeInput(false)
	in.ReadError = errors.New("line gone")

	if err := printState(&bytes.Buffer{}, in, scale.NewFakeSource(0), 1, 0); err == nil {
		t.Error("expected error")
	}
}

func TestApplyDiagnostics(t *testing.T) {
	h := newHarness(t, 300)

	if err := applyDiagnostics(h.ctrl, options{resetFactor: true}); err != nil {
		t.Fatalf("reset factor: %v", err)
	}
	rec, _, _ := h.store.Load(0)
	if rec.FactorValid {
		t.Error("expected factor invalidated")
	}

	if err := applyDiagnostics(h.ctrl, options{calibrateFactor: -5}); err == nil {
		t.Error("expected error for negative known mass")
	}
}

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// steppingTicks advances a fake tick counter by step on every Now, so each
// loop iteration sees exactly one tick interval pass.
type steppingTicks struct {
	f    *clock.Fake
	step time.Duration
}

func (s steppingTicks) Now() clock.Tick { return s.f.Advance(s.step) }

// lockedSource is a load cell the test can change while the loop reads it.
type lockedSource struct {
	mu    sync.Mutex
	raw   int32
	ready bool
}

func (s *lockedSource) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *lockedSource) Read() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw
}

func (s *lockedSource) Set(raw int32) {
	s.mu.Lock()
	s.raw = raw
	s.mu.Unlock()
}

func (s *lockedSource) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

type countingKicker struct{ kicks int }

func (k *countingKicker) Kick() error  { k.kicks++; return nil }
func (k *countingKicker) Close() error { return nil }

type countingLive struct{ n int }

func (c *countingLive) Broadcast() { c.n++ }

type harness struct {
	ctrl     *controller.Controller
	src      *lockedSource
	btn      *gpio.FakeInput
	pump     *gpio.FakeOutput
	store    *store.EEPROM
	pub      *mqtt.FakePublisher
	tracker  *status.Tracker
	kicker   *countingKicker
	live     *countingLive
	commands chan int

	tick chan time.Time
	sig  chan os.Signal
	done chan error
}

var harnessStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// newHarness builds a controller over fakes with unit scale factor (raw
// counts are grams) and a 300 g empty kettle calibrated.
func newHarness(t *testing.T, raw int32) *harness {
	t.Helper()

	st := store.NewMemoryEEPROM(store.DefaultImageSize)
	if err := st.Save(0, store.Record{EmptyValid: true, EmptyWeight: 300, Factor: 1, FactorValid: true}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	scfg := scale.DefaultConfig()
	scfg.TareOnStart = false

	h := &harness{
		src:      &lockedSource{raw: raw, ready: true},
		btn:      gpio.NewFakeInput(false),
		pump:     gpio.NewFakeOutput(),
		store:    st,
		pub:      mqtt.NewFakePublisher(),
		tracker:  status.NewTracker(harnessStart, status.Config{TickMs: 100}),
		kicker:   &countingKicker{},
		live:     &countingLive{},
		commands: make(chan int, 4),
	}
	sensor := scale.New(h.src, st, scfg)
	if err := sensor.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	bank := actuator.New(h.pump, gpio.NewFakeOutput(), gpio.NewFakeOutput(), gpio.NewFakeServo(), actuator.DefaultConfig(), 0)
	h.ctrl = controller.New(controller.DefaultConfig(), h.btn, button.NewDetector(button.DefaultConfig()), sensor, bank)
	return h
}

// start runs runLoop in a goroutine.
func (h *harness) start(heartbeat time.Duration) {
	h.tick = make(chan time.Time)
	h.sig = make(chan os.Signal, 1)
	h.done = make(chan error, 1)

	deps := loopDeps{
		ctrl:        h.ctrl,
		clock:       steppingTicks{f: clock.NewFake(0), step: 100 * time.Millisecond},
		commands:    h.commands,
		publisher:   h.pub,
		tracker:     h.tracker,
		live:        h.live,
		watchdog:    h.kicker,
		statusEvery: 2 * time.Second,
		heartbeat:   heartbeat,
		now:         fakeClock(harnessStart.Add(100*time.Millisecond), 100*time.Millisecond),
	}
	go func() { h.done <- runLoop(deps, h.tick, h.sig) }()
}

func (h *harness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.tick <- time.Time{}
	}
}

// stop signals the loop and waits for it to return.
func (h *harness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	h.sig <- s
	if err := <-h.done; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func eventsOf(pub *mqtt.FakePublisher, typ controller.EventType) []controller.Event {
	var out []controller.Event
	for _, e := range pub.Events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestRunLoopStartsIdleAndShutsDown(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, 300)
	h.start(0)

	h.ticks(5)
	h.stop(t, syscall.SIGTERM)

	if len(h.pub.Events) != 1 {
		t.Fatalf("expected 1 event, got %+v", h.pub.Events)
	}
	e := h.pub.Events[0]
	if e.Type != controller.EventStateChanged || e.From != controller.StateNone || e.To != controller.StateIdle {
		t.Errorf("expected NONE -> IDLE, got %+v", e)
	}

	if len(h.pub.SystemEvents) != 1 || h.pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Fatalf("expected SHUTDOWN, got %+v", h.pub.SystemEvents)
	}
	if h.pub.SystemEvents[0].Reason != "SIGTERM" || !h.pub.SystemEvents[0].Retained {
		t.Errorf("unexpected shutdown event: %+v", h.pub.SystemEvents[0])
	}
	if !strings.Contains(string(h.pub.SystemPayloads[0]), `"state": "IDLE"`) &&
		!strings.Contains(string(h.pub.SystemPayloads[0]), `"state":"IDLE"`) {
		t.Errorf("shutdown payload should carry IDLE state: %s", h.pub.SystemPayloads[0])
	}

	if h.kicker.kicks != 5 {
		t.Errorf("expected a watchdog kick per tick, got %d", h.kicker.kicks)
	}
	if h.tracker.Snapshot().Kettle.State != controller.StateIdle {
		t.Errorf("tracker state: got %q", h.tracker.Snapshot().Kettle.State)
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, 300)
	h.start(0)
	h.ticks(1)
	h.stop(t, syscall.SIGINT)

	if h.pub.SystemEvents[0].Reason != "SIGINT" {
		t.Errorf("expected SIGINT reason, got %q", h.pub.SystemEvents[0].Reason)
	}
}

func TestRunLoopRemoteCommand(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, 300)
	h.start(0)
	h.ticks(6)

	h.commands <- 3
	h.ticks(1)
	h.commands <- 9
	h.ticks(1)
	h.commands <- 8
	h.ticks(2)
	h.stop(t, syscall.SIGTERM)

	cmds := eventsOf(h.pub, controller.EventCommand)
	if len(cmds) != 3 {
		t.Fatalf("expected 3 command results, got %+v", cmds)
	}
	want := []controller.CommandResult{controller.ResultAccepted, controller.ResultRejectedMode, controller.ResultStopped}
	for i, w := range want {
		if cmds[i].Result != w {
			t.Errorf("command %d (mode %d): got %s, want %s", i, cmds[i].Mode, cmds[i].Result, w)
		}
	}
	if cmds[0].Target != 1050 || cmds[0].FillID == "" {
		t.Errorf("accepted command should carry target and fill id: %+v", cmds[0])
	}

	states := eventsOf(h.pub, controller.EventStateChanged)
	last := states[len(states)-1]
	if last.From != controller.StateFilling || last.To != controller.StateIdle {
		t.Errorf("expected fill wound down after stop, got %+v", last)
	}
	for _, on := range h.pump.History {
		if on {
			t.Error("pump must not run before the servo reaches the kettle")
		}
	}

	c := h.tracker.Snapshot().Counts
	if c.Commands != 3 || c.CommandsRejected != 1 || c.FillsStopped != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}
}

func TestRunLoopPublishesLevelsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, 300)
	h.start(0)

	h.ticks(11)
	h.src.Set(1000) // 700 ml
	h.ticks(25)
	h.src.Set(100) // kettle lifted
	h.ticks(25)
	h.stop(t, syscall.SIGTERM)

	want := []mqtt.Level{mqtt.LevelEmpty, mqtt.LevelLow, mqtt.LevelEmpty}
	if len(h.pub.Levels) != len(want) {
		t.Fatalf("levels: got %v, want %v", h.pub.Levels, want)
	}
	for i := range want {
		if h.pub.Levels[i] != want[i] {
			t.Errorf("level %d: got %d, want %d", i, h.pub.Levels[i], want[i])
		}
	}
	if n := len(h.pub.Kettle); n == 0 || h.pub.Kettle[n-1] {
		t.Errorf("expected last kettle report absent, got %v", h.pub.Kettle)
	}
}

func TestRunLoopBroadcastsToLiveFeed(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, 300)
	h.start(0)

	// The first tick is both periodic and carries NONE -> IDLE; the next
	// nine are neither.
	h.ticks(10)
	h.stop(t, syscall.SIGTERM)

	if h.live.n != 1 {
		t.Errorf("expected 1 broadcast, got %d", h.live.n)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	defer goleak.VerifyNone(t)
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "192.168.1.50")

	h := newHarness(t, 300)
	h.start(time.Second)

	// 25 ticks of 100ms: heartbeats at 1s and 2s
	h.ticks(25)
	h.stop(t, syscall.SIGTERM)

	var beats []mqtt.SystemEvent
	for _, e := range h.pub.SystemEvents {
		if e.Event == "HEARTBEAT" {
			beats = append(beats, e)
		}
	}
	if len(beats) != 2 {
		t.Fatalf("expected 2 heartbeats, got %d", len(beats))
	}
	if beats[0].Retained {
		t.Error("heartbeat should not be retained")
	}
	if !strings.Contains(string(beats[0].RawPayload), "192.168.1.50") {
		t.Errorf("heartbeat should carry network info: %s", beats[0].RawPayload)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, 300)
	h.pub.PublishError = errors.New("broker down")
	h.start(0)

	h.ticks(6)
	h.commands <- 2
	h.ticks(2)
	h.stop(t, syscall.SIGTERM)

	if h.ctrl.State() != controller.StateFilling {
		t.Errorf("publish failures must not affect control, state %s", h.ctrl.State())
	}
	if len(h.pub.SystemEvents) != 1 {
		t.Error("shutdown should still be published")
	}
}

func TestRunLoopButtonReadErrorKeepsRunning(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, 300)
	h.btn.ReadError = errors.New("gpio fault")
	h.start(0)

	h.ticks(10)
	h.stop(t, syscall.SIGTERM)

	if h.kicker.kicks != 10 {
		t.Errorf("loop should keep ticking, got %d kicks", h.kicker.kicks)
	}
	if h.ctrl.State() != controller.StateIdle {
		t.Errorf("state: got %s, want IDLE", h.ctrl.State())
	}
}

func TestRunLoopSensorTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, 300)
	h.start(0)

	h.ticks(6)
	h.src.SetReady(false)
	h.ticks(20)
	h.stop(t, syscall.SIGTERM)

	if h.ctrl.State() != controller.StateError || h.ctrl.Fault() != controller.ErrorSensorTimeout {
		t.Errorf("expected ERROR(SENSOR_TIMEOUT), got %s(%s)", h.ctrl.State(), h.ctrl.Fault())
	}
	if h.tracker.Snapshot().Counts.Errors != 1 {
		t.Errorf("expected error counted")
	}
}
