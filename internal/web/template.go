package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/kettle-filler/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"stateClass": func(s string) string {
		switch s {
		case "":
			return "unknown"
		case "ERROR":
			return "error"
		case "FILLING":
			return "on"
		}
		return "off"
	},
	"grams": func(g float64) string {
		return fmt.Sprintf("%.1f g", g)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Kettle Filler</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.error { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Kettle Filler<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>State</h2>
<table>
<tr><th>State</th><td id="state" class="{{stateClass (printf "%s" .Kettle.State)}}">{{stateOrUnknown (printf "%s" .Kettle.State)}}{{if .Kettle.Error}} ({{.Kettle.Error}}){{end}}</td></tr>
<tr><th>Ready</th><td id="ready">{{if .Kettle.Ready}}yes{{else}}no{{end}}</td></tr>
<tr><th>Kettle</th><td id="present">{{if .Kettle.KettlePresent}}present{{else}}absent{{end}}</td></tr>
<tr><th>Weight</th><td id="weight">{{grams .Kettle.Weight}}</td></tr>
<tr><th>Water</th><td id="water">{{printf "%.1f ml" .Kettle.Water}}</td></tr>
<tr><th>Empty weight</th><td>{{grams .Kettle.EmptyWeight}}</td></tr>
{{if .Kettle.FillID}}<tr><th>Last fill</th><td>{{.Kettle.FillID}}: {{grams .Kettle.FillStart}} to {{grams .Kettle.FillTarget}}</td></tr>{{end}}
</table>

<h2>Actuators</h2>
<table>
<tr><th>Pump</th><td id="pump" class="{{if .Kettle.PumpOn}}on{{else}}off{{end}}">{{if .Kettle.PumpOn}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Kettle power</th><td id="power" class="{{if .Kettle.KettlePower}}on{{else}}off{{end}}">{{if .Kettle.KettlePower}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Servo</th><td id="servo">{{.Kettle.Servo}}</td></tr>
<tr><th>Buzzer</th><td id="buzzer">{{.Kettle.Buzzer}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Fills</th><td>{{.Counts.Fills}}</td></tr>
<tr><th>Completed</th><td>{{.Counts.FillsCompleted}}</td></tr>
<tr><th>Stopped</th><td>{{.Counts.FillsStopped}}</td></tr>
<tr><th>Errors</th><td>{{.Counts.Errors}}</td></tr>
<tr><th>Commands</th><td>{{.Counts.Commands}} ({{.Counts.CommandsRejected}} rejected)</td></tr>
<tr><th>Calibrations</th><td>{{.Counts.Calibrations}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Sensor</th><td>{{.Config.Sensor}}</td></tr>
<tr><th>Store</th><td>{{.Config.Store}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function $(id) { return document.getElementById(id); }
  function onOff(el, on) {
    el.textContent = on ? "ON" : "OFF";
    el.className = on ? "on" : "off";
  }
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(m) {
      try {
        var k = JSON.parse(m.data).status.kettle;
        $("state").textContent = k.state + (k.error ? " (" + k.error + ")" : "");
        $("state").className = k.state === "ERROR" ? "error" : k.state === "FILLING" ? "on" : k.state === "UNKNOWN" ? "unknown" : "off";
        $("ready").textContent = k.ready ? "yes" : "no";
        $("present").textContent = k.present ? "present" : "absent";
        $("weight").textContent = k.weight_g.toFixed(1) + " g";
        $("water").textContent = k.water_ml.toFixed(1) + " ml";
        onOff($("pump"), k.pump);
        onOff($("power"), k.power);
        $("servo").textContent = k.servo;
        $("buzzer").textContent = k.buzzer;
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
