// Package serialadc reads HX711 conversions streamed by a USB serial bridge.
//
// The bridge prints one signed decimal count per line. A background
// goroutine keeps the most recent count so the control loop never blocks
// on the port.
package serialadc

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultBaud is the bridge's line rate.
const DefaultBaud = 115200

// DefaultStale is how old the last count may be before the source reports
// itself unavailable. The HX711 converts at 10 Hz.
const DefaultStale = 500 * time.Millisecond

// maxLine bounds a line so a bridge spewing garbage cannot grow memory.
const maxLine = 32

// Reader is a scale.RawSource backed by a serial stream.
type Reader struct {
	src   io.ReadCloser
	stale time.Duration
	now   func() time.Time

	mu     sync.Mutex
	count  int32
	at     time.Time
	have   bool
	bad    int
	closed bool

	wg sync.WaitGroup
}

// Open opens the serial device at path and starts reading.
func Open(path string, baud int) (*Reader, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// Bound each read so Close is noticed even when the bridge is silent.
	if err := port.SetReadTimeout(250 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return NewReader(port, DefaultStale), nil
}

// NewReader starts reading counts from src.
func NewReader(src io.ReadCloser, stale time.Duration) *Reader {
	return newReader(src, stale, time.Now)
}

func newReader(src io.ReadCloser, stale time.Duration, now func() time.Time) *Reader {
	r := &Reader{src: src, stale: stale, now: now}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Available reports whether a count arrived within the staleness window.
func (r *Reader) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.have && r.now().Sub(r.at) < r.stale
}

// Read returns the most recent count.
func (r *Reader) Read() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Rejected returns the number of lines that did not parse.
func (r *Reader) Rejected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bad
}

// Close stops the reader and closes the port.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.src.Close()
	r.wg.Wait()
	return err
}

func (r *Reader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Reader) loop() {
	defer r.wg.Done()

	buf := make([]byte, 64)
	var line []byte
	for {
		n, err := r.src.Read(buf)
		for _, b := range buf[:n] {
			switch {
			case b == '\n':
				r.handle(string(line))
				line = line[:0]
			case len(line) < maxLine:
				line = append(line, b)
			}
		}
		if err != nil {
			if !r.isClosed() && !errors.Is(err, io.EOF) {
				log.Printf("serialadc: read: %v", err)
			}
			return
		}
		if n == 0 && r.isClosed() {
			return
		}
	}
}

func (r *Reader) handle(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	v, err := strconv.ParseInt(line, 10, 32)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if r.bad == 0 {
			log.Printf("serialadc: ignoring malformed line %q", line)
		}
		r.bad++
		return
	}
	r.count = int32(v)
	r.at = r.now()
	r.have = true
}
