package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"pgregory.net/rapid"
)

func TestRecordLayout(t *testing.T) {
	rec := Record{EmptyValid: true, EmptyWeight: 1.5, Factor: 0.5, FactorValid: true}

	b, err := rec.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := []byte{
		0xAA, 0, 0, 0,
		0x00, 0x00, 0xC0, 0x3F, // 1.5
		0x00, 0x00, 0x00, 0x3F, // 0.5
		0xAA,
	}
	if !bytes.Equal(b, want) {
		t.Errorf("layout mismatch\nwant % x\n got % x", want, b)
	}
}

func TestUnmarshalIgnoresUnflaggedFields(t *testing.T) {
	b := []byte{
		0x00, 0, 0, 0,
		0x00, 0x00, 0xC0, 0x3F,
		0x00, 0x00, 0x00, 0x3F,
		0xAA,
	}

	var rec Record
	if err := rec.UnmarshalBinary(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.EmptyValid || rec.EmptyWeight != 0 {
		t.Errorf("empty weight decoded without flag: %+v", rec)
	}
	if !rec.FactorValid || rec.Factor != 0.5 {
		t.Errorf("expected factor 0.5, got %+v", rec)
	}
}

func TestUnmarshalShort(t *testing.T) {
	var rec Record
	err := rec.UnmarshalBinary(make([]byte, RecordSize-1))
	if !errors.Is(err, ErrShortRecord) {
		t.Errorf("expected ErrShortRecord, got %v", err)
	}
}

func TestErasedImageNotFound(t *testing.T) {
	e := NewMemoryEEPROM(DefaultImageSize)

	rec, found, err := e.Load(0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Errorf("erased image reported a record: %+v", rec)
	}
}

func TestSlotRange(t *testing.T) {
	e := NewMemoryEEPROM(64)

	tests := []struct {
		slot int
		ok   bool
	}{
		{0, true},
		{64 - RecordSize, true},
		{64 - RecordSize + 1, false},
		{-1, false},
	}

	for _, tt := range tests {
		err := e.Save(tt.slot, Record{FactorValid: true, Factor: 1})
		if tt.ok && err != nil {
			t.Errorf("slot %d: unexpected error %v", tt.slot, err)
		}
		if !tt.ok && !errors.Is(err, ErrSlotRange) {
			t.Errorf("slot %d: expected ErrSlotRange, got %v", tt.slot, err)
		}
	}
}

func TestSaveDoesNotDisturbNeighbours(t *testing.T) {
	e := NewMemoryEEPROM(64)

	if err := e.Save(16, Record{EmptyValid: true, EmptyWeight: 300}); err != nil {
		t.Fatalf("save: %v", err)
	}

	img := e.Bytes()
	for i, b := range img[:16] {
		if b != 0xFF {
			t.Fatalf("byte %d modified: %#x", i, b)
		}
	}
	for i, b := range img[16+RecordSize:] {
		if b != 0xFF {
			t.Fatalf("byte %d modified: %#x", 16+RecordSize+i, b)
		}
	}
}

func TestEEPROMFileSurvivesPowerCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eeprom.bin")

	e, err := OpenEEPROM(path, DefaultImageSize)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	want := Record{EmptyValid: true, EmptyWeight: 312.5, Factor: 0.00042, FactorValid: true}
	if err := e.Save(0, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != DefaultImageSize {
		t.Errorf("expected %d byte image, got %d", DefaultImageSize, info.Size())
	}

	reopened, err := OpenEEPROM(path, DefaultImageSize)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, found, err := reopened.Load(0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found || got != want {
		t.Errorf("expected %+v, got %+v (found=%v)", want, got, found)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	r, ok := s.(*Redis)
	if !ok {
		t.Fatalf("expected *Redis, got %T", s)
	}
	r.Close()

	s, err = Open(filepath.Join(t.TempDir(), "eeprom.bin"))
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	if _, ok := s.(*EEPROM); !ok {
		t.Fatalf("expected *EEPROM, got %T", s)
	}
}

func TestRedisKey(t *testing.T) {
	r := newRedis(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "kf")
	defer r.Close()

	if got := r.key(12); got != "kf:12" {
		t.Errorf("expected kf:12, got %s", got)
	}
}

// TestRedisRoundTrip needs a live server: KETTLE_TEST_REDIS=redis://localhost:6379/15
func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("KETTLE_TEST_REDIS")
	if url == "" {
		t.Skip("KETTLE_TEST_REDIS not set")
	}

	r, err := NewRedis(url, "kettle-filler-test")
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	defer r.Close()

	want := Record{EmptyValid: true, EmptyWeight: 250, Factor: 0.0005, FactorValid: true}
	if err := r.Save(3, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := r.Load(3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found || got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestPowerCycleRoundTripProperty(t *testing.T) {
	dir := t.TempDir()
	rapid.Check(t, func(t *rapid.T) {
		path := filepath.Join(dir, "eeprom.bin")
		os.Remove(path)

		rec := Record{
			EmptyValid:  rapid.Bool().Draw(t, "emptyValid"),
			FactorValid: rapid.Bool().Draw(t, "factorValid"),
		}
		if rec.EmptyValid {
			rec.EmptyWeight = rapid.Float32Range(100, 5000).Draw(t, "empty")
		}
		if rec.FactorValid {
			rec.Factor = rapid.Float32Range(1e-6, 1).Draw(t, "factor")
		}
		slot := rapid.IntRange(0, DefaultImageSize-RecordSize).Draw(t, "slot")

		e, err := OpenEEPROM(path, DefaultImageSize)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := e.Save(slot, rec); err != nil {
			t.Fatalf("save: %v", err)
		}

		reopened, err := OpenEEPROM(path, DefaultImageSize)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		got, found, err := reopened.Load(slot)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if found != rec.Present() {
			t.Fatalf("found=%v, want %v", found, rec.Present())
		}
		if got != rec {
			t.Fatalf("expected %+v, got %+v", rec, got)
		}
	})
}
