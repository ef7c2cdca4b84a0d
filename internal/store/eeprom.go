package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// EEPROM is a byte-addressable image, optionally backed by a file. Every Save
// rewrites the whole file atomically, the same way a flash EEPROM emulation
// commits a page.
type EEPROM struct {
	mu    sync.Mutex
	path  string
	image []byte
}

// NewMemoryEEPROM returns an erased in-memory image of the given size.
func NewMemoryEEPROM(size int) *EEPROM {
	return &EEPROM{image: erased(size)}
}

// OpenEEPROM loads the image at path. A missing file yields an erased image;
// the file is created on the first Save.
func OpenEEPROM(path string, size int) (*EEPROM, error) {
	image := erased(size)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read eeprom image: %w", err)
	default:
		copy(image, data)
	}

	return &EEPROM{path: path, image: image}, nil
}

func erased(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

func (e *EEPROM) checkSlot(slot int) error {
	if slot < 0 || slot+RecordSize > len(e.image) {
		return fmt.Errorf("slot %d: %w (image %d bytes)", slot, ErrSlotRange, len(e.image))
	}
	return nil
}

// Load implements Store.
func (e *EEPROM) Load(slot int) (Record, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkSlot(slot); err != nil {
		return Record{}, false, err
	}

	var rec Record
	if err := rec.UnmarshalBinary(e.image[slot : slot+RecordSize]); err != nil {
		return Record{}, false, err
	}
	return rec, rec.Present(), nil
}

// Save implements Store.
func (e *EEPROM) Save(slot int, rec Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkSlot(slot); err != nil {
		return err
	}

	b, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	copy(e.image[slot:], b)

	return e.commit()
}

// commit writes the image to its file, if any.
func (e *EEPROM) commit() error {
	if e.path == "" {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(e.path), ".eeprom-*")
	if err != nil {
		return fmt.Errorf("commit eeprom: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(e.image); err != nil {
		tmp.Close()
		return fmt.Errorf("commit eeprom: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("commit eeprom: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("commit eeprom: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		return fmt.Errorf("commit eeprom: %w", err)
	}
	return nil
}

// Bytes returns a copy of the image.
func (e *EEPROM) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, len(e.image))
	copy(out, e.image)
	return out
}
