package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Downlink accumulates chunks received from the satellite into a staging file.
type Downlink struct {
	ID       string
	Filename string
	Path     string

	mu      sync.Mutex
	file    *os.File
	chunks  int
	removed bool
}

func NewDownlink(dir, id, filename string) (*Downlink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%s", safeName(id), uuid.NewString(), safeName(filepath.Base(filename)))
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return &Downlink{ID: id, Filename: filename, Path: path, file: file}, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, s)
}

// Append writes one chunk and returns the number of chunks received so far.
func (d *Downlink) Append(data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return d.chunks, fmt.Errorf("downlink %s is closed", d.ID)
	}
	if _, err := d.file.Write(data); err != nil {
		return d.chunks, fmt.Errorf("write chunk %d: %w", d.chunks+1, err)
	}
	d.chunks++
	return d.chunks, nil
}

// Finish flushes a non-empty final chunk and closes the staging file. It
// reports the chunk count and whether the final chunk was written.
func (d *Downlink) Finish(final []byte) (int, bool, error) {
	flushed := false
	if len(final) > 0 {
		if _, err := d.Append(final); err != nil {
			return d.Chunks(), false, err
		}
		flushed = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return d.chunks, flushed, fmt.Errorf("downlink %s is closed", d.ID)
	}
	err := d.file.Close()
	d.file = nil
	if err != nil {
		return d.chunks, flushed, fmt.Errorf("close staging file: %w", err)
	}
	return d.chunks, flushed, nil
}

func (d *Downlink) Chunks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chunks
}

// Remove closes and deletes the staging file. It is safe to call more than once.
func (d *Downlink) Remove() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.removed {
		return nil
	}
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
	d.removed = true
	if err := os.Remove(d.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staging file: %w", err)
	}
	return nil
}
