package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
)

// RingBuffer keeps the most recent log output in memory so the CLI can show
// it after a failure without reading the rotated file. Older bytes are
// overwritten once capacity is reached.
type RingBuffer struct {
	mu      sync.Mutex
	data    []byte
	next    int
	wrapped bool
}

// NewRingBuffer allocates capacity bytes (1MB when capacity <= 0).
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1024 * 1024
	}
	return &RingBuffer{data: make([]byte, capacity)}
}

// Write implements io.Writer and never fails.
func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	c := len(r.data)
	if n >= c {
		copy(r.data, p[n-c:])
		r.next = 0
		r.wrapped = true
		return n, nil
	}

	first := copy(r.data[r.next:], p)
	if first < n {
		copy(r.data, p[first:])
		r.wrapped = true
	}
	r.next = (r.next + n) % c
	if r.next == 0 && n > 0 {
		r.wrapped = true
	}
	return n, nil
}

// Bytes returns a copy of the contents, oldest first.
func (r *RingBuffer) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.wrapped {
		return append([]byte(nil), r.data[:r.next]...)
	}
	out := make([]byte, 0, len(r.data))
	out = append(out, r.data[r.next:]...)
	return append(out, r.data[:r.next]...)
}

// LastLines returns up to n complete lines, oldest first. A line cut in half
// by wrap-around is dropped.
func (r *RingBuffer) LastLines(n int) []string {
	if n <= 0 {
		return nil
	}
	r.mu.Lock()
	wrapped := r.wrapped
	r.mu.Unlock()

	buf := r.Bytes()
	if wrapped {
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		} else {
			return nil
		}
	}
	buf = bytes.TrimRight(buf, "\n")
	if len(buf) == 0 {
		return nil
	}
	parts := bytes.Split(buf, []byte{'\n'})
	if len(parts) > n {
		parts = parts[len(parts)-n:]
	}
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(p)
	}
	return lines
}

// DumpToFile writes the contents to path, creating parent directories.
func (r *RingBuffer) DumpToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, r.Bytes(), 0o600)
}
