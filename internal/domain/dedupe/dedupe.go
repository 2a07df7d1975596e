// Package dedupe drops submissions whose content has already been accepted.
package dedupe

import (
	"context"
	"sync"
)

// Deduper records document fingerprints so identical submissions are merged
// only once.
type Deduper interface {
	// SeenAndRecord atomically checks whether fp was seen and records it if
	// not. It returns true for duplicates.
	SeenAndRecord(ctx context.Context, fp string) bool

	// Unrecord forgets fp so a submission that was accepted but could not be
	// queued can be retried.
	Unrecord(ctx context.Context, fp string)

	// Reset forgets everything, used at the day boundary.
	Reset(ctx context.Context)

	Size() int64
}

// fingerprintSet keeps fingerprints in a map and, when bounded, a ring of
// insertion order so the oldest fingerprint is evicted first.
type fingerprintSet struct {
	mu      sync.Mutex
	seen    map[string]int // fingerprint -> ring slot, -1 when unbounded
	ring    []string
	next    int
	maxSize int
}

// NewInMemoryDeduper creates a deduper. The default keeps the 50000 most
// recent fingerprints.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &fingerprintSet{maxSize: 50000}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}
	return d
}

func (d *fingerprintSet) SeenAndRecord(_ context.Context, fp string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[fp]; ok {
		return true
	}
	if d.maxSize <= 0 {
		d.seen[fp] = -1
		return false
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = fp
	d.seen[fp] = d.next
	d.next = (d.next + 1) % d.maxSize
	return false
}

func (d *fingerprintSet) Unrecord(_ context.Context, fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.seen[fp]
	if !ok {
		return
	}
	delete(d.seen, fp)
	if slot >= 0 {
		d.ring[slot] = ""
	}
}

func (d *fingerprintSet) Reset(_ context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen = make(map[string]int)
	for i := range d.ring {
		d.ring[i] = ""
	}
	d.next = 0
}

func (d *fingerprintSet) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
