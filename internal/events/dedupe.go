package events

import "sync"

// Deduper remembers recently seen event keys so at-least-once consumers can
// skip redeliveries. The oldest keys are evicted once capacity is reached.
type Deduper struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string
}

func NewDeduper(capacity int) *Deduper {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Deduper{capacity: capacity, seen: make(map[string]struct{}, capacity)}
}

// Seen reports whether evt was already observed and records it if not.
func (d *Deduper) Seen(evt Event) bool {
	key := evt.Key()
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return true
	}
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	return false
}

// Forget drops evt's key so a redelivery is processed again.
func (d *Deduper) Forget(evt Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, evt.Key())
}
