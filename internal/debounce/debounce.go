package debounce

import (
	"sync"
	"time"
)

type entry struct {
	timer *time.Timer
	fn    func()
	gen   uint64
}

// Debouncer runs the latest function scheduled for a key once that key has
// been quiet for the requested delay. Keys are independent.
type Debouncer struct {
	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
	stopped bool
}

func New() *Debouncer {
	return &Debouncer{entries: make(map[string]*entry)}
}

// Schedule replaces any pending call for key and restarts its window.
func (d *Debouncer) Schedule(key string, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if e, ok := d.entries[key]; ok {
		e.timer.Stop()
	}
	d.gen++
	e := &entry{fn: fn, gen: d.gen}
	e.timer = time.AfterFunc(delay, func() { d.fire(key, e.gen) })
	d.entries[key] = e
}

func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok || e.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.entries, key)
	d.mu.Unlock()
	e.fn()
}

// Flush runs the pending call for key now, on the caller's goroutine.
func (d *Debouncer) Flush(key string) bool {
	d.mu.Lock()
	e, ok := d.entries[key]
	if ok {
		e.timer.Stop()
		delete(d.entries, key)
	}
	d.mu.Unlock()
	if ok {
		e.fn()
	}
	return ok
}

// Cancel drops the pending call for key without running it.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if ok {
		e.timer.Stop()
		delete(d.entries, key)
	}
	return ok
}

func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[key]
	return ok
}

// Stop cancels everything and refuses further scheduling.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for k, e := range d.entries {
		e.timer.Stop()
		delete(d.entries, k)
	}
}
