package watcher

import (
	"sync"
	"time"
)

// Kind is the effect a filesystem change has on the catalog.
type Kind int

const (
	// KindUpsert covers file creation and modification; the record is
	// re-read either way.
	KindUpsert Kind = iota
	// KindRemove means the record file is gone.
	KindRemove
)

func (k Kind) String() string {
	if k == KindRemove {
		return "remove"
	}
	return "upsert"
}

// Event is a debounced dataset file event.
type Event struct {
	Path      string
	Kind      Kind
	Timestamp time.Time
}

// Debouncer coalesces rapid events per path: editors typically fire
// several writes per save. Remove always wins over a pending upsert.
type Debouncer struct {
	delay  time.Duration
	events map[string]*pendingEvent
	mu     sync.Mutex
	output chan Event
	stopCh chan struct{}
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given delay.
func NewDebouncer(delayMs int) *Debouncer {
	return &Debouncer{
		delay:  time.Duration(delayMs) * time.Millisecond,
		events: make(map[string]*pendingEvent),
		output: make(chan Event, 100),
		stopCh: make(chan struct{}),
	}
}

// Events returns the channel of debounced events.
func (d *Debouncer) Events() <-chan Event {
	return d.output
}

// Add records an event for path, restarting its debounce window.
func (d *Debouncer) Add(path string, kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.stopCh:
		return
	default:
	}

	event := Event{Path: path, Kind: kind, Timestamp: time.Now()}

	if pending, exists := d.events[path]; exists {
		pending.timer.Stop()

		// Remove sticks: once the file is gone, later stale writes from
		// the same burst must not resurrect it.
		if pending.event.Kind != KindRemove {
			pending.event.Kind = kind
		}
		pending.event.Timestamp = event.Timestamp
		pending.timer = time.AfterFunc(d.delay, func() {
			d.emit(path)
		})
		return
	}

	d.events[path] = &pendingEvent{
		event: event,
		timer: time.AfterFunc(d.delay, func() {
			d.emit(path)
		}),
	}
}

func (d *Debouncer) emit(path string) {
	d.mu.Lock()
	pending, exists := d.events[path]
	if exists {
		delete(d.events, path)
	}
	d.mu.Unlock()

	if exists {
		select {
		case d.output <- pending.event:
		case <-d.stopCh:
		}
	}
}

// Flush immediately emits all pending events.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	paths := make([]string, 0, len(d.events))
	for path, pending := range d.events {
		pending.timer.Stop()
		paths = append(paths, path)
	}
	d.mu.Unlock()

	for _, path := range paths {
		d.emit(path)
	}
}

// Stop discards pending events and closes the output channel.
func (d *Debouncer) Stop() {
	close(d.stopCh)

	d.mu.Lock()
	for _, pending := range d.events {
		pending.timer.Stop()
	}
	d.events = make(map[string]*pendingEvent)
	d.mu.Unlock()

	close(d.output)
}

// PendingCount returns the number of events awaiting their window.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}
