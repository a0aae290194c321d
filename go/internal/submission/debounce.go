package submission

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
)

// Debouncer delays name checks until input has been idle for delay. Names
// shorter than minLength never fire and cancel any pending check.
type Debouncer struct {
	clock     clockwork.Clock
	delay     time.Duration
	minLength int
	fire      func(name string)

	mu      sync.Mutex
	timer   clockwork.Timer
	gen     uint64
	stopped bool
}

// NewDebouncer creates a Debouncer calling fire on the trailing edge
func NewDebouncer(clock clockwork.Clock, delay time.Duration, minLength int, fire func(name string)) *Debouncer {
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &Debouncer{
		clock:     clock,
		delay:     delay,
		minLength: minLength,
		fire:      fire,
	}
}

// Trigger records new input, replacing any pending check
func (d *Debouncer) Trigger(name string) {
	name = strings.TrimSpace(name)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.cancelLocked()
	if utf8.RuneCountInString(name) < d.minLength {
		return
	}

	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current := d.gen == gen && !d.stopped
		if current {
			d.timer = nil
		}
		d.mu.Unlock()
		if current {
			d.fire(name)
		}
	})
}

func (d *Debouncer) cancelLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Stop cancels any pending check; later triggers are ignored
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}
