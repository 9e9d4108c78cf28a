package auth

import (
	"sync"
	"time"
)

type watchdogState int

const (
	watchdogIdle watchdogState = iota
	watchdogMonitoring
	watchdogWarned
	watchdogExpired
)

// watchdog periodically decodes the access token expiry and drives the
// warning/expiry notifications. It emits the "expiring soon" warning at most
// once per credential lifetime; a manual refresh moves it back to plain
// monitoring without waiting for the next tick.
//
// Callbacks are invoked without holding the watchdog lock, so they may call
// back into the owning manager.
type watchdog struct {
	interval time.Duration
	warnAt   time.Duration
	now      func() time.Time

	expiry    func() (time.Time, bool)
	onWarning func(remaining time.Duration)
	onExpired func()

	mu    sync.Mutex
	state watchdogState
	stop  chan struct{}
}

func newWatchdog(interval, warnAt time.Duration, now func() time.Time) *watchdog {
	return &watchdog{
		interval: interval,
		warnAt:   warnAt,
		now:      now,
		state:    watchdogIdle,
	}
}

// Start begins monitoring. A running watchdog is restarted, which also
// resets the warning flag for the new credential lifetime.
func (w *watchdog) Start() {
	w.mu.Lock()
	w.stopLocked()
	w.state = watchdogMonitoring
	stop := make(chan struct{})
	w.stop = stop
	w.mu.Unlock()

	go w.run(stop)
}

// Stop ends monitoring. Safe to call repeatedly and from tick callbacks.
func (w *watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.state = watchdogIdle
}

func (w *watchdog) stopLocked() {
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}

// ResetWarning re-arms the single-shot warning after a manual refresh.
func (w *watchdog) ResetWarning() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == watchdogWarned {
		w.state = watchdogMonitoring
	}
}

func (w *watchdog) run(stop chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *watchdog) tick() {
	w.mu.Lock()
	if w.state != watchdogMonitoring && w.state != watchdogWarned {
		w.mu.Unlock()
		return
	}

	exp, ok := w.expiry()
	remaining := time.Duration(-1)
	if ok {
		remaining = exp.Sub(w.now())
	}

	switch {
	case remaining <= 0:
		// Hard expiry (or undecodable token): fire once, then go idle.
		w.state = watchdogExpired
		w.stopLocked()
		w.state = watchdogIdle
		w.mu.Unlock()
		if w.onExpired != nil {
			w.onExpired()
		}
	case remaining <= w.warnAt && w.state == watchdogMonitoring:
		w.state = watchdogWarned
		w.mu.Unlock()
		if w.onWarning != nil {
			w.onWarning(remaining)
		}
	default:
		w.mu.Unlock()
	}
}
