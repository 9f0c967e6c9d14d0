package services

import "sync"

// TimerSync mirrors the server's countdown for one auction car. The displayed
// value is always the last value the server sent; nothing is decremented locally.
type TimerSync struct {
	mu        sync.Mutex
	remaining int
	onExpired func()
}

func NewTimerSync(onExpired func()) *TimerSync {
	return &TimerSync{onExpired: onExpired}
}

// Tick applies a periodic countdown value.
func (t *TimerSync) Tick(remainingSeconds int) {
	t.apply(remainingSeconds)
}

// Reset applies a server-side reset, e.g. after a late bid extended the lot.
func (t *TimerSync) Reset(remainingSeconds int) {
	t.apply(remainingSeconds)
}

// Seed sets the value from a join snapshot without firing expiration.
func (t *TimerSync) Seed(remainingSeconds int) {
	if remainingSeconds < 0 {
		remainingSeconds = 0
	}
	t.mu.Lock()
	t.remaining = remainingSeconds
	t.mu.Unlock()
}

// apply fires expiration only on a >0 to 0 edge.
func (t *TimerSync) apply(remainingSeconds int) {
	if remainingSeconds < 0 {
		remainingSeconds = 0
	}

	t.mu.Lock()
	fire := t.remaining > 0 && remainingSeconds == 0
	t.remaining = remainingSeconds
	fn := t.onExpired
	t.mu.Unlock()

	if fire && fn != nil {
		fn()
	}
}

func (t *TimerSync) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *TimerSync) Expired() bool {
	return t.Remaining() == 0
}
