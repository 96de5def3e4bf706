package device

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// TimerKey identifies a pending countdown timer. One timer may exist per
// device channel; setting a new one replaces the old.
type TimerKey struct {
	DeviceID  string
	ChannelID string
}

// Timer is a one-shot countdown that flips a channel when it fires.
// TurnOn records the action captured at creation time: the inverse of
// the channel's state at that moment, so "tắt đèn sau 10 phút" keeps its
// meaning even if someone toggles the light by hand in between.
type Timer struct {
	Key        TimerKey
	DeviceName string
	TurnOn     bool
	FiresAt    time.Time
	CreatedAt  time.Time
}

// Label returns the pending-timer label shown next to a device,
// e.g. "TẮT sau 9p".
func (t *Timer) Label(now time.Time) string {
	minutes := int(t.FiresAt.Sub(now).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%s sau %dp", actionWord(t.TurnOn), minutes)
}

func actionWord(on bool) string {
	if on {
		return "BẬT"
	}
	return "TẮT"
}

// Scheduler holds pending countdown timers in memory. Timers do not
// survive a restart; a hub reboot within a countdown simply drops it,
// which is the safe behaviour for "turn off later" commands.
type Scheduler struct {
	mu     sync.Mutex
	timers map[TimerKey]*Timer
	clock  func() time.Time
}

// NewScheduler creates an empty timer scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[TimerKey]*Timer),
		clock:  time.Now,
	}
}

// Set schedules a countdown on a device channel and returns the spoken
// confirmation. currentlyOn is the channel's state now; the timer fires
// the opposite action. A duration of zero or less cancels any pending
// timer on the channel instead.
func (s *Scheduler) Set(key TimerKey, deviceName string, currentlyOn bool, after time.Duration) string {
	if after <= 0 {
		return s.Cancel(key)
	}

	now := s.clock()
	turnOn := !currentlyOn

	s.mu.Lock()
	s.timers[key] = &Timer{
		Key:        key,
		DeviceName: deviceName,
		TurnOn:     turnOn,
		FiresAt:    now.Add(after),
		CreatedAt:  now,
	}
	s.mu.Unlock()

	minutes := int(after.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Sẽ %s %s sau %d phút.", actionWord(turnOn), deviceName, minutes)
}

// Remove deletes the pending timer on the channel. It returns
// ErrTimerNotFound when no timer was set.
func (s *Scheduler) Remove(key TimerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[key]; !ok {
		return ErrTimerNotFound
	}
	delete(s.timers, key)
	return nil
}

// Cancel removes any pending timer on the channel and returns the
// confirmation message. Cancelling when nothing is scheduled is not an
// error, but the reply says so instead of claiming a cancellation.
func (s *Scheduler) Cancel(key TimerKey) string {
	if errors.Is(s.Remove(key), ErrTimerNotFound) {
		return "Hiện không có hẹn giờ nào."
	}
	return "Đã hủy hẹn giờ."
}

// Get returns the pending timer for a channel, if any.
func (s *Scheduler) Get(key TimerKey) (*Timer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[key]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// Pending returns copies of all pending timers.
func (s *Scheduler) Pending() []Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Timer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, *t)
	}
	return out
}

// Due removes and returns every timer that has fired by now. The caller
// executes the actions; a timer popped here never fires twice.
func (s *Scheduler) Due(now time.Time) []Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Timer
	for key, t := range s.timers {
		if !t.FiresAt.After(now) {
			due = append(due, *t)
			delete(s.timers, key)
		}
	}
	return due
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
