package session

import (
	"fmt"
	"time"
)

// LowTimeThreshold is the overall remaining time at which the one-shot
// low-time notification fires.
const LowTimeThreshold = 5 * time.Minute

// Timer tracks the overall exam countdown and the optional per-section
// countdown against absolute deadlines. Remaining time is recomputed from
// the deadline on every tick, so a delayed or coalesced tick can never make
// the countdown lag behind wall-clock time.
//
// The overall countdown freezes while the session sits in an intro screen;
// freezing shifts the deadline forward by the frozen duration on resume.
type Timer struct {
	examDeadline    time.Time
	sectionDeadline time.Time
	frozenAt        time.Time
	lowTimeFired    bool
}

// NewTimer starts the overall countdown: deadline = now + total duration.
func NewTimer(now time.Time, total time.Duration) *Timer {
	return &Timer{examDeadline: now.Add(total)}
}

// Freeze pauses the overall countdown. No-op if already frozen.
func (t *Timer) Freeze(now time.Time) {
	if t.frozenAt.IsZero() {
		t.frozenAt = now
		t.sectionDeadline = time.Time{}
	}
}

// Resume unpauses the overall countdown, extending the deadline by the
// frozen duration.
func (t *Timer) Resume(now time.Time) {
	if !t.frozenAt.IsZero() {
		t.examDeadline = t.examDeadline.Add(now.Sub(t.frozenAt))
		t.frozenAt = time.Time{}
	}
}

// Frozen reports whether the countdown is currently paused.
func (t *Timer) Frozen() bool {
	return !t.frozenAt.IsZero()
}

// StartSection begins a fresh per-section countdown.
func (t *Timer) StartSection(now time.Time, limit time.Duration) {
	t.sectionDeadline = now.Add(limit)
}

// ExamRemaining returns the overall remaining time, clamped at zero.
func (t *Timer) ExamRemaining(now time.Time) time.Duration {
	if t.Frozen() {
		now = t.frozenAt
	}
	remaining := t.examDeadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SectionRemaining returns the active section's remaining time, clamped at
// zero. The second return is false when no section countdown is running.
func (t *Timer) SectionRemaining(now time.Time) (time.Duration, bool) {
	if t.sectionDeadline.IsZero() {
		return 0, false
	}
	remaining := t.sectionDeadline.Sub(now)
	if remaining < 0 {
		return 0, true
	}
	return remaining, true
}

// ExamExpired reports whether the overall deadline has passed.
func (t *Timer) ExamExpired(now time.Time) bool {
	return !t.Frozen() && !now.Before(t.examDeadline)
}

// SectionExpired reports whether the active section deadline has passed.
func (t *Timer) SectionExpired(now time.Time) bool {
	return !t.sectionDeadline.IsZero() && !now.Before(t.sectionDeadline)
}

// CrossedLowTime fires exactly once, on the tick where the overall
// remaining time first reaches the low-time threshold.
func (t *Timer) CrossedLowTime(now time.Time) bool {
	if t.lowTimeFired {
		return false
	}
	if t.ExamRemaining(now) <= LowTimeThreshold {
		t.lowTimeFired = true
		return true
	}
	return false
}

// FormatClock renders a duration as zero-padded HH:MM:SS.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
