package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatClock(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{59 * time.Second, "00:00:59"},
		{5 * time.Minute, "00:05:00"},
		{90*time.Minute + 7*time.Second, "01:30:07"},
		{10 * time.Hour, "10:00:00"},
		{-3 * time.Second, "00:00:00"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatClock(tc.d), "duration %v", tc.d)
	}
}

func TestTimerExamRemaining(t *testing.T) {
	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	tm := NewTimer(start, 30*time.Minute)

	assert.Equal(t, 30*time.Minute, tm.ExamRemaining(start))
	assert.Equal(t, 20*time.Minute, tm.ExamRemaining(start.Add(10*time.Minute)))
	assert.Equal(t, time.Duration(0), tm.ExamRemaining(start.Add(time.Hour)))
	assert.True(t, tm.ExamExpired(start.Add(30*time.Minute+time.Second)))
}

func TestTimerFreezeExtendsDeadline(t *testing.T) {
	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	tm := NewTimer(start, 30*time.Minute)

	tm.Freeze(start.Add(5 * time.Minute))
	assert.True(t, tm.Frozen())

	// Remaining time holds still while frozen.
	assert.Equal(t, 25*time.Minute, tm.ExamRemaining(start.Add(9*time.Minute)))

	tm.Resume(start.Add(10 * time.Minute))
	assert.False(t, tm.Frozen())
	assert.Equal(t, 25*time.Minute, tm.ExamRemaining(start.Add(10*time.Minute)))
}

func TestTimerSectionCountdown(t *testing.T) {
	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	tm := NewTimer(start, time.Hour)

	_, ok := tm.SectionRemaining(start)
	assert.False(t, ok)

	tm.StartSection(start, 10*time.Minute)
	remaining, ok := tm.SectionRemaining(start.Add(4 * time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 6*time.Minute, remaining)

	assert.False(t, tm.SectionExpired(start.Add(10*time.Minute-time.Second)))
	assert.True(t, tm.SectionExpired(start.Add(10*time.Minute)))
}

func TestCrossedLowTimeIsOneShot(t *testing.T) {
	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	tm := NewTimer(start, 30*time.Minute)

	assert.False(t, tm.CrossedLowTime(start.Add(24*time.Minute)))
	assert.True(t, tm.CrossedLowTime(start.Add(26*time.Minute)))
	assert.False(t, tm.CrossedLowTime(start.Add(27*time.Minute)))
	assert.False(t, tm.CrossedLowTime(start.Add(29*time.Minute)))
}
