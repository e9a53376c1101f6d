package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/session"
)

// newTestSessionService builds a service with an unreachable Redis so the
// best-effort side effects fail fast, and a short retirement grace so
// tests observe cleanup promptly.
func newTestSessionService(t *testing.T) *SessionService {
	t.Helper()
	return &SessionService{
		rdb: redis.NewClient(&redis.Options{
			Addr:               "127.0.0.1:1",
			MaxRetries:         -1,
			DialTimeout:        50 * time.Millisecond,
			DialerRetries:      1,
			DialerRetryTimeout: time.Millisecond,
		}),
		log:         zerolog.Nop(),
		retireGrace: 5 * time.Millisecond,
		live:        make(map[liveKey]*LiveSession),
	}
}

// newIdleLiveSession registers a session whose engine is still on the
// instructions screen, with the pump running, mirroring what Join does.
func newIdleLiveSession(t *testing.T, s *SessionService, examID uuid.UUID, studentID int) (*LiveSession, chan struct{}) {
	t.Helper()

	engine, err := session.New(session.Config{
		Exam: &model.Exam{ID: examID, DurationMinutes: 30},
		Log:  zerolog.Nop(),
	})
	require.NoError(t, err)

	live := &LiveSession{
		ExamID:    examID,
		StudentID: studentID,
		Engine:    engine,
		Frames:    session.NewFrameBuffer(),
		Events:    make(chan session.Event, 64),
		dispatch:  make(chan session.Event, 256),
		done:      make(chan struct{}),
	}

	key := liveKey{examID: examID, studentID: studentID}
	s.mu.Lock()
	s.live[key] = live
	s.mu.Unlock()

	pumpDone := make(chan struct{})
	go func() {
		s.pump(key, live)
		close(pumpDone)
	}()
	t.Cleanup(func() { s.Detach(examID, studentID) })
	return live, pumpDone
}

func TestDetachStopsPumpAndRemovesSession(t *testing.T) {
	s := newTestSessionService(t)
	examID := uuid.New()

	_, pumpDone := newIdleLiveSession(t, s, examID, 1)
	require.Equal(t, 1, s.LiveCount(examID))

	s.Detach(examID, 1)

	select {
	case <-pumpDone:
	case <-time.After(time.Second):
		t.Fatal("pump still running after Detach")
	}
	require.Equal(t, 0, s.LiveCount(examID))

	_, err := s.Get(examID, 1)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDetachIgnoresUnknownSession(t *testing.T) {
	s := newTestSessionService(t)

	// Must not panic or touch anything.
	s.Detach(uuid.New(), 99)
}

func TestSubmitFailureRetiresSession(t *testing.T) {
	s := newTestSessionService(t)
	examID := uuid.New()

	live, pumpDone := newIdleLiveSession(t, s, examID, 7)

	live.dispatch <- session.Event{Kind: session.EventSubmitFailed}

	select {
	case <-pumpDone:
	case <-time.After(time.Second):
		t.Fatal("pump still running after terminal event")
	}

	// The client still receives the failure event.
	select {
	case ev := <-live.Events:
		require.Equal(t, session.EventSubmitFailed, ev.Kind)
	default:
		t.Fatal("terminal event not forwarded to client channel")
	}

	require.Eventually(t, func() bool {
		return s.LiveCount(examID) == 0
	}, time.Second, 5*time.Millisecond, "session not retired after submit failure")
}

func TestLiveCountScopedToExam(t *testing.T) {
	s := newTestSessionService(t)
	examA := uuid.New()
	examB := uuid.New()

	for i, examID := range []uuid.UUID{examA, examA, examB} {
		_, _ = newIdleLiveSession(t, s, examID, i+1)
	}

	require.Equal(t, 2, s.LiveCount(examA))
	require.Equal(t, 1, s.LiveCount(examB))
	require.Equal(t, 0, s.LiveCount(uuid.New()))
}
