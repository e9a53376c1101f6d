package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
	"github.com/invigilo/invigilo-backend/internal/session"
)

// ErrSessionNotFound is returned when no live session exists for the
// student.
var ErrSessionNotFound = errors.New("no live session for this student")

// liveKey identifies one live session per (exam, student).
type liveKey struct {
	examID    uuid.UUID
	studentID int
}

// LiveSession is one student's in-memory exam session plus its transport
// plumbing. Events carries every observable change to the connected
// WebSocket; Frames receives the browser's webcam frames.
type LiveSession struct {
	ExamID    uuid.UUID
	StudentID int
	Engine    *session.Session
	Frames    *session.FrameBuffer
	Events    chan session.Event

	dispatch chan session.Event
	done     chan struct{}
}

// SessionService owns the registry of live exam sessions. Sessions survive
// a dropped WebSocket: timers and monitoring keep running server-side and
// a reconnect reattaches to the same engine.
type SessionService struct {
	cfg      *config.Config
	examSvc  *ExamService
	examRepo *repository.ExamRepository
	media    *MediaService
	rdb      *redis.Client
	log      zerolog.Logger

	// retireGrace is how long a submitted session stays readable so a
	// reconnecting client can still collect the final event.
	retireGrace time.Duration

	mu   sync.Mutex
	live map[liveKey]*LiveSession
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	cfg *config.Config,
	examSvc *ExamService,
	examRepo *repository.ExamRepository,
	media *MediaService,
	rdb *redis.Client,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		cfg:         cfg,
		examSvc:     examSvc,
		examRepo:    examRepo,
		media:       media,
		rdb:         rdb,
		log:         log.With().Str("component", "session_service").Logger(),
		retireGrace: 30 * time.Second,
		live:        make(map[liveKey]*LiveSession),
	}
}

// Join returns the student's live session for an exam, creating it when
// none exists. Rejoining an in-flight session reattaches rather than
// restarting.
func (s *SessionService) Join(ctx context.Context, examID uuid.UUID, studentID int) (*LiveSession, error) {
	key := liveKey{examID: examID, studentID: studentID}

	s.mu.Lock()
	if existing, ok := s.live[key]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if err := s.examSvc.CheckEligibility(ctx, exam, studentID, time.Now()); err != nil {
		return nil, err
	}

	frames := session.NewFrameBuffer()
	live := &LiveSession{
		ExamID:    examID,
		StudentID: studentID,
		Frames:    frames,
		Events:    make(chan session.Event, 64),
		dispatch:  make(chan session.Event, 256),
		done:      make(chan struct{}),
	}

	engine, err := session.New(session.Config{
		Exam:      exam,
		StudentID: studentID,
		Repo: &submissionQueue{
			examRepo: s.examRepo,
			rdb:      s.rdb,
		},
		Sink:     s.media,
		Identity: staticIdentity(studentID),
		Camera:   frames,
		Clock:    session.RealClock,
		Events: func(ev session.Event) {
			// Invoked under the engine lock; hand off without blocking.
			select {
			case live.dispatch <- ev:
			default:
			}
		},
		Log:            s.log,
		TimerTick:      s.cfg.TimerTick,
		SampleInterval: s.cfg.SampleInterval,
		CameraTimeout:  s.cfg.CameraTimeout,
	})
	if err != nil {
		return nil, err
	}
	live.Engine = engine

	s.mu.Lock()
	if existing, ok := s.live[key]; ok {
		// Lost the race to another connection; reuse theirs.
		s.mu.Unlock()
		return existing, nil
	}
	s.live[key] = live
	s.mu.Unlock()

	go s.pump(key, live)

	s.log.Info().Stringer("exam_id", examID).Int("student_id", studentID).Msg("Live session created")
	return live, nil
}

// Get returns the live session for a student if one exists.
func (s *SessionService) Get(examID uuid.UUID, studentID int) (*LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live, ok := s.live[liveKey{examID: examID, studentID: studentID}]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return live, nil
}

// Start drives the engine's start transition and mirrors the absolute
// deadline to Redis so a restarted server can audit in-flight attempts.
func (s *SessionService) Start(ctx context.Context, live *LiveSession, fullscreenEngaged bool) error {
	if err := live.Engine.Start(ctx, fullscreenEngaged); err != nil {
		return err
	}

	duration := time.Duration(0)
	if snap := live.Engine.Snapshot(); snap.ExamRemaining > 0 {
		duration = time.Duration(snap.ExamRemaining) * time.Second
	}
	deadline := time.Now().Add(duration)
	key := config.CacheKey.StudentDeadlineKey(live.ExamID.String(), live.StudentID)
	if err := s.rdb.Set(ctx, key, deadline.Unix(), duration+time.Hour).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Deadline mirror write failed")
	}
	return nil
}

// SaveAnswer records an answer on the engine and mirrors it to Redis for
// crash forensics. The mirror is dropped once the submission is durable.
func (s *SessionService) SaveAnswer(ctx context.Context, live *LiveSession, questionID, value string) error {
	if err := live.Engine.SetAnswer(questionID, value); err != nil {
		return err
	}

	key := config.CacheKey.StudentAnswersKey(live.ExamID.String(), live.StudentID)
	if err := s.rdb.HSet(ctx, key, questionID, value).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Answer mirror write failed")
	}
	return nil
}

// pump consumes engine events: fans them out to the connected client,
// queues warnings for persistence, publishes proctor updates, and retires
// the registry entry once the session is submitted.
func (s *SessionService) pump(key liveKey, live *LiveSession) {
	ctx := context.Background()

	for {
		var ev session.Event
		select {
		case <-live.done:
			return
		case ev = <-live.dispatch:
		}

		// Forward to the connected WebSocket, dropping when nobody reads.
		select {
		case live.Events <- ev:
		default:
		}

		switch ev.Kind {
		case session.EventWarning:
			s.queueWarning(ctx, live, ev)
			s.publishProctor(ctx, live, ev)

		case session.EventState:
			s.publishProctor(ctx, live, ev)

		case session.EventSubmitted, session.EventSubmitFailed:
			// Both leave the engine in its terminal state; nothing
			// more will ever arrive, so the pump ends here.
			s.publishProctor(ctx, live, ev)
			s.retire(key)
			return
		}
	}
}

func (s *SessionService) queueWarning(ctx context.Context, live *LiveSession, ev session.Event) {
	if ev.Warning == nil {
		return
	}
	record := repository.WarningRecord{
		ExamID:      live.ExamID,
		StudentID:   live.StudentID,
		Type:        ev.Warning.Type,
		OccurredAt:  ev.Warning.At,
		SnapshotURL: ev.Warning.SnapshotURL,
	}
	raw, _ := json.Marshal(record)
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistWarningsQueue, raw).Err(); err != nil {
		s.log.Error().Err(err).Msg("Failed to queue warning for persistence")
	}
}

// ProctorEvent is the live monitor payload published per student update.
type ProctorEvent struct {
	ExamID       uuid.UUID          `json:"exam_id"`
	StudentID    int                `json:"student_id"`
	Kind         session.EventKind  `json:"kind"`
	State        session.State      `json:"state,omitempty"`
	WarningType  *model.WarningType `json:"warning_type,omitempty"`
	WarningCount int                `json:"warning_count"`
	At           time.Time          `json:"at"`
}

func (s *SessionService) publishProctor(ctx context.Context, live *LiveSession, ev session.Event) {
	pe := ProctorEvent{
		ExamID:       live.ExamID,
		StudentID:    live.StudentID,
		Kind:         ev.Kind,
		State:        ev.State,
		WarningCount: ev.WarningCount,
		At:           time.Now(),
	}
	if ev.Warning != nil {
		pe.WarningType = &ev.Warning.Type
	}

	raw, _ := json.Marshal(pe)
	channel := config.CacheKey.ExamProctorChannel(live.ExamID.String())
	if err := s.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		s.log.Debug().Err(err).Msg("Proctor publish failed")
	}
}

// retire drops a finished session from the registry after a short grace so
// a reconnecting client can still read the submitted event.
func (s *SessionService) retire(key liveKey) {
	time.Sleep(s.retireGrace)

	s.mu.Lock()
	delete(s.live, key)
	s.mu.Unlock()
}

// Detach tears a session down without submitting. Only used when a session
// never started (student abandoned the instructions screen).
func (s *SessionService) Detach(examID uuid.UUID, studentID int) {
	key := liveKey{examID: examID, studentID: studentID}

	s.mu.Lock()
	live, ok := s.live[key]
	if ok && live.Engine.State() == session.StateInstructions {
		delete(s.live, key)
	} else {
		live = nil
	}
	s.mu.Unlock()

	if live != nil {
		live.Engine.Close()
		close(live.done)
	}
}

// LiveCount reports how many sessions are live for an exam. Used by the
// proctor monitor.
func (s *SessionService) LiveCount(examID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.live {
		if key.examID == examID {
			n++
		}
	}
	return n
}

// LiveSnapshots returns the current state of every live session for an
// exam.
func (s *SessionService) LiveSnapshots(examID uuid.UUID) map[int]session.Snapshot {
	s.mu.Lock()
	entries := make([]*LiveSession, 0)
	for key, live := range s.live {
		if key.examID == examID {
			entries = append(entries, live)
		}
	}
	s.mu.Unlock()

	out := make(map[int]session.Snapshot, len(entries))
	for _, live := range entries {
		out[live.StudentID] = live.Engine.Snapshot()
	}
	return out
}

// ─── Engine ports ───────────────────────────────────────────────────

// staticIdentity satisfies the engine's identity port with the student id
// bound at join time. The WebSocket layer already authenticated the token.
type staticIdentity int

func (i staticIdentity) CurrentStudentID() int { return int(i) }

// submissionQueue persists a finished attempt by verifying the exam still
// exists and queueing the submission for the durable worker. The queue
// write is the success confirmation; the worker retries from there.
type submissionQueue struct {
	examRepo *repository.ExamRepository
	rdb      *redis.Client
}

func (q *submissionQueue) FetchExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	return q.examRepo.GetByID(ctx, examID)
}

func (q *submissionQueue) SubmitAttempt(ctx context.Context, sub *model.Submission) error {
	if _, err := q.examRepo.GetByID(ctx, sub.ExamID); err != nil {
		return fmt.Errorf("verify exam: %w", err)
	}

	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, raw).Err(); err != nil {
		return fmt.Errorf("queue submission: %w", err)
	}
	return nil
}
