package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/scoring"
	"github.com/rs/zerolog"
)

// State is the session state machine position.
type State string

const (
	StateInstructions State = "instructions"
	StateSectionIntro State = "section_intro"
	StateAnswering    State = "answering"
	StateSubmitted    State = "submitted"
)

// SubmitTrigger records what pushed the session into Submitted.
type SubmitTrigger string

const (
	SubmitManual       SubmitTrigger = "manual"
	SubmitExamTimeUp   SubmitTrigger = "exam_time_up"
	SubmitSectionEnd   SubmitTrigger = "last_section_end"
	SubmitThreshold    SubmitTrigger = "warning_threshold"
)

// Session errors.
var (
	ErrNotInstructions     = errors.New("session is not awaiting start")
	ErrNotSectionIntro     = errors.New("session is not in a section intro")
	ErrNotAnswering        = errors.New("session is not in the answering state")
	ErrAlreadySubmitted    = errors.New("session already submitted")
	ErrFullscreenRequired  = errors.New("fullscreen must be engaged before the exam starts")
	ErrCameraRequired      = errors.New("camera is required to take this exam")
	ErrUnknownQuestion     = errors.New("question is not part of the active section")
	ErrUnansweredQuestions = errors.New("some questions are unanswered")
	ErrNotLastQuestion     = errors.New("advance requires the last question of the section")
	ErrUnauthenticated     = errors.New("no authenticated student for this session")
)

// EventKind tags an outbound session event.
type EventKind string

const (
	EventState        EventKind = "state"
	EventTick         EventKind = "tick"
	EventLowTime      EventKind = "low_time"
	EventWarning      EventKind = "warning"
	EventNotice       EventKind = "notice"
	EventSubmitted    EventKind = "submitted"
	EventSubmitFailed EventKind = "submit_failed"
)

// Event is pushed to the configured listener on every observable change.
// The listener is invoked synchronously and must not call back into the
// session.
type Event struct {
	Kind             EventKind          `json:"kind"`
	State            State              `json:"state,omitempty"`
	Trigger          SubmitTrigger      `json:"trigger,omitempty"`
	SectionIndex     int                `json:"section_index"`
	SectionName      string             `json:"section_name,omitempty"`
	QuestionIndex    int                `json:"question_index"`
	ExamRemaining    int                `json:"exam_remaining,omitempty"`
	SectionRemaining int                `json:"section_remaining,omitempty"`
	Display          string             `json:"display,omitempty"`
	Warning          *model.Warning     `json:"warning,omitempty"`
	WarningCount     int                `json:"warning_count,omitempty"`
	Notice           string             `json:"notice,omitempty"`
	Submission       *model.Submission  `json:"submission,omitempty"`
	Err              string             `json:"error,omitempty"`
}

// Config assembles a session's collaborators.
type Config struct {
	Exam      *model.Exam
	StudentID int

	Repo     ExamRepository
	Sink     MediaCaptureSink
	Identity IdentityProvider
	Detector FaceDetector
	Camera   Camera

	Clock  Clock
	Events func(Event)
	Log    zerolog.Logger

	// TimerTick and SampleInterval drive the internal loops. Non-positive
	// values disable the loops; the caller then drives Tick and Sample
	// directly (used by tests).
	TimerTick      time.Duration
	SampleInterval time.Duration
	CameraTimeout  time.Duration
}

// sectionRun is one traversal unit: a real section, or the whole question
// list for an unsectioned exam (limit 0, no intro screen).
type sectionRun struct {
	name      string
	limit     time.Duration
	questions []model.Question
}

// Session is the proctored exam-taking session for one (exam, student)
// pair. All state transitions go through the session mutex; the timer loop,
// the face-sampling loop, and client actions never observe partial state.
type Session struct {
	cfg       Config
	log       zerolog.Logger
	sectioned bool
	runs      []sectionRun

	mu          sync.Mutex
	state       State
	timer       *Timer
	stream      Stream
	cancelLoops context.CancelFunc

	curSection  int
	curQuestion int
	answers     map[string]string
	warnings    []model.Warning
	startedAt   time.Time

	sampling bool // one in-flight face sample at a time
}

// New builds a session in the Instructions state. The exam definition must
// already be validated.
func New(cfg Config) (*Session, error) {
	if cfg.Exam == nil {
		return nil, errors.New("session requires an exam")
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}
	if cfg.Detector == nil {
		cfg.Detector = AnnotatedDetector
	}
	if cfg.Events == nil {
		cfg.Events = func(Event) {}
	}
	if cfg.CameraTimeout <= 0 {
		cfg.CameraTimeout = 10 * time.Second
	}

	s := &Session{
		cfg:       cfg,
		log:       cfg.Log.With().Str("component", "session").Stringer("exam_id", cfg.Exam.ID).Int("student_id", cfg.StudentID).Logger(),
		sectioned: cfg.Exam.Sectioned(),
		state:     StateInstructions,
		answers:   make(map[string]string),
	}

	if s.sectioned {
		for _, sec := range cfg.Exam.Sections {
			s.runs = append(s.runs, sectionRun{
				name:      sec.Name,
				limit:     time.Duration(sec.TimeLimitMinutes) * time.Minute,
				questions: cfg.Exam.SectionQuestions(sec.Name),
			})
		}
	} else {
		s.runs = []sectionRun{{questions: cfg.Exam.Questions}}
	}

	return s, nil
}

// Start handles the student's start confirmation. Fullscreen must already
// be engaged and the camera must come up within the configured timeout;
// either failure keeps the session in Instructions with no timer running.
func (s *Session) Start(ctx context.Context, fullscreenEngaged bool) error {
	s.mu.Lock()
	if s.state != StateInstructions {
		s.mu.Unlock()
		return ErrNotInstructions
	}
	s.mu.Unlock()

	if !fullscreenEngaged {
		return ErrFullscreenRequired
	}

	// Camera acquisition happens outside the lock: it can block up to the
	// camera timeout and ticks are not running yet.
	acquireCtx, cancel := context.WithTimeout(ctx, s.cfg.CameraTimeout)
	defer cancel()
	stream, err := s.cfg.Camera.Acquire(acquireCtx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Camera acquisition failed, session stays in instructions")
		return fmt.Errorf("%w: %v", ErrCameraRequired, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInstructions {
		stream.Close()
		return ErrNotInstructions
	}

	now := s.cfg.Clock.Now()
	s.stream = stream
	s.startedAt = now
	s.timer = NewTimer(now, time.Duration(s.cfg.Exam.DurationMinutes)*time.Minute)
	s.curSection = 0
	s.curQuestion = 0

	if s.sectioned {
		s.state = StateSectionIntro
		s.timer.Freeze(now)
	} else {
		s.state = StateAnswering
	}

	loopCtx, cancelLoops := context.WithCancel(context.Background())
	s.cancelLoops = cancelLoops
	if s.cfg.TimerTick > 0 {
		go s.timerLoop(loopCtx)
	}
	if s.cfg.SampleInterval > 0 {
		go s.sampleLoop(loopCtx)
	}

	s.log.Info().Bool("sectioned", s.sectioned).Msg("Session started")
	s.emitStateLocked()
	return nil
}

// ConfirmSection acknowledges a section intro and starts that section's
// countdown with the question cursor reset to the first question.
func (s *Session) ConfirmSection() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSectionIntro {
		return ErrNotSectionIntro
	}

	now := s.cfg.Clock.Now()
	s.timer.Resume(now)
	run := s.runs[s.curSection]
	if run.limit > 0 {
		s.timer.StartSection(now, run.limit)
	}
	s.curQuestion = 0
	s.state = StateAnswering

	s.emitStateLocked()
	return nil
}

// Navigate moves the question cursor within the active section. Requests
// beyond either bound are no-ops.
func (s *Session) Navigate(delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAnswering {
		return ErrNotAnswering
	}

	next := s.curQuestion + delta
	if next < 0 || next >= len(s.runs[s.curSection].questions) {
		return nil
	}
	s.curQuestion = next
	s.emitStateLocked()
	return nil
}

// SetAnswer records or overwrites the answer for a question in the active
// section. Allowed only while answering.
func (s *Session) SetAnswer(questionID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAnswering {
		return ErrNotAnswering
	}

	found := false
	for i := range s.runs[s.curSection].questions {
		if s.runs[s.curSection].questions[i].ID.String() == questionID {
			found = true
			break
		}
	}
	if !found {
		return ErrUnknownQuestion
	}

	s.answers[questionID] = value
	return nil
}

// Advance moves past the current section from its last question: into the
// next section's intro, or into submission when this was the last section.
func (s *Session) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAnswering {
		return ErrNotAnswering
	}
	if s.curQuestion != len(s.runs[s.curSection].questions)-1 {
		return ErrNotLastQuestion
	}

	return s.advanceSectionLocked(SubmitSectionEnd)
}

// Submit handles an explicit submit request. When questions are still
// unanswered and force is false it returns ErrUnansweredQuestions so the
// caller can ask for confirmation; a forced call proceeds regardless.
func (s *Session) Submit(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateSubmitted {
		return ErrAlreadySubmitted
	}
	if s.state != StateAnswering {
		return ErrNotAnswering
	}

	if !force && s.unansweredLocked() > 0 {
		return ErrUnansweredQuestions
	}
	return s.submitLocked(SubmitManual)
}

// Close tears the session down without submitting: stops both loops and
// releases the camera. Used when the student navigates away.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopResourcesLocked()
}

// ─── Timer loop ─────────────────────────────────────────────────────

func (s *Session) timerLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TimerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.cfg.Clock.Now())
		}
	}
}

// Tick advances the countdowns. A tick that finds the session outside the
// answering state is a no-op, not an error. Exam expiry is checked before
// anything else: the hard deadline wins over any other transition due in
// the same tick.
func (s *Session) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAnswering {
		return
	}

	if s.timer.ExamExpired(now) {
		_ = s.submitLocked(SubmitExamTimeUp)
		return
	}

	if s.timer.SectionExpired(now) {
		_ = s.advanceSectionLocked(SubmitSectionEnd)
		return
	}

	if s.timer.CrossedLowTime(now) {
		s.emitLocked(Event{
			Kind:          EventLowTime,
			ExamRemaining: int(s.timer.ExamRemaining(now).Seconds()),
			Display:       FormatClock(s.timer.ExamRemaining(now)),
		})
	}

	ev := Event{
		Kind:          EventTick,
		ExamRemaining: int(s.timer.ExamRemaining(now).Seconds()),
		Display:       FormatClock(s.timer.ExamRemaining(now)),
	}
	if remaining, ok := s.timer.SectionRemaining(now); ok {
		ev.SectionRemaining = int(remaining.Seconds())
	}
	s.emitLocked(ev)
}

// advanceSectionLocked moves to the next section intro, or submits when the
// active section was the last one.
func (s *Session) advanceSectionLocked(trigger SubmitTrigger) error {
	if s.curSection >= len(s.runs)-1 {
		return s.submitLocked(trigger)
	}

	s.curSection++
	s.curQuestion = 0
	s.state = StateSectionIntro
	s.timer.Freeze(s.cfg.Clock.Now())
	s.emitStateLocked()
	return nil
}

// ─── Submission ─────────────────────────────────────────────────────

// submitLocked is the single submit path shared by manual submit, exam
// time-up, last-section end, and the warning threshold. The Submitted state
// guard makes it execute at most once.
func (s *Session) submitLocked(trigger SubmitTrigger) error {
	if s.state == StateSubmitted {
		return ErrAlreadySubmitted
	}

	studentID := s.cfg.StudentID
	if s.cfg.Identity != nil {
		studentID = s.cfg.Identity.CurrentStudentID()
	}
	if studentID == 0 {
		// Submission must fail loudly, never silently drop the attempt.
		s.emitLocked(Event{Kind: EventSubmitFailed, Err: ErrUnauthenticated.Error()})
		return ErrUnauthenticated
	}

	s.state = StateSubmitted
	s.stopResourcesLocked()

	now := s.cfg.Clock.Now()
	answers := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}

	sub := scoring.Evaluate(s.cfg.Exam, studentID, answers, s.warnings, s.startedAt, now)

	s.log.Info().
		Str("trigger", string(trigger)).
		Int("score", sub.Score).
		Int("warnings", sub.WarningCount).
		Msg("Session submitted")

	s.emitLocked(Event{Kind: EventState, State: StateSubmitted, Trigger: trigger})

	// Persistence runs off the session goroutine: a slow repository write
	// must not hold the lock or delay the caller.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.cfg.Repo.SubmitAttempt(ctx, sub); err != nil {
			s.log.Error().Err(err).Msg("Submission persistence failed")
			s.emit(Event{Kind: EventSubmitFailed, Trigger: trigger, Err: err.Error()})
			return
		}
		s.emit(Event{Kind: EventSubmitted, Trigger: trigger, Submission: sub})
	}()

	return nil
}

// stopResourcesLocked deterministically stops both interval loops and
// releases the camera stream. Safe to call more than once.
func (s *Session) stopResourcesLocked() {
	if s.cancelLoops != nil {
		s.cancelLoops()
		s.cancelLoops = nil
	}
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
}

func (s *Session) unansweredLocked() int {
	count := 0
	for i := range s.cfg.Exam.Questions {
		if s.answers[s.cfg.Exam.Questions[i].ID.String()] == "" {
			count++
		}
	}
	return count
}

// ─── Events and snapshots ───────────────────────────────────────────

func (s *Session) emitLocked(ev Event) {
	ev.SectionIndex = s.curSection
	ev.SectionName = s.runs[s.curSection].name
	ev.QuestionIndex = s.curQuestion
	s.cfg.Events(ev)
}

// emit is the unlocked variant for goroutines reporting after the fact.
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(ev)
}

func (s *Session) emitStateLocked() {
	ev := Event{Kind: EventState, State: s.state}
	if s.timer != nil {
		now := s.cfg.Clock.Now()
		ev.ExamRemaining = int(s.timer.ExamRemaining(now).Seconds())
		ev.Display = FormatClock(s.timer.ExamRemaining(now))
		if remaining, ok := s.timer.SectionRemaining(now); ok {
			ev.SectionRemaining = int(remaining.Seconds())
		}
	}
	s.emitLocked(ev)
}

// Snapshot is a point-in-time view of the session for state endpoints.
type Snapshot struct {
	State            State             `json:"state"`
	SectionIndex     int               `json:"section_index"`
	SectionName      string            `json:"section_name,omitempty"`
	QuestionIndex    int               `json:"question_index"`
	ExamRemaining    int               `json:"exam_remaining"`
	SectionRemaining int               `json:"section_remaining"`
	Display          string            `json:"display"`
	WarningCount     int               `json:"warning_count"`
	Warnings         []model.Warning   `json:"warnings"`
	Answers          map[string]string `json:"answers"`
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	answers := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	warnings := make([]model.Warning, len(s.warnings))
	copy(warnings, s.warnings)

	snap := Snapshot{
		State:         s.state,
		SectionIndex:  s.curSection,
		SectionName:   s.runs[s.curSection].name,
		QuestionIndex: s.curQuestion,
		WarningCount:  len(s.warnings),
		Warnings:      warnings,
		Answers:       answers,
	}
	if s.timer != nil {
		now := s.cfg.Clock.Now()
		snap.ExamRemaining = int(s.timer.ExamRemaining(now).Seconds())
		snap.Display = FormatClock(s.timer.ExamRemaining(now))
		if remaining, ok := s.timer.SectionRemaining(now); ok {
			snap.SectionRemaining = int(remaining.Seconds())
		}
	}
	return snap
}

// State returns the current state machine position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WarningCount returns the accumulated warning count.
func (s *Session) WarningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.warnings)
}
