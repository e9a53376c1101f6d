package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invigilo/invigilo-backend/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRepo struct {
	mu        sync.Mutex
	submitted []*model.Submission
	err       error
}

func (r *fakeRepo) FetchExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRepo) SubmitAttempt(ctx context.Context, sub *model.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.submitted = append(r.submitted, sub)
	return nil
}

func (r *fakeRepo) last() *model.Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.submitted) == 0 {
		return nil
	}
	return r.submitted[len(r.submitted)-1]
}

type fakeSink struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (s *fakeSink) StoreSnapshot(ctx context.Context, image []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	url := "/captures/snapshot.jpg"
	s.urls = append(s.urls, url)
	return url, nil
}

type failingCamera struct{}

func (failingCamera) Acquire(ctx context.Context) (Stream, error) {
	return nil, ErrCameraUnavailable
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func unsectionedExam(t *testing.T) *model.Exam {
	t.Helper()
	q1, err := model.NewMultipleChoice("What is 2+2?", 2, []string{"3", "4", "5"}, 1)
	require.NoError(t, err)
	q2, err := model.NewTrueFalse("The sky is green.", 1, 1)
	require.NoError(t, err)
	q3, err := model.NewShortAnswer("Describe photosynthesis.", 4, "plants convert light into chemical energy")
	require.NoError(t, err)
	return &model.Exam{
		ID:                uuid.New(),
		Title:             "Biology Midterm",
		DurationMinutes:   30,
		WarningsThreshold: 3,
		Questions:         []model.Question{q1, q2, q3},
	}
}

func sectionedExam(t *testing.T) *model.Exam {
	t.Helper()
	q1, err := model.NewTrueFalse("Water boils at 100C at sea level.", 1, 0)
	require.NoError(t, err)
	q2, err := model.NewMultipleChoice("Pick the mammal.", 2, []string{"shark", "whale", "trout"}, 1)
	require.NoError(t, err)
	q3, err := model.NewShortAnswer("Explain osmosis.", 4, "water moves across a membrane toward higher solute concentration")
	require.NoError(t, err)
	q1.Section, q1.OrderNum = "Basics", 0
	q2.Section, q2.OrderNum = "Basics", 1
	q3.Section, q3.OrderNum = "Essay", 0
	return &model.Exam{
		ID:                uuid.New(),
		Title:             "Chemistry Final",
		DurationMinutes:   60,
		WarningsThreshold: 3,
		Sections: []model.Section{
			{ID: uuid.New(), Name: "Basics", TimeLimitMinutes: 10},
			{ID: uuid.New(), Name: "Essay", TimeLimitMinutes: 20},
		},
		Questions: []model.Question{q1, q2, q3},
	}
}

type harness struct {
	sess   *Session
	clock  *fakeClock
	repo   *fakeRepo
	sink   *fakeSink
	camera *FrameBuffer
	events *eventRecorder
}

func newHarness(t *testing.T, exam *model.Exam) *harness {
	t.Helper()
	h := &harness{
		clock:  newFakeClock(),
		repo:   &fakeRepo{},
		sink:   &fakeSink{},
		camera: NewFrameBuffer(),
		events: &eventRecorder{},
	}
	h.camera.Push(Frame{Data: []byte("jpeg"), Faces: 1, At: h.clock.Now()})

	sess, err := New(Config{
		Exam:      exam,
		StudentID: 42,
		Repo:      h.repo,
		Sink:      h.sink,
		Camera:    h.camera,
		Clock:     h.clock,
		Events:    h.events.record,
		Log:       zerolog.Nop(),
	})
	require.NoError(t, err)
	h.sess = sess
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sess.Start(context.Background(), true))
}

func waitSubmission(t *testing.T, repo *fakeRepo) *model.Submission {
	t.Helper()
	require.Eventually(t, func() bool { return repo.last() != nil }, time.Second, 5*time.Millisecond)
	return repo.last()
}

// ─── Start ──────────────────────────────────────────────────────────

func TestStartRequiresFullscreen(t *testing.T) {
	h := newHarness(t, unsectionedExam(t))

	err := h.sess.Start(context.Background(), false)
	require.ErrorIs(t, err, ErrFullscreenRequired)
	assert.Equal(t, StateInstructions, h.sess.State())
}

func TestStartCameraFailureStaysInInstructions(t *testing.T) {
	exam := unsectionedExam(t)
	sess, err := New(Config{
		Exam:          exam,
		StudentID:     42,
		Repo:          &fakeRepo{},
		Camera:        failingCamera{},
		Clock:         newFakeClock(),
		Log:           zerolog.Nop(),
		CameraTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	err = sess.Start(context.Background(), true)
	require.ErrorIs(t, err, ErrCameraRequired)
	assert.Equal(t, StateInstructions, sess.State())
}

func TestStartUnsectionedGoesStraightToAnswering(t *testing.T) {
	h := newHarness(t, unsectionedExam(t))
	h.start(t)
	assert.Equal(t, StateAnswering, h.sess.State())
}

func TestStartSectionedShowsIntroFirst(t *testing.T) {
	h := newHarness(t, sectionedExam(t))
	h.start(t)
	assert.Equal(t, StateSectionIntro, h.sess.State())
}

// ─── Timekeeping ────────────────────────────────────────────────────

func TestIntroScreenDoesNotConsumeExamTime(t *testing.T) {
	h := newHarness(t, sectionedExam(t))
	h.start(t)

	h.clock.Advance(3 * time.Minute)
	require.NoError(t, h.sess.ConfirmSection())

	snap := h.sess.Snapshot()
	assert.Equal(t, 60*60, snap.ExamRemaining)
	assert.Equal(t, 10*60, snap.SectionRemaining)
}

func TestExamTimeUpAutoSubmitsWithCurrentAnswers(t *testing.T) {
	exam := unsectionedExam(t)
	h := newHarness(t, exam)
	h.start(t)

	qID := exam.Questions[0].ID.String()
	require.NoError(t, h.sess.SetAnswer(qID, "1"))

	h.clock.Advance(31 * time.Minute)
	h.sess.Tick(h.clock.Now())

	assert.Equal(t, StateSubmitted, h.sess.State())
	sub := waitSubmission(t, h.repo)
	assert.Equal(t, "1", sub.Answers[qID])
	assert.Equal(t, 42, sub.StudentID)
}

func TestSectionExpiryAdvancesToNextIntro(t *testing.T) {
	h := newHarness(t, sectionedExam(t))
	h.start(t)
	require.NoError(t, h.sess.ConfirmSection())

	h.clock.Advance(10*time.Minute + time.Second)
	h.sess.Tick(h.clock.Now())

	snap := h.sess.Snapshot()
	assert.Equal(t, StateSectionIntro, snap.State)
	assert.Equal(t, 1, snap.SectionIndex)
	assert.Equal(t, "Essay", snap.SectionName)
}

func TestLastSectionExpirySubmits(t *testing.T) {
	h := newHarness(t, sectionedExam(t))
	h.start(t)
	require.NoError(t, h.sess.ConfirmSection())

	h.clock.Advance(10*time.Minute + time.Second)
	h.sess.Tick(h.clock.Now())
	require.NoError(t, h.sess.ConfirmSection())

	h.clock.Advance(20*time.Minute + time.Second)
	h.sess.Tick(h.clock.Now())

	assert.Equal(t, StateSubmitted, h.sess.State())
	waitSubmission(t, h.repo)
}

func TestExamDeadlineWinsOverSectionExpiry(t *testing.T) {
	exam := sectionedExam(t)
	exam.DurationMinutes = 5
	h := newHarness(t, exam)
	h.start(t)
	require.NoError(t, h.sess.ConfirmSection())

	// Both deadlines pass before this tick; the exam deadline decides.
	h.clock.Advance(15 * time.Minute)
	h.sess.Tick(h.clock.Now())

	assert.Equal(t, StateSubmitted, h.sess.State())
	assert.Equal(t, 0, h.sess.Snapshot().SectionIndex)
}

func TestLowTimeFiresExactlyOnce(t *testing.T) {
	h := newHarness(t, unsectionedExam(t))
	h.start(t)

	h.clock.Advance(26 * time.Minute) // 4 minutes left
	h.sess.Tick(h.clock.Now())
	h.clock.Advance(time.Minute)
	h.sess.Tick(h.clock.Now())
	h.clock.Advance(time.Minute)
	h.sess.Tick(h.clock.Now())

	assert.Equal(t, 1, h.events.count(EventLowTime))
}

// ─── Navigation and answers ─────────────────────────────────────────

func TestNavigateClampsAtBounds(t *testing.T) {
	h := newHarness(t, unsectionedExam(t))
	h.start(t)

	require.NoError(t, h.sess.Navigate(-1))
	assert.Equal(t, 0, h.sess.Snapshot().QuestionIndex)

	require.NoError(t, h.sess.Navigate(1))
	require.NoError(t, h.sess.Navigate(1))
	require.NoError(t, h.sess.Navigate(1))
	assert.Equal(t, 2, h.sess.Snapshot().QuestionIndex)
}

func TestSetAnswerRejectedOutsideAnswering(t *testing.T) {
	exam := sectionedExam(t)
	h := newHarness(t, exam)
	h.start(t)

	err := h.sess.SetAnswer(exam.Questions[0].ID.String(), "0")
	assert.ErrorIs(t, err, ErrNotAnswering)
}

func TestSetAnswerRejectsQuestionFromOtherSection(t *testing.T) {
	exam := sectionedExam(t)
	h := newHarness(t, exam)
	h.start(t)
	require.NoError(t, h.sess.ConfirmSection())

	essayID := exam.SectionQuestions("Essay")[0].ID.String()
	err := h.sess.SetAnswer(essayID, "osmosis answer")
	assert.ErrorIs(t, err, ErrUnknownQuestion)
}

func TestAnswerOverwriteKeepsLatest(t *testing.T) {
	exam := unsectionedExam(t)
	h := newHarness(t, exam)
	h.start(t)

	qID := exam.Questions[1].ID.String()
	require.NoError(t, h.sess.SetAnswer(qID, "0"))
	require.NoError(t, h.sess.SetAnswer(qID, "1"))
	assert.Equal(t, "1", h.sess.Snapshot().Answers[qID])
}

func TestAdvanceRequiresLastQuestion(t *testing.T) {
	h := newHarness(t, sectionedExam(t))
	h.start(t)
	require.NoError(t, h.sess.ConfirmSection())

	assert.ErrorIs(t, h.sess.Advance(), ErrNotLastQuestion)

	require.NoError(t, h.sess.Navigate(1))
	require.NoError(t, h.sess.Advance())
	assert.Equal(t, StateSectionIntro, h.sess.State())
}

// ─── Submission ─────────────────────────────────────────────────────

func TestSubmitUnansweredNeedsConfirmation(t *testing.T) {
	exam := unsectionedExam(t)
	h := newHarness(t, exam)
	h.start(t)

	err := h.sess.Submit(false)
	require.ErrorIs(t, err, ErrUnansweredQuestions)
	assert.Equal(t, StateAnswering, h.sess.State())

	require.NoError(t, h.sess.Submit(true))
	assert.Equal(t, StateSubmitted, h.sess.State())
	waitSubmission(t, h.repo)
}

func TestSubmittedIsTerminal(t *testing.T) {
	exam := unsectionedExam(t)
	h := newHarness(t, exam)
	h.start(t)
	require.NoError(t, h.sess.Submit(true))
	waitSubmission(t, h.repo)

	assert.ErrorIs(t, h.sess.Submit(true), ErrAlreadySubmitted)
	assert.ErrorIs(t, h.sess.SetAnswer(exam.Questions[0].ID.String(), "1"), ErrNotAnswering)
	assert.ErrorIs(t, h.sess.Navigate(1), ErrNotAnswering)

	h.clock.Advance(time.Hour)
	h.sess.Tick(h.clock.Now())

	require.Len(t, h.repo.submitted, 1)
}

func TestSubmitFailureIsReported(t *testing.T) {
	h := newHarness(t, unsectionedExam(t))
	h.repo.err = errors.New("database down")
	h.start(t)

	require.NoError(t, h.sess.Submit(true))
	require.Eventually(t, func() bool {
		return h.events.count(EventSubmitFailed) == 1
	}, time.Second, 5*time.Millisecond)
}

// ─── Integrity warnings ─────────────────────────────────────────────

func TestWarningThresholdAutoSubmits(t *testing.T) {
	h := newHarness(t, unsectionedExam(t))
	h.start(t)

	require.NoError(t, h.sess.ReportTabHidden())
	require.NoError(t, h.sess.ReportFullscreenExit())
	assert.Equal(t, StateAnswering, h.sess.State())

	require.NoError(t, h.sess.ReportTabHidden())
	assert.Equal(t, StateSubmitted, h.sess.State())

	sub := waitSubmission(t, h.repo)
	assert.Equal(t, 3, sub.WarningCount)
	assert.Len(t, sub.Warnings, 3)
}

func TestTabSwitchIgnoredDuringIntro(t *testing.T) {
	h := newHarness(t, sectionedExam(t))
	h.start(t)

	require.NoError(t, h.sess.ReportTabHidden())
	assert.Equal(t, 0, h.sess.WarningCount())
}

func TestFullscreenExitCountsDuringIntro(t *testing.T) {
	h := newHarness(t, sectionedExam(t))
	h.start(t)

	require.NoError(t, h.sess.ReportFullscreenExit())
	assert.Equal(t, 1, h.sess.WarningCount())
}

func TestClipboardIsNoticeNotWarning(t *testing.T) {
	h := newHarness(t, unsectionedExam(t))
	h.start(t)

	h.sess.ReportClipboard()
	assert.Equal(t, 0, h.sess.WarningCount())
	assert.Equal(t, 1, h.events.count(EventNotice))
}

func TestWarningSnapshotURLPatchedIn(t *testing.T) {
	h := newHarness(t, unsectionedExam(t))
	h.start(t)

	require.NoError(t, h.sess.ReportTabHidden())
	require.Eventually(t, func() bool {
		warnings := h.sess.Snapshot().Warnings
		return len(warnings) == 1 && warnings[0].SnapshotURL != nil
	}, time.Second, 5*time.Millisecond)
}

func TestSnapshotFailureKeepsWarning(t *testing.T) {
	h := newHarness(t, unsectionedExam(t))
	h.sink.err = errors.New("disk full")
	h.start(t)

	require.NoError(t, h.sess.ReportTabHidden())
	assert.Equal(t, 1, h.sess.WarningCount())
	assert.Nil(t, h.sess.Snapshot().Warnings[0].SnapshotURL)
}

// ─── Face sampling ──────────────────────────────────────────────────

func TestSampleNoFaceWarns(t *testing.T) {
	h := newHarness(t, unsectionedExam(t))
	h.start(t)

	h.camera.Push(Frame{Data: []byte("jpeg"), Faces: 0, At: h.clock.Now()})
	h.sess.Sample(context.Background())

	snap := h.sess.Snapshot()
	require.Len(t, snap.Warnings, 1)
	assert.Equal(t, model.WarningNoFace, snap.Warnings[0].Type)
}

func TestSampleMultipleFacesWarns(t *testing.T) {
	h := newHarness(t, unsectionedExam(t))
	h.start(t)

	h.camera.Push(Frame{Data: []byte("jpeg"), Faces: 2, At: h.clock.Now()})
	h.sess.Sample(context.Background())

	snap := h.sess.Snapshot()
	require.Len(t, snap.Warnings, 1)
	assert.Equal(t, model.WarningMultipleFaces, snap.Warnings[0].Type)
}

func TestSampleSingleFaceIsClean(t *testing.T) {
	h := newHarness(t, unsectionedExam(t))
	h.start(t)

	h.sess.Sample(context.Background())
	assert.Equal(t, 0, h.sess.WarningCount())
}

func TestSampleSuspendedDuringIntro(t *testing.T) {
	h := newHarness(t, sectionedExam(t))
	h.start(t)

	h.camera.Push(Frame{Data: []byte("jpeg"), Faces: 0, At: h.clock.Now()})
	h.sess.Sample(context.Background())
	assert.Equal(t, 0, h.sess.WarningCount())
}

func TestDetectorErrorDoesNotWarn(t *testing.T) {
	exam := unsectionedExam(t)
	h := &harness{
		clock:  newFakeClock(),
		repo:   &fakeRepo{},
		sink:   &fakeSink{},
		camera: NewFrameBuffer(),
		events: &eventRecorder{},
	}
	h.camera.Push(Frame{Data: []byte("jpeg"), Faces: 0})

	sess, err := New(Config{
		Exam:      exam,
		StudentID: 42,
		Repo:      h.repo,
		Sink:      h.sink,
		Camera:    h.camera,
		Clock:     h.clock,
		Events:    h.events.record,
		Log:       zerolog.Nop(),
		Detector: FaceDetectorFunc(func(Frame) (int, error) {
			return 0, errors.New("model not loaded")
		}),
	})
	require.NoError(t, err)
	h.sess = sess
	h.start(t)

	h.sess.Sample(context.Background())
	assert.Equal(t, 0, h.sess.WarningCount())
}

func TestSampleSkipsWhileDetectionInFlight(t *testing.T) {
	exam := unsectionedExam(t)
	release := make(chan struct{})
	var calls int32
	var callsMu sync.Mutex

	h := &harness{
		clock:  newFakeClock(),
		repo:   &fakeRepo{},
		sink:   &fakeSink{},
		camera: NewFrameBuffer(),
		events: &eventRecorder{},
	}
	h.camera.Push(Frame{Data: []byte("jpeg"), Faces: 1})

	sess, err := New(Config{
		Exam:      exam,
		StudentID: 42,
		Repo:      h.repo,
		Sink:      h.sink,
		Camera:    h.camera,
		Clock:     h.clock,
		Events:    h.events.record,
		Log:       zerolog.Nop(),
		Detector: FaceDetectorFunc(func(Frame) (int, error) {
			callsMu.Lock()
			calls++
			callsMu.Unlock()
			<-release
			return 1, nil
		}),
	})
	require.NoError(t, err)
	h.sess = sess
	h.start(t)

	done := make(chan struct{})
	go func() {
		h.sess.Sample(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		callsMu.Lock()
		defer callsMu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	// Second sample while the first detection is still running.
	h.sess.Sample(context.Background())

	close(release)
	<-done

	callsMu.Lock()
	assert.EqualValues(t, 1, calls)
	callsMu.Unlock()
}
