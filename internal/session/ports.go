// Package session hosts the proctored exam-taking session: a state machine
// driving a countdown timer, continuous face-presence monitoring, tamper
// accounting, and the auto-submit pipeline. The package has no transport or
// storage dependencies; collaborators are injected through the interfaces
// below so the whole engine is testable without a camera or a database.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/invigilo/invigilo-backend/internal/model"
)

// ExamRepository is the persistence collaborator the session needs: fetch
// an exam definition once, submit the completed attempt at the end.
type ExamRepository interface {
	FetchExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
	SubmitAttempt(ctx context.Context, sub *model.Submission) error
}

// MediaCaptureSink stores a warning snapshot and returns a retrievable URL.
// It is called once per warning and must be failure-tolerant: an error
// degrades the warning to one without an image, never more.
type MediaCaptureSink interface {
	StoreSnapshot(ctx context.Context, image []byte) (string, error)
}

// IdentityProvider resolves the current student. A zero id means
// unauthenticated, which makes submission fail loudly.
type IdentityProvider interface {
	CurrentStudentID() int
}

// Frame is one webcam video frame. Data is the encoded image; Faces carries
// the face count when the detection ran upstream (browser-side model).
type Frame struct {
	Data  []byte
	Faces int
	At    time.Time
}

// FaceDetector maps a video frame to a face count. Pluggable capability:
// the monitor tolerates a detector error by treating the sample as one face
// present (no false violation).
type FaceDetector interface {
	EstimateFaceCount(frame Frame) (int, error)
}

// FaceDetectorFunc adapts a plain function to the FaceDetector interface.
type FaceDetectorFunc func(frame Frame) (int, error)

func (f FaceDetectorFunc) EstimateFaceCount(frame Frame) (int, error) { return f(frame) }

// AnnotatedDetector trusts the face count annotated on the frame by the
// client-side model. The default detector for browser-backed cameras.
var AnnotatedDetector = FaceDetectorFunc(func(frame Frame) (int, error) {
	return frame.Faces, nil
})

// Camera owns the video stream lifecycle. Acquire is called exactly once
// per session; failure is fatal for the session (the exam cannot proceed
// without a camera) and retry is left to the student reloading.
type Camera interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Stream yields the most recent frame and releases the device on Close.
type Stream interface {
	Frame(ctx context.Context) (Frame, error)
	Close()
}

// Clock abstracts wall-clock time so timer behavior is testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the production wall clock.
var RealClock Clock = realClock{}
