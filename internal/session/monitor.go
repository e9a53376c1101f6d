package session

import (
	"context"
	"time"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// Integrity monitoring. Two inputs feed the warning log: browser-reported
// events (fullscreen exit, tab switch, clipboard use) and periodic face
// sampling on the camera stream. Every warning increments a counter that
// is checked against the exam's threshold on each increment.

// ReportFullscreenExit records a fullscreen_exit warning. Valid any time
// after start and before submission; intro screens still require
// fullscreen.
func (s *Session) ReportFullscreenExit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAnswering && s.state != StateSectionIntro {
		return nil
	}
	return s.recordWarningLocked(model.WarningFullscreenExit)
}

// ReportTabHidden records a tab_switch warning. Visibility changes during
// instructions or an intro screen are ignored.
func (s *Session) ReportTabHidden() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAnswering {
		return nil
	}
	return s.recordWarningLocked(model.WarningTabSwitch)
}

// ReportClipboard emits a discouragement notice. Clipboard use never
// counts as a warning.
func (s *Session) ReportClipboard() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateSubmitted {
		return
	}
	s.emitLocked(Event{Kind: EventNotice, Notice: "Copy and paste are not allowed during this exam"})
}

// ─── Face sampling ──────────────────────────────────────────────────

func (s *Session) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}

// Sample grabs one frame and counts faces. At most one sample runs at a
// time: if a previous detection is still in flight the interval is
// skipped. Sampling is suspended outside the answering state.
func (s *Session) Sample(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateAnswering || s.stream == nil || s.sampling {
		s.mu.Unlock()
		return
	}
	s.sampling = true
	stream := s.stream
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sampling = false
		s.mu.Unlock()
	}()

	frame, err := stream.Frame(ctx)
	if err != nil {
		// No frame this interval. The camera handshake at start already
		// guaranteed the stream once worked; a transient gap is not an
		// integrity event.
		s.log.Debug().Err(err).Msg("Face sample skipped, no frame available")
		return
	}

	faces, err := s.cfg.Detector.EstimateFaceCount(frame)
	if err != nil {
		// Detection failures must not spill over into the student's
		// warning count.
		s.log.Warn().Err(err).Msg("Face detection failed, assuming one face")
		faces = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAnswering {
		return
	}

	switch {
	case faces == 0:
		_ = s.recordWarningLocked(model.WarningNoFace)
	case faces > 1:
		_ = s.recordWarningLocked(model.WarningMultipleFaces)
	}
}

// ─── Warning log ────────────────────────────────────────────────────

// recordWarningLocked appends a warning, emits it, fires the snapshot
// capture, and checks the auto-submit threshold. The warning is counted
// immediately; the snapshot URL is patched in when the capture finishes,
// and a failed capture leaves the warning URL-less rather than dropping
// it.
func (s *Session) recordWarningLocked(kind model.WarningType) error {
	now := s.cfg.Clock.Now()
	s.warnings = append(s.warnings, model.Warning{Type: kind, At: now})
	idx := len(s.warnings) - 1

	s.log.Info().
		Str("type", string(kind)).
		Int("count", len(s.warnings)).
		Msg("Integrity warning recorded")

	s.emitLocked(Event{
		Kind:         EventWarning,
		Warning:      &model.Warning{Type: kind, At: now},
		WarningCount: len(s.warnings),
	})

	if s.stream != nil && s.cfg.Sink != nil {
		go s.captureSnapshot(idx)
	}

	threshold := s.cfg.Exam.WarningsThreshold
	if threshold > 0 && len(s.warnings) >= threshold {
		return s.submitLocked(SubmitThreshold)
	}
	return nil
}

// captureSnapshot grabs the current frame and stores it as evidence for
// the warning at idx. Runs off the session goroutine so a slow store
// never delays the warning itself.
func (s *Session) captureSnapshot(idx int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CameraTimeout)
	defer cancel()

	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return
	}

	frame, err := stream.Frame(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Warning snapshot capture failed")
		return
	}

	url, err := s.cfg.Sink.StoreSnapshot(ctx, frame.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("Warning snapshot store failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < len(s.warnings) {
		s.warnings[idx].SnapshotURL = &url
	}
}

// PushFrame feeds a browser-captured webcam frame into the session's
// camera buffer. A no-op once submitted.
func (s *Session) PushFrame(frame Frame) {
	s.mu.Lock()
	submitted := s.state == StateSubmitted
	s.mu.Unlock()
	if submitted {
		return
	}
	if buf, ok := s.cfg.Camera.(*FrameBuffer); ok {
		buf.Push(frame)
	}
}
