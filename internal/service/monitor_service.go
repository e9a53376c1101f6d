package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/invigilo/invigilo-backend/internal/repository"
	"github.com/invigilo/invigilo-backend/internal/session"
)

// MonitorService assembles the proctor's live view of an exam in progress.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	sessions    *SessionService
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, sessions *SessionService) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo, sessions: sessions}
}

// StudentProgress is one student's row in the proctor monitor.
type StudentProgress struct {
	StudentID     int           `json:"student_id"`
	State         session.State `json:"state"`
	QuestionIndex int           `json:"question_index"`
	SectionIndex  int           `json:"section_index"`
	ExamRemaining int           `json:"exam_remaining"`
	AnsweredCount int64         `json:"answered_count"`
	WarningCount  int64         `json:"warning_count"`
}

// ExamProgressSnapshot is the full monitor view for one exam.
type ExamProgressSnapshot struct {
	LiveSessions  int               `json:"live_sessions"`
	TotalWarnings int64             `json:"total_warnings"`
	Students      []StudentProgress `json:"students"`
}

// GetExamProgress combines in-memory session state with answered counts
// and persisted warning counts. The two backing fetches run concurrently.
func (s *MonitorService) GetExamProgress(ctx context.Context, examID uuid.UUID) (*ExamProgressSnapshot, error) {
	snapshots := s.sessions.LiveSnapshots(examID)

	studentIDs := make([]int, 0, len(snapshots))
	for sid := range snapshots {
		studentIDs = append(studentIDs, sid)
	}

	var (
		answeredCounts map[int]int64
		warningCounts  map[int]int64
		answeredErr    error
		warningErr     error
		wg             sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		answeredCounts, answeredErr = s.monitorRepo.GetAnsweredCounts(ctx, examID, studentIDs)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		warningCounts, warningErr = s.monitorRepo.GetWarningCounts(ctx, examID)
	}()

	wg.Wait()

	// Answered counts are best-effort; the in-memory state is the source
	// of truth for what matters.
	if answeredErr != nil {
		answeredCounts = map[int]int64{}
	}
	if warningErr != nil {
		warningCounts = map[int]int64{}
	}

	out := &ExamProgressSnapshot{
		LiveSessions: s.sessions.LiveCount(examID),
		Students:     make([]StudentProgress, 0, len(snapshots)),
	}

	for sid, snap := range snapshots {
		warnings := warningCounts[sid]
		if int64(snap.WarningCount) > warnings {
			// Persistence may lag the live counter.
			warnings = int64(snap.WarningCount)
		}
		out.Students = append(out.Students, StudentProgress{
			StudentID:     sid,
			State:         snap.State,
			QuestionIndex: snap.QuestionIndex,
			SectionIndex:  snap.SectionIndex,
			ExamRemaining: snap.ExamRemaining,
			AnsweredCount: answeredCounts[sid],
			WarningCount:  warnings,
		})
	}
	for _, n := range warningCounts {
		out.TotalWarnings += n
	}

	return out, nil
}
