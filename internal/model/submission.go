package model

import (
	"time"

	"github.com/google/uuid"
)

// WarningType tags one kind of recorded integrity violation.
type WarningType string

const (
	WarningFullscreenExit WarningType = "fullscreen_exit"
	WarningTabSwitch      WarningType = "tab_switch"
	WarningNoFace         WarningType = "no_face"
	WarningMultipleFaces  WarningType = "multiple_faces"
)

// Warning is one recorded integrity violation. Warnings are append-only for
// the lifetime of a session; SnapshotURL stays nil when the evidence capture
// or upload failed.
type Warning struct {
	Type        WarningType `json:"type"`
	At          time.Time   `json:"at"`
	SnapshotURL *string     `json:"snapshot_url,omitempty"`
}

// Submission is the persisted, scored result of a completed attempt.
// Created exactly once per (exam, student) pair at submit time; a repeat
// submit overwrites it wholesale. Teacher-side evaluation later updates the
// scores and flips EvaluationComplete.
type Submission struct {
	ID                 uuid.UUID         `json:"id"`
	ExamID             uuid.UUID         `json:"exam_id"`
	StudentID          int               `json:"student_id"`
	Answers            map[string]string `json:"answers"`
	StartedAt          time.Time         `json:"started_at"`
	FinishedAt         time.Time         `json:"finished_at"`
	TimeTakenMinutes   int               `json:"time_taken_minutes"`
	Score              int               `json:"score"`
	MaxScore           int               `json:"max_score"`
	Percentage         int               `json:"percentage"`
	WarningCount       int               `json:"warning_count"`
	Warnings           []Warning         `json:"warnings"`
	NeedsEvaluation    bool              `json:"needs_evaluation"`
	EvaluationComplete bool              `json:"evaluation_complete"`
}

// Passed reports whether the submission meets the exam's minimum pass score.
func (s *Submission) Passed(passScore int) bool {
	return s.Score >= passScore
}

// EvaluateSubmissionRequest carries a teacher's manual short-answer scores,
// keyed by question id.
type EvaluateSubmissionRequest struct {
	Scores map[string]int `json:"scores" binding:"required,min=1"`
}
