package session

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrTestNotFound          = errors.New("test not found")
	ErrTestNotAvailable      = errors.New("test not available")
	ErrForbidden             = errors.New("student outside test audience")
	ErrEntryCodeInvalid      = errors.New("entry code invalid")
	ErrSubmissionNotFound    = errors.New("submission not found")
	ErrSubmissionNotEditable = errors.New("submission is not editable")
	ErrQuestionNotInTest     = errors.New("question not in test")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSubmitInFlight        = errors.New("submission already in flight")
	ErrSessionNotStarted     = errors.New("session not started")
)

// Submission lifecycle status as persisted. Status only moves forward:
// in_progress -> graded (grading runs synchronously inside the submit
// transaction, so the transient submitted step is never observable at rest).
const (
	SubmissionInProgress = "in_progress"
	SubmissionSubmitted  = "submitted"
	SubmissionGraded     = "graded"
)

// Trigger names the cause of a submission. Forced triggers are persisted as
// metadata and never change scoring.
type Trigger string

const (
	TriggerManual         Trigger = "manual"
	TriggerTimeExpired    Trigger = "time_expired"
	TriggerViolationLimit Trigger = "violation_limit"
)

type Submission struct {
	ID               int64      `json:"id"`
	TestID           int64      `json:"test_id"`
	StudentID        int64      `json:"student_id"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	TimeSpentSeconds int64      `json:"time_spent_seconds"`
	ObtainedScore    int        `json:"obtained_score"`
	TotalScore       int        `json:"total_score"`
	Percentage       int        `json:"percentage"`
	SubmitTrigger    string     `json:"submit_trigger,omitempty"`
}

// Final reports whether the submission can no longer be mutated.
func (s *Submission) Final() bool {
	return s.Status == SubmissionSubmitted || s.Status == SubmissionGraded
}

// Handle is what starting a session hands back: the authoritative submission
// row plus the timing facts the in-memory session needs to build its clock.
type Handle struct {
	Submission      Submission `json:"submission"`
	DurationSeconds int64      `json:"duration_seconds"`
	EndAt           *time.Time `json:"end_at,omitempty"`
}

// QuestionView is the student-facing question shape. Correct option indices
// are deliberately absent and must never travel through this type.
type QuestionView struct {
	ID      int64    `json:"id"`
	SeqNo   int      `json:"seq_no"`
	Type    string   `json:"type"`
	Options []string `json:"options"`
	Points  int      `json:"points"`
}

type SubmitInput struct {
	TestID           int64
	StudentID        int64
	Answers          map[int64]json.RawMessage
	TimeSpentSeconds int64
	Trigger          Trigger
}

type SubmitResult struct {
	SubmissionID  int64  `json:"submission_id"`
	ObtainedScore int    `json:"obtained_score"`
	TotalScore    int    `json:"total_score"`
	Percentage    int    `json:"percentage"`
	Status        string `json:"status"`
	SubmitTrigger string `json:"submit_trigger"`
}

type ResultItem struct {
	QuestionID    int64 `json:"question_id"`
	SeqNo         int   `json:"seq_no"`
	Selected      []int `json:"selected,omitempty"`
	IsCorrect     bool  `json:"is_correct"`
	MarksObtained int   `json:"marks_obtained"`
	Points        int   `json:"points"`
}

type Result struct {
	Submission Submission   `json:"submission"`
	Items      []ResultItem `json:"items"`
}

type SaveAnswerInput struct {
	SubmissionID int64
	QuestionID   int64
	Payload      json.RawMessage
	Flagged      bool
}
