package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Ashish1022/proctor-sub000/internal/proctor"
)

// State of the in-memory session orchestrator. submitting exists so that
// concurrent submit triggers (manual click, clock expiry, violation limit)
// collapse into exactly one submission attempt.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
)

// SubmissionStore is the persistence boundary the session trusts as the
// single source of truth. It must guarantee at most one submission per
// (test, student) and atomic upsert of answers.
type SubmissionStore interface {
	StartSession(ctx context.Context, testID, studentID int64, groups []string, entryCode string) (*Handle, error)
	SaveAnswer(ctx context.Context, in SaveAnswerInput) error
	SubmitSession(ctx context.Context, in SubmitInput) (*SubmitResult, error)
}

// TestSession orchestrates one student's live run through one test: start,
// answer capture, flagging, and the three submission paths. Transitions are
// mutex-guarded; the first submit trigger wins and later ones are no-ops.
type TestSession struct {
	testID    int64
	studentID int64
	groups    []string
	store     SubmissionStore

	mu       sync.Mutex
	state    State
	handle   *Handle
	clock    *Clock
	ledger   *proctor.Ledger
	detector *proctor.Detector
	answers  map[int64]json.RawMessage
	flags    map[int64]bool
	result   *SubmitResult
}

func NewTestSession(testID, studentID int64, groups []string, store SubmissionStore) *TestSession {
	return &TestSession{
		testID:    testID,
		studentID: studentID,
		groups:    groups,
		store:     store,
		state:     StateNotStarted,
		answers:   map[int64]json.RawMessage{},
		flags:     map[int64]bool{},
	}
}

// Start moves not_started -> in_progress. A failed start leaves the session
// in not_started so it can simply be retried. If the store already holds a
// final submission for this (test, student), the session reconciles straight
// into submitted instead of re-entering in_progress.
func (s *TestSession) Start(ctx context.Context, entryCode string) (*Handle, error) {
	s.mu.Lock()
	if s.state != StateNotStarted {
		h := s.handle
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	handle, err := s.store.StartSession(ctx, s.testID, s.studentID, s.groups, entryCode)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNotStarted {
		return s.handle, nil
	}
	s.handle = handle
	if handle.Submission.Final() {
		s.state = StateSubmitted
		s.result = &SubmitResult{
			SubmissionID:  handle.Submission.ID,
			ObtainedScore: handle.Submission.ObtainedScore,
			TotalScore:    handle.Submission.TotalScore,
			Percentage:    handle.Submission.Percentage,
			Status:        handle.Submission.Status,
			SubmitTrigger: handle.Submission.SubmitTrigger,
		}
		return handle, nil
	}
	s.state = StateInProgress
	return handle, nil
}

// AttachProctoring hands the session its clock, ledger and detector. The
// session owns their teardown on every terminal path.
func (s *TestSession) AttachProctoring(clock *Clock, ledger *proctor.Ledger, detector *proctor.Detector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	s.ledger = ledger
	s.detector = detector
}

// SaveAnswer accepts an answer for any question in any order. Last write wins
// per question. The value is kept locally for the final grading pass and
// written through to the store; a write-through failure is surfaced for retry
// but does not lose the local value.
func (s *TestSession) SaveAnswer(ctx context.Context, questionID int64, payload json.RawMessage, flagged bool) error {
	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		return ErrSubmissionNotEditable
	}
	s.answers[questionID] = payload
	s.flags[questionID] = flagged
	submissionID := s.handle.Submission.ID
	s.mu.Unlock()

	return s.store.SaveAnswer(ctx, SaveAnswerInput{
		SubmissionID: submissionID,
		QuestionID:   questionID,
		Payload:      payload,
		Flagged:      flagged,
	})
}

// ToggleFlag flips the review marker for a question. Flags are a client-side
// aid only and never gate submission.
func (s *TestSession) ToggleFlag(questionID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return false, ErrSubmissionNotEditable
	}
	s.flags[questionID] = !s.flags[questionID]
	return s.flags[questionID], nil
}

func (s *TestSession) Flagged(questionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[questionID]
}

// Submit drives in_progress -> submitting -> submitted. Exactly one trigger
// wins; while submitting, further triggers get ErrSubmitInFlight, and once
// submitted they get the stored result back unchanged. On persistence failure
// the session falls back to in_progress so the student can retry — the clock
// keeps running throughout.
func (s *TestSession) Submit(ctx context.Context, trigger Trigger) (*SubmitResult, error) {
	s.mu.Lock()
	switch s.state {
	case StateSubmitted:
		res := s.result
		s.mu.Unlock()
		return res, nil
	case StateSubmitting:
		s.mu.Unlock()
		return nil, ErrSubmitInFlight
	case StateNotStarted:
		s.mu.Unlock()
		return nil, ErrSessionNotStarted
	}

	s.state = StateSubmitting
	answers := make(map[int64]json.RawMessage, len(s.answers))
	for id, raw := range s.answers {
		answers[id] = raw
	}
	var timeSpent int64
	if s.clock != nil {
		timeSpent = int64(s.clock.Elapsed().Seconds())
	}
	in := SubmitInput{
		TestID:           s.testID,
		StudentID:        s.studentID,
		Answers:          answers,
		TimeSpentSeconds: timeSpent,
		Trigger:          trigger,
	}
	s.mu.Unlock()

	result, err := s.store.SubmitSession(ctx, in)

	s.mu.Lock()
	if err != nil {
		s.state = StateInProgress
		s.mu.Unlock()
		return nil, err
	}
	s.state = StateSubmitted
	s.result = result
	s.mu.Unlock()

	s.teardown()
	return result, nil
}

// teardown releases everything the live session holds: the countdown stops
// and the detector detaches, which also stops its timers and media tracks.
func (s *TestSession) teardown() {
	s.mu.Lock()
	clock, detector := s.clock, s.detector
	s.mu.Unlock()

	if clock != nil {
		clock.Stop()
	}
	if detector != nil {
		detector.Detach()
	}
}

// Abandon tears the session down without submitting, for abrupt navigation
// away. The persisted submission stays in_progress and can be resumed.
func (s *TestSession) Abandon() {
	s.teardown()
}

func (s *TestSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *TestSession) Result() *SubmitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *TestSession) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *TestSession) Clock() *Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

func (s *TestSession) Ledger() *proctor.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger
}

func (s *TestSession) Detector() *proctor.Detector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detector
}
