package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Ashish1022/proctor-sub000/internal/grading"
	"github.com/Ashish1022/proctor-sub000/internal/proctor"
)

// Service is the SQL-backed SubmissionStore and violation sink. It is the
// single source of truth for submissions: at most one row per
// (test, student), enforced by a unique constraint and reconciled on resume.
type Service struct {
	db                     *sql.DB
	defaultDurationMinutes int
}

func NewService(db *sql.DB, defaultDurationMinutes int) *Service {
	if defaultDurationMinutes <= 0 {
		defaultDurationMinutes = 60
	}
	return &Service{db: db, defaultDurationMinutes: defaultDurationMinutes}
}

type testRow struct {
	ID              int64
	DurationMinutes int
	StartAt         sql.NullTime
	EndAt           sql.NullTime
	Audience        []string
	EntryCodeHash   string
}

// StartSession is idempotent per (test, student): an existing submission is
// reused with its original startedAt, a final one is returned as-is for the
// caller to present as already complete, and only a missing one is created.
func (s *Service) StartSession(ctx context.Context, testID, studentID int64, groups []string, entryCode string) (*Handle, error) {
	test, err := s.loadTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	var questionCount int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM questions WHERE test_id = $1
	`, testID).Scan(&questionCount); err != nil {
		return nil, fmt.Errorf("count questions: %w", err)
	}
	if questionCount == 0 {
		return nil, ErrTestNotAvailable
	}

	now := time.Now()
	if test.StartAt.Valid && now.Before(test.StartAt.Time) {
		return nil, ErrTestNotAvailable
	}
	if test.EndAt.Valid && now.After(test.EndAt.Time) {
		return nil, ErrTestNotAvailable
	}

	if len(test.Audience) > 0 && !intersects(test.Audience, groups) {
		return nil, ErrForbidden
	}

	if test.EntryCodeHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(test.EntryCodeHash), []byte(strings.TrimSpace(entryCode))); err != nil {
			return nil, ErrEntryCodeInvalid
		}
	}

	sub, err := s.GetExistingSubmission(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		sub, err = s.createSubmission(ctx, testID, studentID)
		if err != nil {
			return nil, err
		}
	}

	return s.handleFor(test, sub), nil
}

func (s *Service) createSubmission(ctx context.Context, testID, studentID int64) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO submissions (test_id, student_id, status, started_at)
		VALUES ($1, $2, 'in_progress', now())
		ON CONFLICT (test_id, student_id) DO NOTHING
		RETURNING id, test_id, student_id, status, started_at, submitted_at,
			time_spent_seconds, obtained_score, total_score, percentage, submit_trigger
	`, testID, studentID)

	sub, err := scanSubmission(row)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("insert submission: %w", err)
	}

	// Lost the insert race; the winner's row is authoritative.
	existing, err := s.GetExistingSubmission(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("insert submission: conflict but no row for test=%d student=%d", testID, studentID)
	}
	return existing, nil
}

func (s *Service) handleFor(test *testRow, sub *Submission) *Handle {
	h := &Handle{
		Submission:      *sub,
		DurationSeconds: int64(test.DurationMinutes) * 60,
	}
	if test.EndAt.Valid {
		end := test.EndAt.Time
		h.EndAt = &end
	}
	return h
}

// GetExistingSubmission returns nil without error when no submission exists.
func (s *Service) GetExistingSubmission(ctx context.Context, testID, studentID int64) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, test_id, student_id, status, started_at, submitted_at,
			time_spent_seconds, obtained_score, total_score, percentage, submit_trigger
		FROM submissions
		WHERE test_id = $1 AND student_id = $2
	`, testID, studentID)

	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load submission: %w", err)
	}
	return sub, nil
}

// GetQuestionSet returns the ordered student-facing question set. Correct
// option indices never leave this layer before grading.
func (s *Service) GetQuestionSet(ctx context.Context, testID int64) ([]QuestionView, error) {
	if _, err := s.loadTest(ctx, testID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq_no, qtype, options, points
		FROM questions
		WHERE test_id = $1
		ORDER BY seq_no
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query question set: %w", err)
	}
	defer rows.Close()

	out := make([]QuestionView, 0)
	for rows.Next() {
		var q QuestionView
		var optionsJSON []byte
		if err := rows.Scan(&q.ID, &q.SeqNo, &q.Type, &optionsJSON, &q.Points); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(optionsJSON, &q.Options); err != nil {
			return nil, fmt.Errorf("decode question options: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

// SaveAnswer upserts one answer while the submission is editable. Last write
// wins per (submission, question).
func (s *Service) SaveAnswer(ctx context.Context, in SaveAnswerInput) error {
	sub, err := s.loadSubmissionByID(ctx, s.db, in.SubmissionID)
	if err != nil {
		return err
	}
	if sub.Status != SubmissionInProgress {
		return ErrSubmissionNotEditable
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM questions WHERE test_id = $1 AND id = $2
		)
	`, sub.TestID, in.QuestionID).Scan(&exists); err != nil {
		return fmt.Errorf("validate question in test: %w", err)
	}
	if !exists {
		return ErrQuestionNotInTest
	}

	payload := in.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`null`)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO answers (submission_id, question_id, selected, flagged, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, now())
		ON CONFLICT (submission_id, question_id)
		DO UPDATE SET
			selected = EXCLUDED.selected,
			flagged = EXCLUDED.flagged,
			updated_at = now()
	`, in.SubmissionID, in.QuestionID, []byte(payload), in.Flagged); err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

// SubmitSession grades and finalizes exactly once. An already-final
// submission returns its stored result untouched, so retries and the forced
// paths cannot regrade or drift. A persistence failure rolls the whole thing
// back and the submission stays in_progress.
func (s *Service) SubmitSession(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sub, err := s.loadSubmissionByPairForUpdate(ctx, tx, in.TestID, in.StudentID)
	if err != nil {
		return nil, err
	}

	if sub.Final() {
		result := resultFromSubmission(sub)
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit submit noop: %w", err)
		}
		return result, nil
	}

	questions, err := s.loadAnswerKey(ctx, tx, in.TestID)
	if err != nil {
		return nil, err
	}

	answers, err := s.loadStoredAnswers(ctx, tx, sub.ID)
	if err != nil {
		return nil, err
	}
	for id, raw := range in.Answers {
		answers[id] = raw
	}

	graded := grading.Grade(questions, answers)

	for _, item := range graded.Items {
		selectedJSON, _ := json.Marshal(item.Selected)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO answers (
				submission_id, question_id, selected, is_correct, marks_obtained, updated_at
			) VALUES ($1, $2, $3::jsonb, $4, $5, now())
			ON CONFLICT (submission_id, question_id)
			DO UPDATE SET
				selected = EXCLUDED.selected,
				is_correct = EXCLUDED.is_correct,
				marks_obtained = EXCLUDED.marks_obtained,
				updated_at = now()
		`, sub.ID, item.QuestionID, selectedJSON, item.IsCorrect, item.MarksObtained); err != nil {
			return nil, fmt.Errorf("upsert graded answer: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE submissions
		SET status = 'graded',
			submitted_at = now(),
			time_spent_seconds = $2,
			obtained_score = $3,
			total_score = $4,
			percentage = $5,
			submit_trigger = $6
		WHERE id = $1
	`, sub.ID, in.TimeSpentSeconds, graded.ObtainedScore, graded.TotalScore, graded.Percentage, string(in.Trigger)); err != nil {
		return nil, fmt.Errorf("finalize submission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}

	return &SubmitResult{
		SubmissionID:  sub.ID,
		ObtainedScore: graded.ObtainedScore,
		TotalScore:    graded.TotalScore,
		Percentage:    graded.Percentage,
		Status:        SubmissionGraded,
		SubmitTrigger: string(in.Trigger),
	}, nil
}

// GetSubmission loads one submission by ID.
func (s *Service) GetSubmission(ctx context.Context, submissionID int64) (*Submission, error) {
	return s.loadSubmissionByID(ctx, s.db, submissionID)
}

// GetResult returns the graded outcome with per-question items. Only final
// submissions have one.
func (s *Service) GetResult(ctx context.Context, submissionID int64) (*Result, error) {
	sub, err := s.loadSubmissionByID(ctx, s.db, submissionID)
	if err != nil {
		return nil, err
	}
	if !sub.Final() {
		return nil, ErrSubmissionNotEditable
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.question_id, q.seq_no, a.selected, a.is_correct, a.marks_obtained, q.points
		FROM answers a
		JOIN questions q ON q.id = a.question_id
		WHERE a.submission_id = $1
		ORDER BY q.seq_no
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("query result items: %w", err)
	}
	defer rows.Close()

	items := make([]ResultItem, 0)
	for rows.Next() {
		var item ResultItem
		var selected []byte
		var isCorrect sql.NullBool
		if err := rows.Scan(&item.QuestionID, &item.SeqNo, &selected, &isCorrect, &item.MarksObtained, &item.Points); err != nil {
			return nil, fmt.Errorf("scan result item: %w", err)
		}
		if len(selected) > 0 {
			_ = json.Unmarshal(selected, &item.Selected)
		}
		item.IsCorrect = isCorrect.Valid && isCorrect.Bool
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result items: %w", err)
	}

	return &Result{Submission: *sub, Items: items}, nil
}

// RecordViolation persists one proctoring violation. Callers treat this as
// fire-and-forget; an error here never reaches the state machine.
func (s *Service) RecordViolation(ctx context.Context, submissionID int64, v proctor.Violation) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (id, submission_id, vtype, severity, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, v.ID, submissionID, string(v.Type), string(v.Severity), v.Detail, v.At); err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

// ListViolations returns the persisted violations for one submission in
// chronological order.
func (s *Service) ListViolations(ctx context.Context, submissionID int64) ([]proctor.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vtype, severity, detail, occurred_at
		FROM violations
		WHERE submission_id = $1
		ORDER BY occurred_at, id
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	out := make([]proctor.Violation, 0)
	for rows.Next() {
		var v proctor.Violation
		var vtype, severity string
		if err := rows.Scan(&v.ID, &vtype, &severity, &v.Detail, &v.At); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Type = proctor.ViolationType(vtype)
		v.Severity = proctor.Severity(severity)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violations: %w", err)
	}
	return out, nil
}

func (s *Service) loadTest(ctx context.Context, testID int64) (*testRow, error) {
	var t testRow
	var audienceJSON []byte
	var entryCodeHash sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, duration_minutes, start_at, end_at, audience, entry_code_hash
		FROM tests
		WHERE id = $1 AND is_active = TRUE
	`, testID).Scan(&t.ID, &t.DurationMinutes, &t.StartAt, &t.EndAt, &audienceJSON, &entryCodeHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test: %w", err)
	}
	if t.DurationMinutes <= 0 {
		t.DurationMinutes = s.defaultDurationMinutes
	}
	if len(audienceJSON) > 0 {
		if err := json.Unmarshal(audienceJSON, &t.Audience); err != nil {
			return nil, fmt.Errorf("decode test audience: %w", err)
		}
	}
	t.EntryCodeHash = strings.TrimSpace(entryCodeHash.String)
	return &t, nil
}

func (s *Service) loadAnswerKey(ctx context.Context, q queryable, testID int64) ([]grading.Question, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, seq_no, qtype, options, correct, points
		FROM questions
		WHERE test_id = $1
		ORDER BY seq_no
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query answer key: %w", err)
	}
	defer rows.Close()

	out := make([]grading.Question, 0)
	for rows.Next() {
		var gq grading.Question
		var optionsJSON, correctJSON []byte
		if err := rows.Scan(&gq.ID, &gq.SeqNo, &gq.Type, &optionsJSON, &correctJSON, &gq.Points); err != nil {
			return nil, fmt.Errorf("scan answer key row: %w", err)
		}
		if err := json.Unmarshal(optionsJSON, &gq.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
		if err := json.Unmarshal(correctJSON, &gq.Correct); err != nil {
			return nil, fmt.Errorf("decode correct indices: %w", err)
		}
		out = append(out, gq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer key: %w", err)
	}
	return out, nil
}

func (s *Service) loadStoredAnswers(ctx context.Context, q queryable, submissionID int64) (map[int64]json.RawMessage, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT question_id, selected
		FROM answers
		WHERE submission_id = $1
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("query stored answers: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]json.RawMessage)
	for rows.Next() {
		var questionID int64
		var selected []byte
		if err := rows.Scan(&questionID, &selected); err != nil {
			return nil, fmt.Errorf("scan stored answer: %w", err)
		}
		out[questionID] = json.RawMessage(selected)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stored answers: %w", err)
	}
	return out, nil
}

func (s *Service) loadSubmissionByID(ctx context.Context, q queryable, submissionID int64) (*Submission, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, test_id, student_id, status, started_at, submitted_at,
			time_spent_seconds, obtained_score, total_score, percentage, submit_trigger
		FROM submissions
		WHERE id = $1
	`, submissionID)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("load submission: %w", err)
	}
	return sub, nil
}

func (s *Service) loadSubmissionByPairForUpdate(ctx context.Context, tx *sql.Tx, testID, studentID int64) (*Submission, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, test_id, student_id, status, started_at, submitted_at,
			time_spent_seconds, obtained_score, total_score, percentage, submit_trigger
		FROM submissions
		WHERE test_id = $1 AND student_id = $2
		FOR UPDATE
	`, testID, studentID)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("load submission for update: %w", err)
	}
	return sub, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var sub Submission
	var submittedAt sql.NullTime
	var trigger sql.NullString
	err := row.Scan(
		&sub.ID,
		&sub.TestID,
		&sub.StudentID,
		&sub.Status,
		&sub.StartedAt,
		&submittedAt,
		&sub.TimeSpentSeconds,
		&sub.ObtainedScore,
		&sub.TotalScore,
		&sub.Percentage,
		&trigger,
	)
	if err != nil {
		return nil, err
	}
	if submittedAt.Valid {
		sub.SubmittedAt = &submittedAt.Time
	}
	sub.SubmitTrigger = trigger.String
	return &sub, nil
}

func resultFromSubmission(sub *Submission) *SubmitResult {
	return &SubmitResult{
		SubmissionID:  sub.ID,
		ObtainedScore: sub.ObtainedScore,
		TotalScore:    sub.TotalScore,
		Percentage:    sub.Percentage,
		Status:        sub.Status,
		SubmitTrigger: sub.SubmitTrigger,
	}
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[strings.TrimSpace(strings.ToLower(v))] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[strings.TrimSpace(strings.ToLower(v))]; ok {
			return true
		}
	}
	return false
}
