package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTestNotFound = errors.New("test not found")
)

const (
	TypeSingleChoice = "single_choice"
	TypeMultiChoice  = "multi_choice"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type CreateTestInput struct {
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	StartAt         *time.Time `json:"start_at,omitempty"`
	EndAt           *time.Time `json:"end_at,omitempty"`
	Audience        []string   `json:"audience,omitempty"`
	EntryCode       string     `json:"entry_code,omitempty"`
	IsActive        bool       `json:"is_active"`
}

type Test struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	StartAt         *time.Time `json:"start_at,omitempty"`
	EndAt           *time.Time `json:"end_at,omitempty"`
	Audience        []string   `json:"audience"`
	HasEntryCode    bool       `json:"has_entry_code"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
}

type UpsertQuestionInput struct {
	TestID  int64    `json:"-"`
	SeqNo   int      `json:"seq_no"`
	Type    string   `json:"type"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Correct []int    `json:"correct"`
	Points  int      `json:"points"`
}

type AuthoredQuestion struct {
	ID      int64    `json:"id"`
	TestID  int64    `json:"test_id"`
	SeqNo   int      `json:"seq_no"`
	Type    string   `json:"type"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Correct []int    `json:"correct"`
	Points  int      `json:"points"`
}

func (s *Service) CreateTest(ctx context.Context, in CreateTestInput) (*Test, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidInput)
	}
	if in.StartAt != nil && in.EndAt != nil && !in.EndAt.After(*in.StartAt) {
		return nil, fmt.Errorf("%w: end_at must be after start_at", ErrInvalidInput)
	}

	audience := make([]string, 0, len(in.Audience))
	for _, g := range in.Audience {
		g = strings.TrimSpace(g)
		if g != "" {
			audience = append(audience, g)
		}
	}
	audienceRaw, err := json.Marshal(audience)
	if err != nil {
		return nil, fmt.Errorf("marshal audience: %w", err)
	}

	var entryHash any
	if code := strings.TrimSpace(in.EntryCode); code != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash entry code: %w", err)
		}
		entryHash = string(hash)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tests (title, duration_minutes, start_at, end_at, audience, entry_code_hash, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, now())
		RETURNING id, title, duration_minutes, start_at, end_at, audience, entry_code_hash, is_active, created_at
	`, in.Title, in.DurationMinutes, in.StartAt, in.EndAt, []byte(audienceRaw), entryHash, in.IsActive)

	return scanTest(row)
}

func (s *Service) GetTest(ctx context.Context, testID int64) (*Test, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, duration_minutes, start_at, end_at, audience, entry_code_hash, is_active, created_at
		FROM tests
		WHERE id = $1
	`, testID)
	out, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTestNotFound
	}
	return out, err
}

func (s *Service) SetTestActive(ctx context.Context, testID int64, active bool) error {
	if testID <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tests SET is_active = $2 WHERE id = $1`, testID, active)
	if err != nil {
		return fmt.Errorf("update test: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update test affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTestNotFound
	}
	return nil
}

// UpsertQuestion writes one authored question. Re-posting the same seq_no
// replaces the previous content so authors can fix mistakes in place.
func (s *Service) UpsertQuestion(ctx context.Context, in UpsertQuestionInput) (*AuthoredQuestion, error) {
	if err := validateQuestionInput(in); err != nil {
		return nil, err
	}

	var testExists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tests WHERE id = $1)`, in.TestID).Scan(&testExists); err != nil {
		return nil, fmt.Errorf("check test exists: %w", err)
	}
	if !testExists {
		return nil, ErrTestNotFound
	}

	optionsRaw, err := json.Marshal(in.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	correctRaw, err := json.Marshal(in.Correct)
	if err != nil {
		return nil, fmt.Errorf("marshal correct: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO questions (test_id, seq_no, qtype, prompt, options, correct, points)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7)
		ON CONFLICT (test_id, seq_no)
		DO UPDATE SET qtype = EXCLUDED.qtype, prompt = EXCLUDED.prompt,
			options = EXCLUDED.options, correct = EXCLUDED.correct, points = EXCLUDED.points
		RETURNING id, test_id, seq_no, qtype, prompt, options, correct, points
	`, in.TestID, in.SeqNo, in.Type, strings.TrimSpace(in.Prompt), []byte(optionsRaw), []byte(correctRaw), in.Points)

	return scanAuthoredQuestion(row)
}

func (s *Service) ListQuestions(ctx context.Context, testID int64) ([]AuthoredQuestion, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}
	var testExists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tests WHERE id = $1)`, testID).Scan(&testExists); err != nil {
		return nil, fmt.Errorf("check test exists: %w", err)
	}
	if !testExists {
		return nil, ErrTestNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, test_id, seq_no, qtype, prompt, options, correct, points
		FROM questions
		WHERE test_id = $1
		ORDER BY seq_no ASC
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	items := make([]AuthoredQuestion, 0)
	for rows.Next() {
		q, err := scanAuthoredQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func validateQuestionInput(in UpsertQuestionInput) error {
	if in.TestID <= 0 || in.SeqNo <= 0 {
		return ErrInvalidInput
	}
	if in.Type != TypeSingleChoice && in.Type != TypeMultiChoice {
		return fmt.Errorf("%w: type must be %s or %s", ErrInvalidInput, TypeSingleChoice, TypeMultiChoice)
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if len(in.Options) < 2 {
		return fmt.Errorf("%w: at least 2 options are required", ErrInvalidInput)
	}
	if in.Points <= 0 {
		return fmt.Errorf("%w: points must be positive", ErrInvalidInput)
	}
	if len(in.Correct) == 0 {
		return fmt.Errorf("%w: at least 1 correct index is required", ErrInvalidInput)
	}
	if in.Type == TypeSingleChoice && len(in.Correct) != 1 {
		return fmt.Errorf("%w: single_choice requires exactly 1 correct index", ErrInvalidInput)
	}
	seen := map[int]struct{}{}
	for _, idx := range in.Correct {
		if idx < 0 || idx >= len(in.Options) {
			return fmt.Errorf("%w: correct index %d out of range", ErrInvalidInput, idx)
		}
		if _, dup := seen[idx]; dup {
			return fmt.Errorf("%w: duplicate correct index %d", ErrInvalidInput, idx)
		}
		seen[idx] = struct{}{}
	}
	return nil
}

func scanTest(scanner interface{ Scan(dest ...any) error }) (*Test, error) {
	var out Test
	var startAt, endAt sql.NullTime
	var audienceRaw []byte
	var entryHash sql.NullString
	if err := scanner.Scan(
		&out.ID,
		&out.Title,
		&out.DurationMinutes,
		&startAt,
		&endAt,
		&audienceRaw,
		&entryHash,
		&out.IsActive,
		&out.CreatedAt,
	); err != nil {
		return nil, err
	}
	if startAt.Valid {
		out.StartAt = &startAt.Time
	}
	if endAt.Valid {
		out.EndAt = &endAt.Time
	}
	out.Audience = []string{}
	if len(audienceRaw) > 0 {
		_ = json.Unmarshal(audienceRaw, &out.Audience)
	}
	out.HasEntryCode = entryHash.Valid && strings.TrimSpace(entryHash.String) != ""
	return &out, nil
}

func scanAuthoredQuestion(scanner interface{ Scan(dest ...any) error }) (*AuthoredQuestion, error) {
	var out AuthoredQuestion
	var optionsRaw, correctRaw []byte
	if err := scanner.Scan(
		&out.ID,
		&out.TestID,
		&out.SeqNo,
		&out.Type,
		&out.Prompt,
		&optionsRaw,
		&correctRaw,
		&out.Points,
	); err != nil {
		return nil, err
	}
	out.Options = []string{}
	out.Correct = []int{}
	if len(optionsRaw) > 0 {
		_ = json.Unmarshal(optionsRaw, &out.Options)
	}
	if len(correctRaw) > 0 {
		_ = json.Unmarshal(correctRaw, &out.Correct)
	}
	return &out, nil
}
