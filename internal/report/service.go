package report

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

var ErrTestNotFound = errors.New("test not found")

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// TestSummary aggregates the graded outcomes for one test.
type TestSummary struct {
	TestID            int64   `json:"test_id"`
	Title             string  `json:"title"`
	Participants      int     `json:"participants"`
	Graded            int     `json:"graded"`
	InProgress        int     `json:"in_progress"`
	AveragePercentage float64 `json:"average_percentage"`
	HighestPercentage int     `json:"highest_percentage"`
	LowestPercentage  int     `json:"lowest_percentage"`
	ForcedSubmits     int     `json:"forced_submits"`
	TotalViolations   int     `json:"total_violations"`
}

type ResultRow struct {
	SubmissionID     int64
	StudentID        int64
	Status           string
	ObtainedScore    int
	TotalScore       int
	Percentage       int
	SubmitTrigger    string
	TimeSpentSeconds int
	SubmittedAt      *time.Time
	ViolationCount   int
}

func (s *Service) SummaryByTest(ctx context.Context, testID int64) (*TestSummary, error) {
	out := &TestSummary{TestID: testID}

	err := s.db.QueryRowContext(ctx, `SELECT title FROM tests WHERE id = $1`, testID).Scan(&out.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query test: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'graded'),
			COUNT(*) FILTER (WHERE status = 'in_progress'),
			COALESCE(AVG(percentage) FILTER (WHERE status = 'graded'), 0),
			COALESCE(MAX(percentage) FILTER (WHERE status = 'graded'), 0),
			COALESCE(MIN(percentage) FILTER (WHERE status = 'graded'), 0),
			COUNT(*) FILTER (WHERE status = 'graded' AND submit_trigger <> 'manual')
		FROM submissions
		WHERE test_id = $1
	`, testID).Scan(
		&out.Participants,
		&out.Graded,
		&out.InProgress,
		&out.AveragePercentage,
		&out.HighestPercentage,
		&out.LowestPercentage,
		&out.ForcedSubmits,
	)
	if err != nil {
		return nil, fmt.Errorf("query submission stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM violations v
		JOIN submissions sub ON sub.id = v.submission_id
		WHERE sub.test_id = $1
	`, testID).Scan(&out.TotalViolations)
	if err != nil {
		return nil, fmt.Errorf("query violation stats: %w", err)
	}

	return out, nil
}

func (s *Service) ResultsByTest(ctx context.Context, testID int64) ([]ResultRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			sub.id, sub.student_id, sub.status,
			sub.obtained_score, sub.total_score, sub.percentage,
			sub.submit_trigger, sub.time_spent_seconds, sub.submitted_at,
			(SELECT COUNT(*) FROM violations v WHERE v.submission_id = sub.id)
		FROM submissions sub
		WHERE sub.test_id = $1
		ORDER BY sub.percentage DESC, sub.id ASC
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		var r ResultRow
		if err := rows.Scan(
			&r.SubmissionID, &r.StudentID, &r.Status,
			&r.ObtainedScore, &r.TotalScore, &r.Percentage,
			&r.SubmitTrigger, &r.TimeSpentSeconds, &r.SubmittedAt,
			&r.ViolationCount,
		); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Service) ExportResultsExcel(ctx context.Context, testID int64) ([]byte, error) {
	if _, err := s.SummaryByTest(ctx, testID); err != nil {
		return nil, err
	}
	items, err := s.ResultsByTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"submission_id", "student_id", "status", "obtained_score", "total_score", "percentage", "submit_trigger", "time_spent_seconds", "submitted_at", "violations"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		row := i + 2
		submittedAt := ""
		if it.SubmittedAt != nil {
			submittedAt = it.SubmittedAt.Format("2006-01-02 15:04:05")
		}
		values := []any{
			it.SubmissionID,
			it.StudentID,
			it.Status,
			it.ObtainedScore,
			it.TotalScore,
			it.Percentage,
			it.SubmitTrigger,
			it.TimeSpentSeconds,
			submittedAt,
			it.ViolationCount,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "J", 20)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
