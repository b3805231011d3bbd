package observability

import (
	"context"
	"testing"
	"time"

	"github.com/Ashish1022/proctor-sub000/internal/proctor"
)

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/v1/sessions/123/answers/9")
	want := "/api/v1/sessions/{id}/answers/{id}"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
}

func TestExtractSessionID(t *testing.T) {
	if id := extractSessionID("/api/v1/sessions/456/submit"); id != 456 {
		t.Fatalf("expected 456, got %d", id)
	}
	if id := extractSessionID("/api/v1/tests/1/questions"); id != 0 {
		t.Fatalf("expected 0 for non-session path, got %d", id)
	}
}

func TestCountingSinkForwards(t *testing.T) {
	c := NewCollector(nil)
	var gotID int64
	var gotType proctor.ViolationType
	next := sinkFunc(func(_ context.Context, submissionID int64, v proctor.Violation) error {
		gotID = submissionID
		gotType = v.Type
		return nil
	})

	sink := CountingSink(c, next)
	v := proctor.Violation{Type: proctor.ViolationTabSwitch, Severity: proctor.SeverityMedium, At: time.Now()}
	if err := sink.RecordViolation(context.Background(), 42, v); err != nil {
		t.Fatalf("RecordViolation: %v", err)
	}

	if gotID != 42 || gotType != proctor.ViolationTabSwitch {
		t.Fatalf("sink not forwarded: id=%d type=%s", gotID, gotType)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.violationStats[string(proctor.ViolationTabSwitch)] != 1 {
		t.Fatalf("expected counter 1, got %d", c.violationStats[string(proctor.ViolationTabSwitch)])
	}
}

type sinkFunc func(ctx context.Context, submissionID int64, v proctor.Violation) error

func (f sinkFunc) RecordViolation(ctx context.Context, submissionID int64, v proctor.Violation) error {
	return f(ctx, submissionID, v)
}
