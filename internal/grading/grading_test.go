package grading

import (
	"encoding/json"
	"reflect"
	"testing"
)

func sampleQuestions() []Question {
	return []Question{
		{ID: 1, SeqNo: 1, Type: TypeSingleChoice, Options: []string{"A", "B", "C"}, Correct: []int{1}, Points: 5},
		{ID: 2, SeqNo: 2, Type: TypeMultiChoice, Options: []string{"X", "Y", "Z"}, Correct: []int{0, 2}, Points: 10},
	}
}

func TestGradeFullMarks(t *testing.T) {
	answers := map[int64]json.RawMessage{
		1: json.RawMessage(`1`),
		2: json.RawMessage(`[0,2]`),
	}

	got := Grade(sampleQuestions(), answers)
	if got.ObtainedScore != 15 || got.TotalScore != 15 || got.Percentage != 100 {
		t.Fatalf("expected 15/15 100%%, got %d/%d %d%%", got.ObtainedScore, got.TotalScore, got.Percentage)
	}
	for _, item := range got.Items {
		if !item.IsCorrect {
			t.Fatalf("question %d expected correct", item.QuestionID)
		}
	}
}

func TestGradeWrongAndUnanswered(t *testing.T) {
	answers := map[int64]json.RawMessage{
		1: json.RawMessage(`0`),
	}

	got := Grade(sampleQuestions(), answers)
	if got.ObtainedScore != 0 || got.TotalScore != 15 || got.Percentage != 0 {
		t.Fatalf("expected 0/15 0%%, got %d/%d %d%%", got.ObtainedScore, got.TotalScore, got.Percentage)
	}
	if !got.Items[0].Answered || got.Items[0].IsCorrect {
		t.Fatalf("q1 expected answered wrong, got %+v", got.Items[0])
	}
	if got.Items[1].Answered {
		t.Fatalf("q2 expected unanswered, got %+v", got.Items[1])
	}
}

func TestGradeNoPartialCredit(t *testing.T) {
	multi := []Question{
		{ID: 7, Type: TypeMultiChoice, Options: []string{"a", "b", "c"}, Correct: []int{0, 2}, Points: 10},
	}

	tests := []struct {
		name    string
		payload string
		correct bool
		marks   int
	}{
		{name: "subset scores zero", payload: `[0]`, correct: false, marks: 0},
		{name: "superset scores zero", payload: `[0,2,1]`, correct: false, marks: 0},
		{name: "exact set scores full", payload: `[0,2]`, correct: true, marks: 10},
		{name: "order irrelevant", payload: `[2,0]`, correct: true, marks: 10},
		{name: "duplicates deduplicated", payload: `[0,2,2,0]`, correct: true, marks: 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Grade(multi, map[int64]json.RawMessage{7: json.RawMessage(tc.payload)})
			if got.Items[0].IsCorrect != tc.correct || got.Items[0].MarksObtained != tc.marks {
				t.Fatalf("expected correct=%v marks=%d, got correct=%v marks=%d",
					tc.correct, tc.marks, got.Items[0].IsCorrect, got.Items[0].MarksObtained)
			}
		})
	}
}

func TestGradeIdempotent(t *testing.T) {
	answers := map[int64]json.RawMessage{
		1: json.RawMessage(`"1"`),
		2: json.RawMessage(`["0","2"]`),
	}

	first := Grade(sampleQuestions(), answers)
	second := Grade(sampleQuestions(), answers)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("grading not idempotent: %+v vs %+v", first, second)
	}
}

func TestGradeDefensiveParsing(t *testing.T) {
	qs := sampleQuestions()

	tests := []struct {
		name     string
		payload  string
		answered bool
		reason   string
	}{
		{name: "invalid json", payload: `{"selected":`, answered: true, reason: "malformed_payload"},
		{name: "object payload", payload: `{"a":1}`, answered: true, reason: "malformed_payload"},
		{name: "non numeric string", payload: `"B"`, answered: true, reason: "malformed_payload"},
		{name: "fractional index", payload: `1.5`, answered: true, reason: "malformed_payload"},
		{name: "out of range index", payload: `9`, answered: true, reason: "malformed_payload"},
		{name: "multi selection on single choice", payload: `[0,1]`, answered: true, reason: "malformed_payload"},
		{name: "empty array", payload: `[]`, answered: false, reason: "unanswered"},
		{name: "null", payload: `null`, answered: false, reason: "unanswered"},
		{name: "empty string", payload: `""`, answered: false, reason: "unanswered"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Grade(qs, map[int64]json.RawMessage{1: json.RawMessage(tc.payload)})
			item := got.Items[0]
			if item.Answered != tc.answered || item.Reason != tc.reason {
				t.Fatalf("expected answered=%v reason=%s, got answered=%v reason=%s",
					tc.answered, tc.reason, item.Answered, item.Reason)
			}
			if item.MarksObtained != 0 || item.IsCorrect {
				t.Fatalf("malformed/unanswered must score zero, got %+v", item)
			}
			if got.ObtainedScore != 0 {
				t.Fatalf("aggregate must not count failed question, got %d", got.ObtainedScore)
			}
		})
	}
}

func TestGradeEmptyQuestionSet(t *testing.T) {
	got := Grade(nil, map[int64]json.RawMessage{1: json.RawMessage(`0`)})
	if got.ObtainedScore != 0 || got.TotalScore != 0 || got.Percentage != 0 {
		t.Fatalf("degenerate case expected zeros, got %+v", got)
	}
}

func TestPercentageRounding(t *testing.T) {
	tests := []struct {
		obtained, total, want int
	}{
		{0, 0, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{5, 8, 63},
		{15, 15, 100},
	}
	for _, tc := range tests {
		if got := percentage(tc.obtained, tc.total); got != tc.want {
			t.Fatalf("percentage(%d,%d)=%d, want %d", tc.obtained, tc.total, got, tc.want)
		}
	}
}
