package question

import (
	"errors"
	"testing"
)

func TestValidateQuestionInput(t *testing.T) {
	valid := UpsertQuestionInput{
		TestID:  1,
		SeqNo:   1,
		Type:    TypeSingleChoice,
		Prompt:  "Pick one",
		Options: []string{"A", "B", "C"},
		Correct: []int{1},
		Points:  5,
	}
	if err := validateQuestionInput(valid); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(in *UpsertQuestionInput)
	}{
		{"missing test id", func(in *UpsertQuestionInput) { in.TestID = 0 }},
		{"missing seq no", func(in *UpsertQuestionInput) { in.SeqNo = 0 }},
		{"unknown type", func(in *UpsertQuestionInput) { in.Type = "essay" }},
		{"empty prompt", func(in *UpsertQuestionInput) { in.Prompt = "  " }},
		{"too few options", func(in *UpsertQuestionInput) { in.Options = []string{"A"} }},
		{"zero points", func(in *UpsertQuestionInput) { in.Points = 0 }},
		{"no correct index", func(in *UpsertQuestionInput) { in.Correct = nil }},
		{"single choice with two correct", func(in *UpsertQuestionInput) { in.Correct = []int{0, 1} }},
		{"correct index out of range", func(in *UpsertQuestionInput) { in.Correct = []int{3} }},
		{"negative correct index", func(in *UpsertQuestionInput) { in.Correct = []int{-1} }},
		{"duplicate correct index", func(in *UpsertQuestionInput) {
			in.Type = TypeMultiChoice
			in.Correct = []int{1, 1}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			in.Options = append([]string(nil), valid.Options...)
			tc.mutate(&in)
			if err := validateQuestionInput(in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestValidateQuestionInputMultiChoice(t *testing.T) {
	in := UpsertQuestionInput{
		TestID:  1,
		SeqNo:   2,
		Type:    TypeMultiChoice,
		Prompt:  "Pick all that apply",
		Options: []string{"X", "Y", "Z"},
		Correct: []int{0, 2},
		Points:  10,
	}
	if err := validateQuestionInput(in); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}
}
