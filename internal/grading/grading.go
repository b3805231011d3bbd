package grading

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	TypeSingleChoice = "single_choice"
	TypeMultiChoice  = "multi_choice"
)

// Question is the answer-key view of a test question. Structure is trusted as
// validated at authoring time; Grade only evaluates answers against it.
type Question struct {
	ID      int64    `json:"id"`
	SeqNo   int      `json:"seq_no"`
	Type    string   `json:"type"`
	Options []string `json:"options"`
	Correct []int    `json:"correct"`
	Points  int      `json:"points"`
}

type Graded struct {
	QuestionID    int64  `json:"question_id"`
	Answered      bool   `json:"answered"`
	IsCorrect     bool   `json:"is_correct"`
	MarksObtained int    `json:"marks_obtained"`
	Selected      []int  `json:"selected,omitempty"`
	Reason        string `json:"reason"`
}

type Result struct {
	Items         []Graded `json:"items"`
	ObtainedScore int      `json:"obtained_score"`
	TotalScore    int      `json:"total_score"`
	Percentage    int      `json:"percentage"`
}

// Grade evaluates a raw answer map against a question set. It is pure and
// deterministic: the same inputs always produce the same Result, so a
// resubmission can safely recompute without drift. Malformed answers fail
// only their own question as wrong with zero marks.
func Grade(questions []Question, answers map[int64]json.RawMessage) Result {
	res := Result{Items: make([]Graded, 0, len(questions))}

	for _, q := range questions {
		res.TotalScore += q.Points

		g := scoreQuestion(q, answers[q.ID])
		res.ObtainedScore += g.MarksObtained
		res.Items = append(res.Items, g)
	}

	res.Percentage = percentage(res.ObtainedScore, res.TotalScore)
	return res
}

func scoreQuestion(q Question, raw json.RawMessage) Graded {
	g := Graded{QuestionID: q.ID}

	selected, status := parseSelection(raw)
	if status == selectionUnanswered {
		g.Reason = "unanswered"
		return g
	}
	g.Answered = true
	if status == selectionMalformed {
		g.Reason = "malformed_payload"
		return g
	}

	qType := strings.TrimSpace(strings.ToLower(q.Type))
	if qType == TypeSingleChoice && len(selected) > 1 {
		g.Reason = "malformed_payload"
		return g
	}
	for _, idx := range selected {
		if idx < 0 || idx >= len(q.Options) {
			g.Reason = "malformed_payload"
			return g
		}
	}

	g.Selected = selected
	if equalIndexSet(selected, q.Correct) {
		g.IsCorrect = true
		g.MarksObtained = q.Points
		g.Reason = "correct"
		return g
	}
	g.Reason = "wrong"
	return g
}

const (
	selectionAnswered   = "answered"
	selectionUnanswered = "unanswered"
	selectionMalformed  = "malformed"
)

// parseSelection normalizes a raw answer into a sorted, deduplicated set of
// option indices. Accepted shapes: a number, a numeric string, or an array of
// either. Anything else is malformed; empty or absent is unanswered.
func parseSelection(raw json.RawMessage) ([]int, string) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, selectionUnanswered
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, selectionMalformed
	}

	switch t := v.(type) {
	case float64:
		idx, ok := floatToIndex(t)
		if !ok {
			return nil, selectionMalformed
		}
		return []int{idx}, selectionAnswered
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, selectionUnanswered
		}
		idx, err := strconv.Atoi(s)
		if err != nil {
			return nil, selectionMalformed
		}
		return []int{idx}, selectionAnswered
	case []interface{}:
		if len(t) == 0 {
			return nil, selectionUnanswered
		}
		set := map[int]struct{}{}
		for _, item := range t {
			switch it := item.(type) {
			case float64:
				idx, ok := floatToIndex(it)
				if !ok {
					return nil, selectionMalformed
				}
				set[idx] = struct{}{}
			case string:
				s := strings.TrimSpace(it)
				if s == "" {
					continue
				}
				idx, err := strconv.Atoi(s)
				if err != nil {
					return nil, selectionMalformed
				}
				set[idx] = struct{}{}
			default:
				return nil, selectionMalformed
			}
		}
		if len(set) == 0 {
			return nil, selectionUnanswered
		}
		out := make([]int, 0, len(set))
		for idx := range set {
			out = append(out, idx)
		}
		sort.Ints(out)
		return out, selectionAnswered
	default:
		return nil, selectionMalformed
	}
}

func floatToIndex(f float64) (int, bool) {
	if f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func equalIndexSet(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	aa := append([]int(nil), a...)
	bb := append([]int(nil), b...)
	sort.Ints(aa)
	sort.Ints(bb)
	for i := range aa {
		if aa[i] != bb[i] {
			return false
		}
	}
	return true
}

// percentage rounds half up. A zero total (degenerate empty test) is defined
// as zero rather than a division fault.
func percentage(obtained, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(obtained) / float64(total)))
}
