package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Ashish1022/proctor-sub000/internal/app/apiresp"
	"github.com/Ashish1022/proctor-sub000/internal/auth"
	"github.com/Ashish1022/proctor-sub000/internal/proctor"
)

// sessionBackend is the persistence-facing surface the handler needs.
type sessionBackend interface {
	GetQuestionSet(ctx context.Context, testID int64) ([]QuestionView, error)
	GetExistingSubmission(ctx context.Context, testID, studentID int64) (*Submission, error)
	GetSubmission(ctx context.Context, submissionID int64) (*Submission, error)
	GetResult(ctx context.Context, submissionID int64) (*Result, error)
	ListViolations(ctx context.Context, submissionID int64) ([]proctor.Violation, error)
	SaveAnswer(ctx context.Context, in SaveAnswerInput) error
	SubmitSession(ctx context.Context, in SubmitInput) (*SubmitResult, error)
}

// sessionRuntime is the live in-memory session surface.
type sessionRuntime interface {
	Start(ctx context.Context, testID, studentID int64, groups []string, entryCode string) (*Handle, error)
	Observe(submissionID int64, sig proctor.Signal) error
	Submit(ctx context.Context, submissionID int64) (*SubmitResult, error)
	Get(submissionID int64) (*TestSession, bool)
	Abandon(submissionID int64)
}

type Handler struct {
	backend sessionBackend
	runtime sessionRuntime
}

func NewHandler(backend sessionBackend, runtime sessionRuntime) *Handler {
	return &Handler{backend: backend, runtime: runtime}
}

type startRequest struct {
	TestID    int64  `json:"test_id"`
	EntryCode string `json:"entry_code"`
}

type saveAnswerRequest struct {
	Payload json.RawMessage `json:"payload"`
	Flagged bool            `json:"flagged"`
}

type submitRequest struct {
	Confirm bool `json:"confirm"`
}

type sessionStatus struct {
	Submission       Submission `json:"submission"`
	State            State      `json:"state"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	ViolationCount   int        `json:"violation_count"`
	MaxViolations    int        `json:"max_violations"`
	Focused          bool       `json:"focused"`
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TestID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "test_id is required")
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	handle, err := h.runtime.Start(r.Context(), req.TestID, user.ID, user.Groups, req.EntryCode)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, handle)
}

func (h *Handler) QuestionSet(w http.ResponseWriter, r *http.Request) {
	testID, err := pathID(r, "id")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}
	questions, err := h.backend.GetQuestionSet(r.Context(), testID)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, questions)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizeSubmission(w, r)
	if !ok {
		return
	}

	status := sessionStatus{Submission: *sub, State: StateSubmitted, Focused: true}
	if sess, live := h.runtime.Get(sub.ID); live {
		status.State = sess.State()
		if c := sess.Clock(); c != nil {
			status.RemainingSeconds = c.RemainingSeconds()
		}
		if l := sess.Ledger(); l != nil {
			status.ViolationCount = l.Count()
			status.MaxViolations = l.Max()
		}
		if d := sess.Detector(); d != nil {
			status.Focused = d.Focused()
		}
	} else if !sub.Final() {
		status.State = StateNotStarted
	}
	apiresp.WriteOK(w, r, http.StatusOK, status)
}

func (h *Handler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizeSubmission(w, r)
	if !ok {
		return
	}
	questionID, err := pathID(r, "questionID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question id")
		return
	}

	var req saveAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if sess, live := h.runtime.Get(sub.ID); live {
		err = sess.SaveAnswer(r.Context(), questionID, req.Payload, req.Flagged)
	} else {
		err = h.backend.SaveAnswer(r.Context(), SaveAnswerInput{
			SubmissionID: sub.ID,
			QuestionID:   questionID,
			Payload:      req.Payload,
			Flagged:      req.Flagged,
		})
	}
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "saved"})
}

func (h *Handler) ToggleFlag(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizeSubmission(w, r)
	if !ok {
		return
	}
	questionID, err := pathID(r, "questionID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question id")
		return
	}

	sess, live := h.runtime.Get(sub.ID)
	if !live {
		writeSessionError(w, r, ErrSessionNotFound)
		return
	}
	flagged, err := sess.ToggleFlag(questionID)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]bool{"flagged": flagged})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizeSubmission(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Confirm {
		apiresp.WriteError(w, r, http.StatusBadRequest, "submission must be confirmed")
		return
	}

	var result *SubmitResult
	var err error
	if _, live := h.runtime.Get(sub.ID); live {
		result, err = h.runtime.Submit(r.Context(), sub.ID)
	} else {
		// No live runtime (for example after a server restart): the store is
		// authoritative and still guarantees exactly-once grading. Time spent
		// is reconstructed from the persisted start.
		result, err = h.backend.SubmitSession(r.Context(), SubmitInput{
			TestID:           sub.TestID,
			StudentID:        sub.StudentID,
			TimeSpentSeconds: elapsedSince(sub.StartedAt),
			Trigger:          TriggerManual,
		})
	}
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, result)
}

func (h *Handler) ReportEvent(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizeSubmission(w, r)
	if !ok {
		return
	}

	var sig proctor.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.runtime.Observe(sub.ID, sig); err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *Handler) Abandon(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizeSubmission(w, r)
	if !ok {
		return
	}
	h.runtime.Abandon(sub.ID)
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "released"})
}

func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizeSubmission(w, r)
	if !ok {
		return
	}
	result, err := h.backend.GetResult(r.Context(), sub.ID)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, result)
}

func (h *Handler) Violations(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizeSubmission(w, r)
	if !ok {
		return
	}

	if sess, live := h.runtime.Get(sub.ID); live {
		if l := sess.Ledger(); l != nil {
			apiresp.WriteOK(w, r, http.StatusOK, l.Violations())
			return
		}
	}
	violations, err := h.backend.ListViolations(r.Context(), sub.ID)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, violations)
}

// authorizeSubmission resolves the {id} path parameter and enforces that
// students only reach their own submission. Admins and proctors may reach any.
func (h *Handler) authorizeSubmission(w http.ResponseWriter, r *http.Request) (*Submission, bool) {
	submissionID, err := pathID(r, "id")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid session id")
		return nil, false
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	sub, err := h.backend.GetSubmission(r.Context(), submissionID)
	if err != nil {
		writeSessionError(w, r, err)
		return nil, false
	}

	if sub.StudentID != user.ID && user.Role != "admin" && user.Role != "proctor" {
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return sub, true
}

func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTestNotFound), errors.Is(err, ErrSubmissionNotFound), errors.Is(err, ErrSessionNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		apiresp.WriteError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrTestNotAvailable):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ErrEntryCodeInvalid), errors.Is(err, ErrQuestionNotInTest), errors.Is(err, ErrSessionNotStarted):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSubmissionNotEditable), errors.Is(err, ErrSubmitInFlight):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// elapsedSince measures whole seconds since startedAt, clamped at zero
// against clock skew.
func elapsedSince(startedAt time.Time) int64 {
	elapsed := int64(time.Since(startedAt) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
