package question

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Ashish1022/proctor-sub000/internal/app/apiresp"
)

type authoringService interface {
	CreateTest(ctx context.Context, in CreateTestInput) (*Test, error)
	GetTest(ctx context.Context, testID int64) (*Test, error)
	SetTestActive(ctx context.Context, testID int64, active bool) error
	UpsertQuestion(ctx context.Context, in UpsertQuestionInput) (*AuthoredQuestion, error)
	ListQuestions(ctx context.Context, testID int64) ([]AuthoredQuestion, error)
}

type Handler struct {
	svc authoringService
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateTest(w http.ResponseWriter, r *http.Request) {
	var in CreateTestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	out, err := h.svc.CreateTest(r.Context(), in)
	if err != nil {
		writeAuthoringError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) GetTest(w http.ResponseWriter, r *http.Request) {
	testID, ok := pathTestID(w, r)
	if !ok {
		return
	}
	out, err := h.svc.GetTest(r.Context(), testID)
	if err != nil {
		writeAuthoringError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) SetTestActive(w http.ResponseWriter, r *http.Request) {
	testID, ok := pathTestID(w, r)
	if !ok {
		return
	}
	var body struct {
		IsActive bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.SetTestActive(r.Context(), testID, body.IsActive); err != nil {
		writeAuthoringError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"id": testID, "is_active": body.IsActive})
}

func (h *Handler) UpsertQuestion(w http.ResponseWriter, r *http.Request) {
	testID, ok := pathTestID(w, r)
	if !ok {
		return
	}
	var in UpsertQuestionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	in.TestID = testID
	out, err := h.svc.UpsertQuestion(r.Context(), in)
	if err != nil {
		writeAuthoringError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	testID, ok := pathTestID(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListQuestions(r.Context(), testID)
	if err != nil {
		writeAuthoringError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func pathTestID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return 0, false
	}
	return id, true
}

func writeAuthoringError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTestNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
