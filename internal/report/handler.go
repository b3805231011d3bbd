package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Ashish1022/proctor-sub000/internal/app/apiresp"
)

type reportService interface {
	SummaryByTest(ctx context.Context, testID int64) (*TestSummary, error)
	ExportResultsExcel(ctx context.Context, testID int64) ([]byte, error)
}

type Handler struct {
	svc reportService
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || testID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	summary, err := h.svc.SummaryByTest(r.Context(), testID)
	if errors.Is(err, ErrTestNotFound) {
		apiresp.WriteError(w, r, http.StatusNotFound, "test not found")
		return
	}
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "failed to build summary")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, summary)
}

func (h *Handler) ExportExcel(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || testID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	data, err := h.svc.ExportResultsExcel(r.Context(), testID)
	if errors.Is(err, ErrTestNotFound) {
		apiresp.WriteError(w, r, http.StatusNotFound, "test not found")
		return
	}
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "failed to export results")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"test_%d_results.xlsx\"", testID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
