package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/courseforge/courseforge/internal/store"
)

// RunSource serves run history. *store.Store implements it.
type RunSource interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	GetRun(ctx context.Context, id string) (store.Run, error)
	ListRowResults(ctx context.Context, runID string) ([]store.RowRecord, error)
}

// RunsHandler exposes run history. A nil Runs source answers 503.
type RunsHandler struct {
	Runs RunSource
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

type runResponse struct {
	ID           string     `json:"id"`
	Phase        string     `json:"phase"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	SuccessCount int        `json:"success_count"`
	ErrorCount   int        `json:"error_count"`
}

type rowResponse struct {
	RowID      string          `json:"row_id"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	OutputPath string          `json:"output_path,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

type runDetailResponse struct {
	runResponse
	Rows []rowResponse `json:"rows"`
}

func toRunResponse(r store.Run) runResponse {
	resp := runResponse{
		ID:           r.ID,
		Phase:        r.Phase,
		StartedAt:    r.StartedAt,
		SuccessCount: r.SuccessCount,
		ErrorCount:   r.ErrorCount,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		resp.CompletedAt = &t
	}
	return resp
}

func (h *RunsHandler) list(c echo.Context) error {
	if h.Runs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history store not configured")
	}
	runs, err := h.Runs.ListRuns(c.Request().Context(), 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]runResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, toRunResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) get(c echo.Context) error {
	if h.Runs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history store not configured")
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	run, err := h.Runs.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	records, err := h.Runs.ListRowResults(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := runDetailResponse{runResponse: toRunResponse(run)}
	resp.Rows = make([]rowResponse, 0, len(records))
	for _, rec := range records {
		resp.Rows = append(resp.Rows, rowResponse{
			RowID:      rec.RowID,
			Status:     rec.Status,
			Error:      rec.Error,
			OutputPath: rec.OutputPath,
			DurationMS: rec.DurationMS,
			Detail:     rec.Detail,
		})
	}
	return c.JSON(http.StatusOK, resp)
}
