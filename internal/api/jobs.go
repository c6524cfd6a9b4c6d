package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/jobs"
	"github.com/lalithlochan/herald/internal/sqs"
)

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"data": jobs.Names()})
}

// RunJob handles POST /v1/jobs/{name}/run?offset=3
// The job runs inside the request; the report is the response body. A job
// failure is still a 200 with report.error set.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	offset, hasOffset, ok := h.parseOffset(w, r, name)
	if !ok {
		return
	}

	var report *jobs.Report
	if hasOffset {
		report = h.jobs.RunFeeOffset(r.Context(), offset)
	} else {
		var err error
		report, err = h.jobs.Run(r.Context(), name)
		if errors.Is(err, jobs.ErrUnknownJob) {
			h.writeError(w, http.StatusNotFound, "not_found", "Unknown job", name)
			return
		}
	}

	status := http.StatusOK
	if report.Skipped {
		status = http.StatusConflict
	}
	h.writeJSON(w, status, report)
}

// EnqueueJob handles POST /v1/jobs/{name}/enqueue
func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		h.writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "Trigger queue not configured", "")
		return
	}

	name := chi.URLParam(r, "name")
	if !jobs.IsJob(name) {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown job", name)
		return
	}

	offset, hasOffset, ok := h.parseOffset(w, r, name)
	if !ok {
		return
	}

	t := sqs.Trigger{Job: name, RequestedBy: "api"}
	if hasOffset {
		t.Offset = &offset
	}

	msgID, err := h.queue.Enqueue(r.Context(), t)
	if err != nil {
		h.logger.Error("failed to enqueue job", zap.String("job", name), zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "enqueue_error", "Failed to enqueue job", "")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"job":        name,
		"message_id": msgID,
	})
}

// parseOffset reads the optional ladder offset. It is only accepted for
// daily-fee-reminders.
func (h *Handler) parseOffset(w http.ResponseWriter, r *http.Request, name string) (int, bool, bool) {
	raw := r.URL.Query().Get("offset")
	if raw == "" {
		return 0, false, true
	}
	if name != jobs.DailyFeeReminders {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid offset", "offset only applies to "+jobs.DailyFeeReminders)
		return 0, false, false
	}
	offset, err := strconv.Atoi(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid offset", "offset must be an integer day count")
		return 0, false, false
	}
	return offset, true, true
}
