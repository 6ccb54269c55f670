package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snapscore/pipeline/internal/pulling"
)

type headerJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type scheduleJSON struct {
	IntervalMs  int64 `json:"interval_ms"`
	JitterMs    int64 `json:"jitter_ms"`
	MaxAttempts int   `json:"max_attempts"`
}

type submitRequestJSON struct {
	URL      string       `json:"url"`
	Priority string       `json:"priority"`
	Tag      string       `json:"tag"`
	Headers  []headerJSON `json:"headers"`
	Schedule *scheduleJSON `json:"schedule"`
}

var priorityByName = map[string]pulling.Priority{
	"HIGHEST": pulling.PriorityHighest,
	"HIGH":    pulling.PriorityHigh,
	"MEDIUM":  pulling.PriorityMedium,
	"LOW":     pulling.PriorityLow,
	"LOWEST":  pulling.PriorityLowest,
}

func parseFeedRequest(body submitRequestJSON) (pulling.FeedRequest, error) {
	if body.URL == "" {
		return pulling.FeedRequest{}, errors.New("url is required")
	}
	builder := pulling.NewFeedRequestBuilder(body.URL)

	if body.Priority != "" {
		p, ok := priorityByName[body.Priority]
		if !ok {
			return pulling.FeedRequest{}, errors.New("unknown priority: " + body.Priority)
		}
		builder = builder.WithPriority(p)
	}
	if body.Tag != "" {
		builder = builder.WithTag(body.Tag)
	}
	for _, h := range body.Headers {
		builder = builder.WithHeader(h.Key, h.Value)
	}
	if body.Schedule != nil {
		builder = builder.WithSchedule(pulling.Schedule{
			Interval:    time.Duration(body.Schedule.IntervalMs) * time.Millisecond,
			Jitter:      time.Duration(body.Schedule.JitterMs) * time.Millisecond,
			MaxAttempts: body.Schedule.MaxAttempts,
		})
	}
	return builder.Build()
}

func (s *Server) submitRequest(w http.ResponseWriter, r *http.Request) {
	var body submitRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := parseFeedRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.engine.Submit(r.Context(), req); err != nil {
		var rejected *pulling.SubmissionRejected
		if errors.As(err, &rejected) {
			writeJSON(w, rejectionStatus(rejected.Reason), map[string]any{
				"accepted": false,
				"reason":   rejected.Reason,
				"retry_at": rejected.RetryAt,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "fingerprint": req.Fingerprint()})
}

func (s *Server) schedulePeriodic(w http.ResponseWriter, r *http.Request) {
	var body submitRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.Schedule == nil {
		writeError(w, http.StatusBadRequest, "schedule is required")
		return
	}
	req, err := parseFeedRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	handle, err := s.engine.SchedulePeriodic(r.Context(), req)
	if err != nil {
		var rejected *pulling.SubmissionRejected
		if errors.As(err, &rejected) {
			writeJSON(w, rejectionStatus(rejected.Reason), map[string]any{"accepted": false, "reason": rejected.Reason})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"handle": handle.String()})
}

func (s *Server) cancelRequest(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "handle")
	handle, err := pulling.ParseHandle(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid handle")
		return
	}
	if err := s.engine.Cancel(handle); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"handle": raw, "status": "cancelled"})
}

// rejectionStatus maps a SubmissionRejected reason to the HTTP status
// SPEC_FULL.md §7 mandates: 503 once the engine has shut down, 409 for an
// in-flight duplicate or a cooldown still pending.
func rejectionStatus(reason pulling.RejectionReason) int {
	switch reason {
	case pulling.ReasonShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
