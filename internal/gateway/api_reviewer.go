package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
)

func (gw *Gateway) handleReviewerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"enabled": gw.reviewer.Enabled(),
		"stats":   gw.reviewer.Stats(),
	})
}

func (gw *Gateway) handleForceReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	findings, err := gw.reviewer.ForceReview(r.Context(), req.TaskID)
	if err != nil {
		status := http.StatusInternalServerError
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "unknown task") {
			status = http.StatusNotFound
		} else if strings.Contains(msg, "only completed") {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "findings": findings})
}

func (gw *Gateway) handleReviewResults(w http.ResponseWriter, r *http.Request) {
	findings, err := gw.reviewer.ResultsFor(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "findings": findings})
}
