package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

type HealthHandler struct {
	Now func() time.Time
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	type healthResp struct {
		Status    string `json:"status"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResp{
		Status:    "ok",
		Message:   "Server is running",
		Timestamp: now().UTC().Format(time.RFC3339),
	})
}
