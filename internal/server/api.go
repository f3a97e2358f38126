package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mergewarden/mergewarden/internal/config"
	"github.com/mergewarden/mergewarden/internal/store"
	"github.com/mergewarden/mergewarden/internal/verdict"
)

// restartKeyword in a PR comment asks for a fresh evaluation of that PR.
const restartKeyword = "/restart-auto-merge"

type apiServer struct {
	cfg     config.Config
	started time.Time
}

func registerRoutes(mux *http.ServeMux, api *apiServer) {
	mux.HandleFunc("GET /status", api.handleStatus)
	mux.HandleFunc("GET /prs", api.handleListPRs)
	mux.HandleFunc("POST /prs", api.handleAddPR)
	mux.HandleFunc("DELETE /prs/{number}", api.handleDeletePR)
	mux.HandleFunc("POST /prs/{number}/decide", api.handleDecide)
	mux.HandleFunc("POST /events", api.handleEvent)
	mux.HandleFunc("POST /poll", api.handlePoll)
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Status  string `json:"status"`
	Repo    string `json:"repo"`
	Uptime  string `json:"uptime"`
	PRCount int    `json:"pr_count"`
}

func (a *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	prs, err := ListTracked()
	count := 0
	if err == nil {
		count = len(prs)
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:  "running",
		Repo:    a.cfg.Host.Owner + "/" + a.cfg.Host.Repo,
		Uptime:  time.Since(a.started).Round(time.Second).String(),
		PRCount: count,
	})
}

func (a *apiServer) handleListPRs(w http.ResponseWriter, _ *http.Request) {
	prs, err := ListTracked()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if prs == nil {
		prs = []*TrackedPR{}
	}
	writeJSON(w, http.StatusOK, prs)
}

// AddPRRequest is the JSON body for POST /prs.
type AddPRRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
}

func (a *apiServer) handleAddPR(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req AddPRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Number <= 0 {
		http.Error(w, "number is required", http.StatusBadRequest)
		return
	}

	now := store.FormatTime(time.Now())
	pr := &TrackedPR{
		Number:      req.Number,
		Repo:        a.cfg.Host.Owner + "/" + a.cfg.Host.Repo,
		Title:       req.Title,
		Status:      "watching",
		Created:     now,
		LastChecked: now,
	}
	if err := SaveTracked(pr); err != nil {
		slog.Error("failed to save tracked PR", "pr", req.Number, "error", err)
		http.Error(w, "failed to save tracked PR", http.StatusInternalServerError)
		return
	}

	Dispatch(Event{Kind: "manual", Number: req.Number})
	writeJSON(w, http.StatusCreated, pr)
}

func (a *apiServer) handleDeletePR(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number <= 0 {
		http.Error(w, "invalid PR number", http.StatusBadRequest)
		return
	}
	if !store.Exists(mustTrackedPath(number)) {
		http.Error(w, "PR not tracked", http.StatusNotFound)
		return
	}
	if err := DeleteTracked(number); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleDecide(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number <= 0 {
		http.Error(w, "invalid PR number", http.StatusBadRequest)
		return
	}
	// Cycles can outlive the request timeout while checks run, so the
	// evaluation happens asynchronously; callers watch GET /prs.
	Dispatch(Event{Kind: "manual", Number: number})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "pr": number})
}

// EventRequest is the JSON body for POST /events, the webhook-shaped entry
// point for host notifications.
type EventRequest struct {
	Kind    string `json:"kind"` // opened, synchronize, reopened, workflow-completed, comment
	Number  int    `json:"number"`
	Comment string `json:"comment,omitempty"`
}

func (a *apiServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Number <= 0 {
		http.Error(w, "number is required", http.StatusBadRequest)
		return
	}

	switch req.Kind {
	case "opened", "reopened", "synchronize", "workflow-completed":
	case "comment":
		// Only comments that carry a verdict or explicitly ask for a
		// restart warrant a cycle; everything else is conversation.
		if !strings.Contains(req.Comment, restartKeyword) && !verdict.Qualifies(req.Comment) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
	default:
		http.Error(w, "unknown event kind", http.StatusBadRequest)
		return
	}

	if !store.Exists(mustTrackedPath(req.Number)) {
		// An event for an untracked PR starts tracking it; opened events
		// are the normal path here.
		now := store.FormatTime(time.Now())
		pr := &TrackedPR{
			Number:      req.Number,
			Repo:        a.cfg.Host.Owner + "/" + a.cfg.Host.Repo,
			Status:      "watching",
			Created:     now,
			LastChecked: now,
		}
		if err := SaveTracked(pr); err != nil {
			slog.Error("failed to track PR from event", "pr", req.Number, "error", err)
			http.Error(w, "failed to track PR", http.StatusInternalServerError)
			return
		}
	}

	Dispatch(Event{Kind: req.Kind, Number: req.Number})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *apiServer) handlePoll(w http.ResponseWriter, _ *http.Request) {
	TriggerPoll()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "poll triggered"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// mustTrackedPath resolves the document path, tolerating data-dir lookup
// failures by returning a path that never exists.
func mustTrackedPath(number int) string {
	path, err := trackedPath(number)
	if err != nil {
		return ""
	}
	return path
}
