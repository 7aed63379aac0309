package queueservice

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/duskline/crawlforge/internal/queueclient"
)

// Server implements the exact REST contract spec.md §6 describes, backing it
// with a Store. It is a plain http.Handler, the same shape the teacher's own
// API type exposes via http.HandleFunc registrations on the default mux.
type Server struct {
	store Store
	mux   *http.ServeMux
}

func NewServer(store Store) *Server {
	s := &Server{store: store, mux: http.NewServeMux()}
	s.mux.HandleFunc("/queue/push", s.handlePush)
	s.mux.HandleFunc("/queue/pop/", s.handlePop)
	s.mux.HandleFunc("/queue/complete", s.handleComplete)
	s.mux.HandleFunc("/queue/release", s.handleRelease)
	s.mux.HandleFunc("/queue/count/team/", s.handleTeamQueueCount)
	s.mux.HandleFunc("/active/push", s.handleActivePush)
	s.mux.HandleFunc("/active/remove", s.handleActiveRemove)
	s.mux.HandleFunc("/active/count/", s.handleActiveCount)
	s.mux.HandleFunc("/active/jobs/", s.handleActiveJobs)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queueclient.PushRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	job := StoredJob{
		ID:        req.Job.ID,
		Data:      req.Job.Data,
		Priority:  req.Job.Priority,
		CreatedAt: time.Now(),
		CrawlID:   req.CrawlID,
	}
	if err := s.store.Push(r.Context(), req.TeamID, job); err != nil {
		log.Printf("queueservice: push failed for team %s: %v", req.TeamID, err)
		http.Error(w, "push failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handlePop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	teamID := strings.TrimPrefix(r.URL.Path, "/queue/pop/")
	if teamID == "" {
		http.Error(w, "missing teamId", http.StatusBadRequest)
		return
	}
	var req queueclient.PopRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.store.Pop(r.Context(), teamID)
	if errors.Is(err, ErrEmpty) {
		writeJSON(w, http.StatusOK, queueclient.PopResponse{})
		return
	}
	if err != nil {
		log.Printf("queueservice: pop failed for team %s: %v", teamID, err)
		http.Error(w, "pop failed", http.StatusInternalServerError)
		return
	}
	if blocked(req.BlockedCrawlIDs, job.CrawlID) {
		// Push it back rather than drop it; the worker asking for this team's
		// jobs can't use it right now. The re-push takes a new insertion
		// sequence, so it lands behind jobs of equal priority.
		_ = s.store.Push(r.Context(), teamID, job)
		writeJSON(w, http.StatusOK, queueclient.PopResponse{})
		return
	}

	queueKey := teamID + ":" + job.ID
	writeJSON(w, http.StatusOK, queueclient.PopResponse{
		Job: &queueclient.ClaimedJobWire{
			ID:        job.ID,
			Priority:  job.Priority,
			CreatedAt: job.CreatedAt.UnixMilli(),
			CrawlID:   job.CrawlID,
		},
		QueueKey: queueKey,
	})
}

func blocked(blockedCrawlIDs []string, crawlID string) bool {
	if crawlID == "" {
		return false
	}
	for _, id := range blockedCrawlIDs {
		if id == crawlID {
			return true
		}
	}
	return false
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queueclient.CompleteRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	// The job was already removed from its queue at pop time; complete is
	// bookkeeping acknowledgment only, so a well-formed queueKey is all that
	// is required to report success.
	writeJSON(w, http.StatusOK, queueclient.CompleteResponse{Success: req.QueueKey != ""})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queueclient.ReleaseRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.Release(r.Context(), req.JobID); err != nil {
		log.Printf("queueservice: release failed for job %s: %v", req.JobID, err)
		http.Error(w, "release failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleTeamQueueCount(w http.ResponseWriter, r *http.Request) {
	teamID := strings.TrimPrefix(r.URL.Path, "/queue/count/team/")
	count, err := s.store.Count(r.Context(), teamID)
	if err != nil {
		http.Error(w, "count lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, queueclient.CountResponse{Count: count})
}

func (s *Server) handleActivePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queueclient.ActivePushRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.ActivePush(r.Context(), req.TeamID, req.JobID); err != nil {
		http.Error(w, "active push failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleActiveRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queueclient.ActiveRemoveRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.ActiveRemove(r.Context(), req.TeamID, req.JobID); err != nil {
		http.Error(w, "active remove failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleActiveCount(w http.ResponseWriter, r *http.Request) {
	teamID := strings.TrimPrefix(r.URL.Path, "/active/count/")
	count, err := s.store.ActiveCount(r.Context(), teamID)
	if err != nil {
		http.Error(w, "active count lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, queueclient.CountResponse{Count: count})
}

func (s *Server) handleActiveJobs(w http.ResponseWriter, r *http.Request) {
	teamID := strings.TrimPrefix(r.URL.Path, "/active/jobs/")
	ids, err := s.store.ActiveJobIDs(r.Context(), teamID)
	if err != nil {
		http.Error(w, "active jobs lookup failed", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Healthy(r.Context()); err != nil {
		http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
