package devserver

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// SessionInfo is the management view of one session.
type SessionInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
	Attached bool   `json:"attached"`
	Exited   bool   `json:"exited"`
	ExitCode int    `json:"exit_code"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sess.mu.Lock()
		infos = append(infos, SessionInfo{
			ID:       sess.id,
			Name:     sess.name,
			Provider: sess.provider,
			Attached: sess.conn != nil,
			Exited:   sess.exited,
			ExitCode: sess.exitCode,
		})
		sess.mu.Unlock()
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	sess := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	sess.close()
	log.Printf("[devserver] session closed: id=%s", id)
	w.WriteHeader(http.StatusNoContent)
}
