package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/habitbot/internal/routine"
	"github.com/ent0n29/habitbot/internal/session"
)

const maxNoteLen = 500

type startSessionRequest struct {
	RoutineID int64 `json:"routine_id"`
}

type stepActionRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// sessionView is the plain snapshot chat embeds are rendered from.
type sessionView struct {
	*session.Session
	TotalSteps  int           `json:"total_steps"`
	CurrentStep *routine.Step `json:"current_step,omitempty"`
}

func viewOf(s *session.Session) sessionView {
	v := sessionView{Session: s, TotalSteps: s.TotalSteps()}
	if step, ok := s.CurrentStep(); ok {
		v.CurrentStep = &step
	}
	return v
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.RoutineID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "routine_id must be a positive integer")
		return
	}
	snap, err := s.runs.Start(r.Context(), userID, req.RoutineID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewOf(snap))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	snap, err := s.runs.Current(userID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(snap))
}

// decodeStepAction accepts an empty body since notes and reasons are optional.
func decodeStepAction(w http.ResponseWriter, r *http.Request) (stepActionRequest, bool) {
	var req stepActionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return req, false
	}
	req.Notes = strings.TrimSpace(req.Notes)
	req.Reason = strings.TrimSpace(req.Reason)
	if len(req.Notes) > maxNoteLen || len(req.Reason) > maxNoteLen {
		respondError(w, http.StatusBadRequest, "invalid_request", "notes and reason must be at most 500 characters")
		return req, false
	}
	return req, true
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeStepAction(w, r)
	if !ok {
		return
	}
	res, err := s.runs.Next(r.Context(), userID, req.Notes)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeStepAction(w, r)
	if !ok {
		return
	}
	res, err := s.runs.Skip(r.Context(), userID, req.Reason)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	snap, changed, err := s.runs.Pause(userID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session": viewOf(snap), "changed": changed})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	snap, changed, err := s.runs.Resume(userID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session": viewOf(snap), "changed": changed})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeStepAction(w, r)
	if !ok {
		return
	}
	summary, err := s.runs.Stop(userID, req.Reason)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
