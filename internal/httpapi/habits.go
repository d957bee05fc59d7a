package httpapi

import (
	"net/http"

	"github.com/ent0n29/habitbot/internal/habit"
)

type createHabitRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type createLinkRequest struct {
	RoutineID int64 `json:"routine_id"`
	StepID    int64 `json:"step_id"`
	HabitID   int64 `json:"habit_id"`
}

func (s *Server) handleCreateHabit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req createHabitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	name, err := validateText("name", req.Name, maxNameLen, true)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	description, err := validateText("description", req.Description, maxDescriptionLen, false)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	h, err := s.habits.CreateHabit(r.Context(), userID, name, description)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, h)
}

func (s *Server) handleListHabits(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	habits, err := s.habits.ListHabits(r.Context(), userID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	if habits == nil {
		habits = []habit.Habit{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"habits": habits})
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req createLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.RoutineID <= 0 || req.StepID <= 0 || req.HabitID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "routine_id, step_id and habit_id must be positive integers")
		return
	}
	link, err := s.runs.CreateLink(r.Context(), userID, req.RoutineID, req.StepID, req.HabitID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, link)
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	links, err := s.runs.ListLinks(r.Context(), userID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"links": links})
}

func (s *Server) handleLinkStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	stats, err := s.runs.LinkStats(r.Context(), userID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRemoveLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	linkID, ok := idParam(w, r, "linkID")
	if !ok {
		return
	}
	if err := s.runs.RemoveLink(r.Context(), userID, linkID); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
