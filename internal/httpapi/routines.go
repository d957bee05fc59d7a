package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/habitbot/internal/routine"
)

const (
	maxNameLen        = 100
	maxDescriptionLen = 500
	maxStepMinutes    = 240
)

type routineRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
}

type stepRequest struct {
	Name             *string `json:"name"`
	Description      *string `json:"description"`
	EstimatedMinutes *int    `json:"estimated_minutes"`
	Required         *bool   `json:"required"`
}

type routineResponse struct {
	routine.Routine
	Steps []routine.Step `json:"steps"`
}

func validateText(field string, v *string, max int, required bool) (string, error) {
	if v == nil {
		if required {
			return "", errors.New(field + " is required")
		}
		return "", nil
	}
	out := strings.TrimSpace(*v)
	if required && out == "" {
		return "", errors.New(field + " is required")
	}
	if len(out) > max {
		return "", errors.New(field + " must be at most " + strconv.Itoa(max) + " characters")
	}
	return out, nil
}

func validateMinutes(v *int) error {
	if v != nil && (*v < 0 || *v > maxStepMinutes) {
		return errors.New("estimated_minutes must be between 0 and " + strconv.Itoa(maxStepMinutes))
	}
	return nil
}

func (s *Server) handleCreateRoutine(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req routineRequest
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
	var category routine.Category
	if req.Category != nil {
		if category, err = routine.ParseCategory(*req.Category); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_category", err.Error())
			return
		}
	}

	created, err := s.routines.CreateRoutine(r.Context(), userID, routine.RoutineInput{
		Name:        name,
		Description: description,
		Category:    category,
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, routineResponse{Routine: created, Steps: []routine.Step{}})
}

func (s *Server) handleListRoutines(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	routines, err := s.routines.ListRoutines(r.Context(), userID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"routines": routines})
}

func (s *Server) handleGetRoutine(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	routineID, ok := idParam(w, r, "routineID")
	if !ok {
		return
	}
	rt, err := s.routines.GetRoutine(r.Context(), userID, routineID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	steps, err := s.routines.Steps(r.Context(), routineID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, routineResponse{Routine: rt, Steps: steps})
}

func (s *Server) handleUpdateRoutine(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	routineID, ok := idParam(w, r, "routineID")
	if !ok {
		return
	}
	var req routineRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var patch routine.RoutinePatch
	if req.Name != nil {
		name, err := validateText("name", req.Name, maxNameLen, true)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		patch.Name = &name
	}
	if req.Description != nil {
		description, err := validateText("description", req.Description, maxDescriptionLen, false)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		patch.Description = &description
	}
	if req.Category != nil {
		category, err := routine.ParseCategory(*req.Category)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_category", err.Error())
			return
		}
		patch.Category = &category
	}

	updated, err := s.routines.UpdateRoutine(r.Context(), userID, routineID, patch)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRoutine(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	routineID, ok := idParam(w, r, "routineID")
	if !ok {
		return
	}
	if err := s.routines.DeactivateRoutine(r.Context(), userID, routineID); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	routineID, ok := idParam(w, r, "routineID")
	if !ok {
		return
	}
	var req stepRequest
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
	if err := validateMinutes(req.EstimatedMinutes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	in := routine.StepInput{Name: name, Description: description, Required: true}
	if req.EstimatedMinutes != nil {
		in.EstimatedMinutes = *req.EstimatedMinutes
	}
	if req.Required != nil {
		in.Required = *req.Required
	}

	step, err := s.routines.AddStep(r.Context(), userID, routineID, in)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, step)
}

func (s *Server) handleUpdateStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	routineID, ok := idParam(w, r, "routineID")
	if !ok {
		return
	}
	stepID, ok := idParam(w, r, "stepID")
	if !ok {
		return
	}
	var req stepRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	patch := routine.StepPatch{EstimatedMinutes: req.EstimatedMinutes, Required: req.Required}
	if req.Name != nil {
		name, err := validateText("name", req.Name, maxNameLen, true)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		patch.Name = &name
	}
	if req.Description != nil {
		description, err := validateText("description", req.Description, maxDescriptionLen, false)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		patch.Description = &description
	}
	if err := validateMinutes(req.EstimatedMinutes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	step, err := s.routines.UpdateStep(r.Context(), userID, routineID, stepID, patch)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, step)
}

func (s *Server) handleDeleteStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	routineID, ok := idParam(w, r, "routineID")
	if !ok {
		return
	}
	stepID, ok := idParam(w, r, "stepID")
	if !ok {
		return
	}
	if err := s.routines.DeleteStep(r.Context(), userID, routineID, stepID); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRoutineStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	routineID, ok := idParam(w, r, "routineID")
	if !ok {
		return
	}
	stats, err := s.runs.Stats(r.Context(), userID, routineID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	routineID, ok := idParam(w, r, "routineID")
	if !ok {
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}
	execs, err := s.runs.History(r.Context(), userID, routineID, limit)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"executions": execs})
}
