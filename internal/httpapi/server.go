package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/habitbot/internal/config"
	"github.com/ent0n29/habitbot/internal/dedupe"
	"github.com/ent0n29/habitbot/internal/habit"
	"github.com/ent0n29/habitbot/internal/habitlink"
	"github.com/ent0n29/habitbot/internal/logging"
	"github.com/ent0n29/habitbot/internal/observability"
	"github.com/ent0n29/habitbot/internal/routine"
	"github.com/ent0n29/habitbot/internal/routinerun"
	"github.com/ent0n29/habitbot/internal/session"
)

// Backends names the storage and messaging modes selected at startup.
type Backends struct {
	Store  string `json:"store"`
	Dedupe string `json:"dedupe"`
	Events string `json:"events"`
}

type Deps struct {
	Runs     *routinerun.Service
	Routines *routine.Repository
	Habits   *habit.Repository
	Deduper  dedupe.Deduper
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	Backends Backends
}

type Server struct {
	cfg      config.Config
	runs     *routinerun.Service
	routines *routine.Repository
	habits   *habit.Repository
	deduper  dedupe.Deduper
	metrics  *observability.Metrics
	logger   *zap.Logger
	backends Backends
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	deduper := deps.Deduper
	if deduper == nil {
		deduper = dedupe.NewMemoryDeduper(cfg.DedupeTTL)
	}
	return &Server{
		cfg:      cfg,
		runs:     deps.Runs,
		routines: deps.Routines,
		habits:   deps.Habits,
		deduper:  deduper,
		metrics:  deps.Metrics,
		logger:   logging.OrNop(deps.Logger),
		backends: deps.Backends,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1/users/{userID}", func(r chi.Router) {
		r.Route("/routines", func(r chi.Router) {
			r.Post("/", s.handleCreateRoutine)
			r.Get("/", s.handleListRoutines)
			r.Route("/{routineID}", func(r chi.Router) {
				r.Get("/", s.handleGetRoutine)
				r.Patch("/", s.handleUpdateRoutine)
				r.Delete("/", s.handleDeleteRoutine)
				r.Post("/steps", s.handleAddStep)
				r.Patch("/steps/{stepID}", s.handleUpdateStep)
				r.Delete("/steps/{stepID}", s.handleDeleteStep)
				r.Get("/stats", s.handleRoutineStats)
				r.Get("/executions", s.handleListExecutions)
			})
		})

		r.Route("/session", func(r chi.Router) {
			r.With(s.dedupeInteraction("start")).Post("/", s.handleStartSession)
			r.Get("/", s.handleGetSession)
			r.With(s.dedupeInteraction("next")).Post("/next", s.handleNext)
			r.With(s.dedupeInteraction("skip")).Post("/skip", s.handleSkip)
			r.With(s.dedupeInteraction("pause")).Post("/pause", s.handlePause)
			r.With(s.dedupeInteraction("resume")).Post("/resume", s.handleResume)
			r.With(s.dedupeInteraction("stop")).Post("/stop", s.handleStop)
			r.Get("/ws", s.handleSessionWS)
		})

		r.Post("/habits", s.handleCreateHabit)
		r.Get("/habits", s.handleListHabits)

		r.Post("/links", s.handleCreateLink)
		r.Get("/links", s.handleListLinks)
		r.Get("/links/stats", s.handleLinkStats)
		r.Delete("/links/{linkID}", s.handleRemoveLink)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"backends": s.backends,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	active := 0
	if s.runs != nil {
		active = s.runs.Sessions().ActiveCount()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"backends":        s.backends,
		"active_sessions": active,
	})
}

const interactionHeader = "X-Interaction-ID"

// dedupeInteraction drops replays of the same chat interaction, such as a
// button pressed twice.
func (s *Server) dedupeInteraction(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(interactionHeader))
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			scope := "session:" + action + ":" + chi.URLParam(r, "userID")
			if !s.deduper.AcquireOnce(r.Context(), scope, id) {
				s.metrics.ObserveDuplicateCommand()
				respondError(w, http.StatusConflict, "duplicate_interaction", "interaction already handled")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := s.runs.Sessions().Subscribe(userID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if snap, err := s.runs.Current(userID); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(map[string]any{"type": "session_snapshot", "session": snap}); err != nil {
			return
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(evt); err != nil {
					s.logger.Debug("session stream write failed", zap.String("user_id", userID), zap.Error(err))
					cancel()
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// The stream is server-push only; reads exist to observe pongs and close frames.
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cancel()
	<-writerDone
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		// io.ErrUnexpectedEOF is a truncated document, not a missing one.
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondDomainError maps domain sentinel errors to HTTP statuses.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "no_active_session", err.Error())
	case errors.Is(err, routine.ErrNotFound):
		respondError(w, http.StatusNotFound, "routine_not_found", err.Error())
	case errors.Is(err, routinerun.ErrStepNotFound):
		respondError(w, http.StatusNotFound, "step_not_found", err.Error())
	case errors.Is(err, habit.ErrNotFound):
		respondError(w, http.StatusNotFound, "habit_not_found", err.Error())
	case errors.Is(err, habitlink.ErrNotFound):
		respondError(w, http.StatusNotFound, "link_not_found", err.Error())
	case errors.Is(err, routine.ErrForbidden), errors.Is(err, habitlink.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, session.ErrAlreadyActive):
		respondError(w, http.StatusConflict, "session_already_active", err.Error())
	case errors.Is(err, session.ErrInvalidState):
		respondError(w, http.StatusConflict, "invalid_session_state", err.Error())
	case errors.Is(err, habitlink.ErrDuplicateLink):
		respondError(w, http.StatusConflict, "duplicate_link", err.Error())
	case errors.Is(err, session.ErrEmptyRoutine):
		respondError(w, http.StatusUnprocessableEntity, "empty_routine", err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" || len(userID) > 64 {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "user id must be 1-64 characters")
		return "", false
	}
	return userID, true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_"+strings.ToLower(strings.TrimSuffix(name, "ID"))+"_id", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
