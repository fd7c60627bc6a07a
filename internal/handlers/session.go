package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/personasync/apiserver/internal/logger"
	"github.com/personasync/apiserver/internal/services"
	"github.com/personasync/apiserver/internal/store"
	"github.com/personasync/apiserver/types"
)

// SessionHandler exposes the session store over HTTP.
type SessionHandler struct {
	sessions *services.SessionStore
	log      *logger.Logger
}

func NewSessionHandler(sessions *services.SessionStore, log *logger.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, log: log}
}

// SessionRouter registers the current-session routes. Every route needs a
// session token.
func SessionRouter(r chi.Router, h *SessionHandler, tokens *SessionTokenHandler) {
	r.Use(tokens.RequireSession)

	r.Get("/", h.GetSession)
	r.Put("/user", h.Login)
	r.Delete("/user", h.Logout)
	r.Route("/me", func(r chi.Router) {
		r.Get("/", h.Me)
		r.Post("/xp", h.AddXP)
		r.Put("/xp", h.SetXP)
		r.Get("/surveys/{surveyID}", h.SurveyStatus)
		r.Post("/surveys/{surveyID}/complete", h.CompleteSurvey)
	})
}

// UserRouter registers profile routes. Creating a user logs the calling
// session in, so it needs a session token; lookups do not.
func UserRouter(r chi.Router, h *SessionHandler, tokens *SessionTokenHandler) {
	r.With(tokens.RequireSession).Post("/", h.CreateUser)
	r.Get("/{username}", h.GetUser)
}

type SessionResponse struct {
	Username string `json:"username,omitempty"`
	LoggedIn bool   `json:"loggedIn"`
}

type LoginRequest struct {
	Username string `json:"username"`
}

type XPRequest struct {
	Amount int `json:"amount"`
}

type CompleteSurveyRequest struct {
	XP int `json:"xp"`
}

type SurveyStatusResponse struct {
	SurveyID  string `json:"surveyId"`
	Completed bool   `json:"completed"`
}

// GetSession reports the session's current username.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	username, err := sess.CurrentUsername(r.Context())
	if errors.Is(err, services.ErrNoActiveUser) {
		writeJSON(w, http.StatusOK, SessionResponse{LoggedIn: false})
		return
	}
	if err != nil {
		h.fail(w, err, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Username: username, LoggedIn: true})
}

// Login points the session at an existing profile.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	// The store accepts any username; the API only logs in known ones.
	if _, err := h.sessions.UserByUsername(r.Context(), req.Username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.fail(w, err, "failed to load user")
		return
	}
	if err := sess.SetCurrentUser(r.Context(), req.Username); err != nil {
		h.fail(w, err, "failed to update session")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Username: req.Username, LoggedIn: true})
}

// Logout clears the session's current user.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.Logout(r.Context()); err != nil {
		h.fail(w, err, "failed to update session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the current user's profile.
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	profile, err := sess.CurrentUser(r.Context())
	if errors.Is(err, services.ErrNoActiveUser) {
		writeError(w, http.StatusNotFound, "no active user")
		return
	}
	if err != nil {
		h.fail(w, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// CreateUser stores a new profile and logs the session in as it.
func (h *SessionHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req types.NewUser
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	profile, err := sess.CreateUser(r.Context(), req)
	if err != nil {
		h.fail(w, err, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

// GetUser looks a profile up by username.
func (h *SessionHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	profile, err := h.sessions.UserByUsername(r.Context(), username)
	if err != nil {
		h.fail(w, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// AddXP adds to the current user's XP.
func (h *SessionHandler) AddXP(w http.ResponseWriter, r *http.Request) {
	h.changeXP(w, r, (*services.Session).AddXP)
}

// SetXP overwrites the current user's XP.
func (h *SessionHandler) SetXP(w http.ResponseWriter, r *http.Request) {
	h.changeXP(w, r, (*services.Session).SetXP)
}

func (h *SessionHandler) changeXP(w http.ResponseWriter, r *http.Request, apply func(*services.Session, context.Context, int) (types.UserProfile, error)) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req XPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	profile, err := apply(sess, r.Context(), req.Amount)
	if err != nil {
		h.fail(w, err, "failed to update xp")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// CompleteSurvey records a survey completion for the current user.
func (h *SessionHandler) CompleteSurvey(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req CompleteSurveyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	result, err := sess.CompleteSurvey(r.Context(), chi.URLParam(r, "surveyID"), req.XP)
	if errors.Is(err, services.ErrNoActiveUser) {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	if err != nil {
		h.fail(w, err, "failed to complete survey")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SurveyStatus reports whether the current user completed a survey.
func (h *SessionHandler) SurveyStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	surveyID := chi.URLParam(r, "surveyID")
	completed, err := sess.HasSurveyCompleted(r.Context(), surveyID)
	if err != nil {
		h.fail(w, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, SurveyStatusResponse{SurveyID: surveyID, Completed: completed})
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*services.Session, bool) {
	sessionID, err := sessionIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "session token required")
		return nil, false
	}
	return h.sessions.Session(sessionID), true
}

// fail maps service errors onto HTTP statuses.
func (h *SessionHandler) fail(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, services.ErrNoActiveUser):
		writeError(w, http.StatusConflict, "no active user")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, services.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "username already exists")
	case errors.Is(err, services.ErrInvalidProfile),
		errors.Is(err, services.ErrInvalidXP),
		errors.Is(err, services.ErrInvalidSurveyID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error(message, "error", err)
		writeError(w, http.StatusInternalServerError, message)
	}
}
