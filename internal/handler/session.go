package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/caixalink/pairing-server-go/internal/audit"
	"github.com/caixalink/pairing-server-go/internal/middleware"
	"github.com/caixalink/pairing-server-go/internal/service"
	"github.com/caixalink/pairing-server-go/internal/util"
)

type SessionHandler struct {
	dir            *service.Directory
	authMiddleware func(http.Handler) http.Handler
}

func NewSessionHandler(dir *service.Directory, authMiddleware func(http.Handler) http.Handler) *SessionHandler {
	return &SessionHandler{
		dir:            dir,
		authMiddleware: authMiddleware,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateSession)
	r.With(h.authMiddleware).Get("/status", h.GetSessionStatus)

	return r
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	token, err := util.GenerateToken()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate session token")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to create session"})
		return
	}

	session := h.dir.Create(util.HashToken(token))

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionCreate,
		SessionID: session.ID,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":    session.ID,
		"sessionToken": token,
	})
}

// GET /v1/sessions/status
func (h *SessionHandler) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":  session.ID,
		"role":       session.Role,
		"deviceType": session.DeviceType,
		"pairedWith": session.PairedWith,
	})
}
