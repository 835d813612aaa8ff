package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/caixalink/pairing-server-go/internal/errors"
	"github.com/caixalink/pairing-server-go/internal/middleware"
	"github.com/caixalink/pairing-server-go/internal/model"
	"github.com/caixalink/pairing-server-go/internal/service"
	"github.com/caixalink/pairing-server-go/internal/sse"
)

const maxEventBodyBytes = 64 * 1024

// EventsHandler carries the broker's duplex surface: POST dispatches one
// inbound device event, GET holds the session's SSE stream open. Closing
// the stream is the transport-close event and tears the session down.
type EventsHandler struct {
	broker *sse.Broker
	router *service.Router
}

func NewEventsHandler(broker *sse.Broker, router *service.Router) *EventsHandler {
	return &EventsHandler{
		broker: broker,
		router: router,
	}
}

// POST /v1/events
func (h *EventsHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var evt model.InboundEvent
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodyBytes))
	if err := decoder.Decode(&evt); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if evt.Type == "" {
		writeError(w, apperrors.MissingRequired("type"))
		return
	}

	reply, err := h.router.Dispatch(r.Context(), session.ID, evt)
	if err != nil {
		writeError(w, err)
		return
	}

	if reply == nil {
		writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// GET /v1/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(session.ID)
	defer h.broker.Unsubscribe(client)

	// Stream teardown is the implicit disconnect: the session dies with
	// its transport.
	defer h.router.Disconnect(session.ID)

	log.Info().
		Str("sessionId", session.ID).
		Str("role", string(session.Role)).
		Msg("event stream established")

	h.sendEvent(w, flusher, "connected", map[string]any{
		"sessionId": session.ID,
		"role":      session.Role,
	})

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("sessionId", session.ID).
				Msg("event stream closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("sessionId", session.ID).
				Msg("event stream closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("sessionId", session.ID).
					Msg("heartbeat failed, closing stream")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
