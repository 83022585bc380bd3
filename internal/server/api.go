package server

import (
	"crypto/subtle"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/dyluth/flowboard/internal/apperr"
	"github.com/dyluth/flowboard/internal/auth"
	"github.com/dyluth/flowboard/internal/fanout"
	"github.com/dyluth/flowboard/internal/intake"
	"github.com/dyluth/flowboard/pkg/board"
)

// maxWebhookBody bounds the size of one change event.
const maxWebhookBody = 1 << 20

// layoutHandler handles GET /api/layout?projectId=.
func (s *Server) layoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "projectId is required")
		return
	}

	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	identity, err := s.deps.Tokens.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	result, err := s.deps.Layouts.ResolveLayout(r.Context(), identity.UserID, projectID)
	if err != nil {
		if apperr.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Printf("[Server] Failed to resolve layout for user=%s project=%s: %v", identity.UserID, projectID, err)
		writeError(w, http.StatusInternalServerError, "Failed to resolve layout")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// eventsHandler handles GET /api/events?token=&projectId= and holds the
// response open as a server-sent event stream.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	token, projectID := query.Get("token"), query.Get("projectId")
	if token == "" || projectID == "" {
		writeError(w, http.StatusBadRequest, "Missing token or projectId")
		return
	}

	identity, err := s.deps.Tokens.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	stream := fanout.NewStream(s.opts.SendBuffer)
	conn, err := s.deps.Connections.Register(identity.UserID, projectID, stream)
	if err != nil {
		log.Printf("[Server] Failed to register stream for user=%s: %v", identity.UserID, err)
		writeError(w, http.StatusServiceUnavailable, "Event stream unavailable")
		return
	}
	defer s.deps.Connections.Unregister(conn)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if err := stream.Serve(r.Context(), w, flusher.Flush); err != nil {
		log.Printf("[Server] Event stream for user=%s ended: %v", identity.UserID, err)
	}
}

type webhookResponse struct {
	Received bool `json:"received"`
}

// webhookHandler handles POST /webhooks/changes. The event is queued and
// acknowledged before it is processed. Only unparseable bodies are refused
// here; the pipeline logs and fails events that parse but do not validate.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if secret := s.opts.WebhookSecret; secret != "" {
		given := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	ev, err := board.UnmarshalChangeEvent(body)
	if err != nil {
		log.Printf("[Server] Rejected webhook payload: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid change event")
		return
	}

	if err := s.deps.Intake.Submit(ev); err != nil {
		if errors.Is(err, intake.ErrQueueFull) || errors.Is(err, intake.ErrQueueClosed) {
			log.Printf("[Server] Refusing %s on %s: %v", ev.ChangeType, ev.Table, err)
			writeError(w, http.StatusServiceUnavailable, "Event queue unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to accept event")
		return
	}

	writeJSON(w, http.StatusAccepted, webhookResponse{Received: true})
}
