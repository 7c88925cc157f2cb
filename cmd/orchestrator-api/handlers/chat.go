package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/cmd/orchestrator-api/middleware"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/chat"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/session"
)

// ThreadIDHeader carries the thread id of a synchronous chat reply.
const ThreadIDHeader = "X-Thread-Id"

// ChatHandler handles chat messages, streams and thread management.
type ChatHandler struct {
	logger  *observability.Logger
	service *chat.Service
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(logger *observability.Logger, service *chat.Service) *ChatHandler {
	return &ChatHandler{logger: logger, service: service}
}

// MessageRequestDTO is an inbound chat message.
type MessageRequestDTO struct {
	Text        string         `json:"text"`
	ChatHistory []session.Turn `json:"chatHistory,omitempty"`
	ThreadID    string         `json:"threadId,omitempty"`
	Lat         *float64       `json:"lat,omitempty"`
	Lon         *float64       `json:"lon,omitempty"`
}

func (d MessageRequestDTO) toRequest(userID string) chat.MessageRequest {
	return chat.MessageRequest{
		UserID:   userID,
		Text:     d.Text,
		History:  d.ChatHistory,
		ThreadID: strings.TrimSpace(d.ThreadID),
		Lat:      d.Lat,
		Lon:      d.Lon,
	}
}

// RenameRequestDTO is the body of a thread rename.
type RenameRequestDTO struct {
	Title string `json:"title"`
}

// RecommendRequestDTO is the body of a recommendation request.
type RecommendRequestDTO struct {
	Query string `json:"query"`
}

// RecommendResponseDTO is the reply to a recommendation request.
type RecommendResponseDTO struct {
	Recommendations []chat.Card `json:"recommendations"`
}

// SendMessage handles POST /api/v1/chat/message.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := h.service.HandleMessage(r.Context(), req.toRequest(middleware.UserFromContext(r.Context())))
	if err != nil {
		h.fail(w, r, "Chat message failed", err)
		return
	}

	w.Header().Set(ThreadIDHeader, res.ThreadID)
	writeJSON(w, http.StatusOK, res.Reply)
}

// InitiateStream handles POST /api/v1/chat/initiate-stream.
func (h *ChatHandler) InitiateStream(w http.ResponseWriter, r *http.Request) {
	var req MessageRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	handle, err := h.service.InitiateStream(r.Context(), req.toRequest(middleware.UserFromContext(r.Context())))
	if err != nil {
		h.fail(w, r, "Stream initiation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

// Stream handles GET /api/v1/chat/stream/{streamId} as server-sent events.
// Headers are only committed once the first event is ready, so a missing
// session can still be answered with a 404.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	streamID := chi.URLParam(r, "streamId")
	log := h.logger.WithContext(ctx)

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	_, err := h.service.Stream(ctx, middleware.UserFromContext(ctx), streamID, func(chunk string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return sse.event("text-chunk", map[string]string{"text": chunk})
	})

	switch {
	case err == nil:
		sse.event("end", struct{}{})
	case errors.Is(err, session.ErrNotFound) && !sse.started:
		writeError(w, http.StatusNotFound, "stream not found or expired", "")
	case ctx.Err() != nil:
		log.Debug().Str("stream_id", streamID).Msg("Client left before stream finished")
	default:
		log.Error().Err(err).Str("stream_id", streamID).Msg("Chat stream failed")
		_, msg := statusFor(err)
		sse.event("error", map[string]string{"message": msg})
	}
}

// ListThreads handles GET /api/v1/chat/threads.
func (h *ChatHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.service.ListThreads(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "List threads failed", err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// History handles GET /api/v1/chat/history?threadId=.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	threadID := strings.TrimSpace(r.URL.Query().Get("threadId"))
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "threadId is required", "")
		return
	}

	history, err := h.service.History(r.Context(), middleware.UserFromContext(r.Context()), threadID)
	if err != nil {
		h.fail(w, r, "Load history failed", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// RenameThread handles PUT /api/v1/chat/threads/{id}.
func (h *ChatHandler) RenameThread(w http.ResponseWriter, r *http.Request) {
	var req RenameRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.service.RenameThread(r.Context(), middleware.UserFromContext(r.Context()), id, req.Title); err != nil {
		h.fail(w, r, "Rename thread failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "title": strings.TrimSpace(req.Title)})
}

// DeleteThread handles DELETE /api/v1/chat/threads/{id}.
func (h *ChatHandler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.DeleteThread(r.Context(), middleware.UserFromContext(r.Context()), id); err != nil {
		h.fail(w, r, "Delete thread failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Recommend handles POST /api/v1/chat/recommend.
func (h *ChatHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required", "")
		return
	}
	writeJSON(w, http.StatusOK, RecommendResponseDTO{Recommendations: h.service.Recommend(r.Context(), req.Query)})
}

func (h *ChatHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, clientMsg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg(msg)
	}
	writeError(w, status, clientMsg, "")
}

// sseWriter frames server-sent events and commits headers lazily.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
