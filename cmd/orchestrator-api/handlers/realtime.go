package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/cmd/orchestrator-api/middleware"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/chat"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// Real-time event names.
const (
	EventChatMessage   = "chat_message"
	EventThreadCreated = "thread_created"
	EventAIResponse    = "ai_response"
	EventChatError     = "chat_error"
)

const (
	wsReadLimit    = 64 * 1024
	wsWriteTimeout = 10 * time.Second
)

// Envelope is the frame exchanged over the real-time channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RealtimeHandler serves the WebSocket chat channel.
type RealtimeHandler struct {
	logger         *observability.Logger
	service        *chat.Service
	originPatterns []string
}

// NewRealtimeHandler creates a new real-time handler. Origins follow the
// CORS allow list; "*" accepts any origin.
func NewRealtimeHandler(logger *observability.Logger, service *chat.Service, allowedOrigins []string) *RealtimeHandler {
	return &RealtimeHandler{logger: logger, service: service, originPatterns: allowedOrigins}
}

// Connect handles GET /api/v1/chat/ws. Each inbound chat_message is answered
// in order on the same connection.
func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	for _, o := range h.originPatterns {
		if o == "*" {
			opts = &websocket.AcceptOptions{InsecureSkipVerify: true}
			break
		}
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.logger.WithContext(r.Context()).Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	ctx := r.Context()
	userID := middleware.UserFromContext(ctx)
	log := h.logger.WithContext(ctx).WithUser(userID)
	log.Debug().Msg("Real-time client connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				log.Debug().Msg("Real-time client disconnected")
			} else {
				log.Warn().Err(err).Msg("Real-time read failed")
			}
			return
		}

		if err := h.dispatch(ctx, conn, userID, data); err != nil {
			log.Warn().Err(err).Msg("Real-time write failed")
			return
		}
	}
}

// dispatch handles one inbound frame. Only write failures are returned.
func (h *RealtimeHandler) dispatch(ctx context.Context, conn *websocket.Conn, userID string, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return h.send(ctx, conn, EventChatError, map[string]string{"message": "Malformed message."})
	}
	if env.Event != EventChatMessage {
		return h.send(ctx, conn, EventChatError, map[string]string{"message": "Unsupported event: " + env.Event})
	}

	var req MessageRequestDTO
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return h.send(ctx, conn, EventChatError, map[string]string{"message": "Malformed chat message."})
	}

	res, err := h.service.HandleMessage(ctx, req.toRequest(userID))
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithContext(ctx).Error().Err(err).Msg("Real-time chat message failed")
			msg = "Failed to process chat message."
		}
		return h.send(ctx, conn, EventChatError, map[string]string{"message": msg})
	}

	if res.NewThread {
		if err := h.send(ctx, conn, EventThreadCreated, map[string]string{"threadId": res.ThreadID}); err != nil {
			return err
		}
	}
	return h.send(ctx, conn, EventAIResponse, res.Reply)
}

func (h *RealtimeHandler) send(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}
