package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/notify"
)

// EventsHandler streams allocation events to WebSocket clients. Every
// connection is a separate bus subscription, so a slow client is dropped
// without affecting the others.
type EventsHandler struct {
	bus      *notify.Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(bus *notify.Bus, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		logger: logger.Named("events"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
}

// RegisterRoutes registers the events route.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/events", h.handleStream)
}

// wsSubscriber writes events to a single WebSocket connection. The bus
// delivery goroutine is the only writer.
type wsSubscriber struct {
	conn *websocket.Conn
}

func (s *wsSubscriber) Deliver(ctx context.Context, event domain.AllocationEvent) error {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
	}
	return s.conn.WriteJSON(event)
}

func (h *EventsHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	sub, err := h.bus.Subscribe("ws:"+r.RemoteAddr, &wsSubscriber{conn: conn})
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		return
	}
	defer h.bus.Unsubscribe(sub)

	h.logger.Info("Event stream client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("subscription_id", sub.ID()),
	)
	defer h.logger.Info("Event stream client disconnected", zap.String("subscription_id", sub.ID()))

	// Unblock the read loop when the bus drops the subscription
	go func() {
		<-sub.Done()
		conn.Close()
	}()

	// Keep connection alive and handle pings
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
