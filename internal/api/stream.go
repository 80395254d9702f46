package api

import (
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"offramp_go/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
	streamPongTimeout  = 60 * time.Second
)

// eventSnapshot is the type of the first frame, carrying the order as stored.
const eventSnapshot = "order.snapshot"

// handleStream pushes every status change of one order until it reaches a
// terminal status or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := s.svc.Orders.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Warn("WebSocket upgrade failed", slog.String("order_id", id), slog.Any("error", err))
		return
	}
	defer conn.Close()

	s.svc.Metrics.IncrementStreams()
	defer s.svc.Metrics.DecrementStreams()

	var sub <-chan domain.OrderEvent
	if s.svc.Events != nil {
		subscription := s.svc.Events.Subscribe(id)
		defer s.svc.Events.Unsubscribe(subscription)
		sub = subscription.C
	}

	gone := make(chan struct{})
	go s.readPump(conn, gone)

	first := domain.OrderEvent{Type: eventSnapshot, OrderID: id, Status: order.Status, Order: order, At: order.UpdatedAt}
	if err := s.send(conn, first); err != nil {
		return
	}
	if order.Status.IsTerminal() {
		s.closeStream(conn, "order finished")
		return
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(streamWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				s.closeStream(conn, "server shutting down")
				return
			}
			if err := s.send(conn, ev); err != nil {
				return
			}
			if ev.Status.IsTerminal() {
				s.closeStream(conn, "order finished")
				return
			}
		}
	}
}

// readPump consumes client frames so pongs and close frames are processed.
// It closes gone when the connection drops.
func (s *Server) readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Stream read error", slog.Any("error", err))
			}
			return
		}
	}
}

func (s *Server) send(conn *websocket.Conn, msg domain.OrderEvent) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("Stream write failed", slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Server) closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteTimeout))
}

// originChecker accepts requests without an Origin header and those whose
// origin matches one of patterns. Patterns may use * as a wildcard.
func originChecker(patterns []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		origin = strings.ToLower(origin)
		for _, p := range patterns {
			if p == "*" {
				return true
			}
			if ok, _ := path.Match(strings.ToLower(p), origin); ok {
				return true
			}
		}
		return false
	}
}
