// README: WebSocket live channel: handshake, client frames and outbound relay.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trackd/internal/http/middleware"
	"trackd/internal/infra"
	"trackd/internal/modules/location"
	"trackd/internal/modules/order"
	"trackd/internal/realtime"
	"trackd/internal/types"
)

const maxFrameBytes = 8 << 10

type WSOptions struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	Logger           *slog.Logger
}

type WSHandler struct {
	hub      *realtime.Hub
	orders   *order.Service
	location *location.Service
	verifier infra.TokenVerifier
	upgrader websocket.Upgrader
	opts     WSOptions
	logger   *slog.Logger
}

func NewWSHandler(hub *realtime.Hub, orders *order.Service, loc *location.Service, verifier infra.TokenVerifier, opts WSOptions) *WSHandler {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &WSHandler{
		hub:      hub,
		orders:   orders,
		location: loc,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: opts.HandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		opts:   opts,
		logger: opts.Logger,
	}
}

// clientFrame is the union of every request a live client may send.
type clientFrame struct {
	Type       string     `json:"type"`
	Ref        string     `json:"ref"`
	Topic      string     `json:"topic"`
	OrderID    string     `json:"order_id"`
	Status     string     `json:"status"`
	DriverID   string     `json:"driver_id"`
	Lat        *float64   `json:"lat"`
	Lng        *float64   `json:"lng"`
	RecordedAt *time.Time `json:"recorded_at"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errUnknownFrame = errors.New("unknown frame type")

// Serve authenticates within the handshake timeout (falling back to a guest
// identity), upgrades, registers the connection and runs its pumps. A
// connection is only registered once the upgrade succeeded.
func (h *WSHandler) Serve(c *gin.Context) {
	authCtx, cancel := context.WithTimeout(c.Request.Context(), h.opts.HandshakeTimeout)
	who := middleware.ResolveOrGuest(authCtx, h.verifier, middleware.RequestToken(c.Request))
	cancel()

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn := h.hub.Open(who)
	h.hub.Reply(conn, realtime.FrameAck, "hello", gin.H{
		"conn_id": conn.ID(),
		"subject": who.SubjectID,
		"role":    who.Role,
		"topics":  topicNames(realtime.HomeTopics(who)),
	})

	go h.writePump(ws, conn)
	h.readPump(ws, conn)
}

func (h *WSHandler) readPump(ws *websocket.Conn, conn *realtime.Conn) {
	defer func() {
		h.hub.Close(conn)
		_ = ws.Close()
	}()
	ws.SetReadLimit(maxFrameBytes)
	idle := 2 * h.opts.PingInterval
	_ = ws.SetReadDeadline(time.Now().Add(idle))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(idle))
	})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(idle))
		h.handleFrame(conn, raw)
	}
}

func (h *WSHandler) writePump(ws *websocket.Conn, conn *realtime.Conn) {
	ping := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ping.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case f := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, f.Body); err != nil {
				h.hub.Close(conn)
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Close(conn)
				return
			}
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "closed"),
				time.Now().Add(h.opts.WriteTimeout))
			return
		}
	}
}

// handleFrame answers every frame with ack or error. A panic here only
// fails the frame, never the connection.
func (h *WSHandler) handleFrame(conn *realtime.Conn, raw []byte) {
	var f clientFrame
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic handling frame", "conn", conn.ID(), "panic", r)
			h.hub.Reply(conn, realtime.FrameError, f.Ref, frameError{Code: "internal", Message: "internal error"})
		}
	}()
	if err := json.Unmarshal(raw, &f); err != nil {
		h.hub.Reply(conn, realtime.FrameError, "", frameError{Code: "malformed", Message: "frame is not valid JSON"})
		return
	}
	data, err := h.dispatch(conn, f)
	if err != nil {
		h.hub.Reply(conn, realtime.FrameError, f.Ref, frameError{Code: errorCode(err), Message: err.Error()})
		return
	}
	kind := realtime.FrameAck
	if f.Type == "ping" {
		kind = realtime.FramePong
	}
	h.hub.Reply(conn, kind, f.Ref, data)
}

func (h *WSHandler) dispatch(conn *realtime.Conn, f clientFrame) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
	defer cancel()
	who := conn.Identity()

	switch f.Type {
	case "ping":
		return nil, nil
	case "join":
		t, err := realtime.ParseTopic(f.Topic)
		if err != nil {
			return nil, err
		}
		if err := h.hub.Join(conn, t); err != nil {
			return nil, err
		}
		return gin.H{"topic": t.String()}, nil
	case "leave":
		t, err := realtime.ParseTopic(f.Topic)
		if err != nil {
			return nil, err
		}
		h.hub.Leave(conn, t)
		return gin.H{"topic": t.String()}, nil
	case "status":
		to := order.Status(f.Status)
		if f.OrderID == "" || !to.Valid() {
			return nil, order.ErrBadRequest
		}
		res, err := h.orders.Transition(ctx, order.TransitionCommand{
			OrderID:  types.ID(f.OrderID),
			To:       to,
			Actor:    who.Role,
			ActorID:  who.ScopeID(),
			DriverID: types.ID(f.DriverID),
		})
		if err != nil {
			return nil, err
		}
		return res.Change, nil
	case "position":
		if f.Lat == nil || f.Lng == nil {
			return nil, location.ErrInvalidSample
		}
		cmd := location.SubmitCommand{
			OrderID:  types.ID(f.OrderID),
			Position: types.Point{Lat: *f.Lat, Lng: *f.Lng},
		}
		if f.RecordedAt != nil {
			cmd.RecordedAt = *f.RecordedAt
		}
		return h.location.Submit(ctx, who, cmd)
	default:
		return nil, errUnknownFrame
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errUnknownFrame):
		return "unknown_type"
	case errors.Is(err, realtime.ErrBadTopic), errors.Is(err, order.ErrBadRequest), errors.Is(err, location.ErrInvalidSample):
		return "bad_request"
	case errors.Is(err, realtime.ErrForbiddenTopic), errors.Is(err, order.ErrUnauthorizedActor), errors.Is(err, location.ErrNotAssigned):
		return "forbidden"
	case errors.Is(err, order.ErrNotFound):
		return "not_found"
	case errors.Is(err, order.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, order.ErrTerminalState):
		return "terminal_state"
	case errors.Is(err, order.ErrNoDriverAssigned):
		return "no_driver"
	case errors.Is(err, order.ErrConflict):
		return "conflict"
	case errors.Is(err, location.ErrThrottled):
		return "throttled"
	case errors.Is(err, location.ErrNotMoving), errors.Is(err, location.ErrStaleSample):
		return "rejected"
	case errors.Is(err, realtime.ErrConnClosed):
		return "closed"
	default:
		return "internal"
	}
}

func topicNames(ts []realtime.Topic) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.String())
	}
	return out
}
