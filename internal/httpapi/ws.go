package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/chesslink/chesslink-server/internal/session"
	"github.com/chesslink/chesslink-server/pkg/wire"
)

const wsWriteTimeout = 5 * time.Second

// wsConn adapts one WebSocket to the coordinator's connection interface.
// Writes are serialized; the coordinator may send from several operations.
type wsConn struct {
	identity string
	conn     *websocket.Conn
	mu       sync.Mutex
}

func newWSConn(identity string, conn *websocket.Conn) *wsConn {
	return &wsConn{identity: identity, conn: conn}
}

func (c *wsConn) Identity() string { return c.identity }

func (c *wsConn) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.conn, v)
}

// serveWS upgrades the request and pumps inbound messages into the
// coordinator until the client goes away. A transport drop only removes the
// connection; the seat survives for reconnection.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, coord *session.Coordinator, cq *connectQuery) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.String("game_id", cq.gameID), zap.Error(err))
		return
	}
	defer ws.Close(websocket.StatusInternalError, "server error")

	conn := newWSConn(cq.playerID, ws)
	ctx := r.Context()

	if _, err := coord.Connect(ctx, conn, cq.wantAI, cq.depth); err != nil {
		_ = conn.Send(ctx, wire.Errorf("%v", err))
		ws.Close(websocket.StatusPolicyViolation, "connect refused")
		return
	}
	defer coord.RemoveConn(conn)

	s.logger.Info("client connected",
		zap.String("game_id", cq.gameID),
		zap.String("player", cq.playerID))

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				ws.Close(websocket.StatusNormalClosure, "")
			} else if !errors.Is(err, context.Canceled) {
				s.logger.Debug("websocket read ended",
					zap.String("game_id", cq.gameID),
					zap.String("player", cq.playerID),
					zap.Error(err))
			}
			return
		}
		s.dispatch(ctx, coord, conn, data)
	}
}

// dispatch routes one inbound frame. Protocol and rule violations answer the
// sender only and never tear down the connection.
func (s *Server) dispatch(ctx context.Context, coord *session.Coordinator, conn *wsConn, data []byte) {
	msg, err := wire.DecodeClientMessage(data)
	if err != nil {
		_ = conn.Send(ctx, wire.Errorf("%v", err))
		return
	}

	switch msg.MessageType {
	case wire.TypeMove:
		if err := coord.SubmitMove(ctx, conn.Identity(), *msg.Move); err != nil {
			_ = conn.Send(ctx, wire.Errorf("%v", err))
		}
	case wire.TypePlayerMessage:
		coord.Relay(ctx, conn.Identity(), msg.Raw)
	}
}
