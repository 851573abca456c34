package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
)

// WebSocket message types for the session status protocol
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeStatus    = "status"
	MsgTypeClosed    = "closed"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
)

// WSMessage is the envelope for every WebSocket frame
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorResponse is the payload of an error frame
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes session snapshots to connected clients
type WebSocketHandler struct {
	sessions SessionManager
	upgrader websocket.Upgrader
	logger   *bolt.Logger
}

// NewWebSocketHandler creates a new WebSocket status handler
func NewWebSocketHandler(sessions SessionManager, logger *bolt.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logging.OrDefault(logger),
	}
}

// HandleSessionStatus upgrades the connection and streams every change of
// a session until it is removed or the client disconnects
func (wsh *WebSocketHandler) HandleSessionStatus(c echo.Context) error {
	id := c.Param("id")

	updates, cancel, err := wsh.sessions.Subscribe(id)
	if err != nil {
		return mapError(err)
	}
	defer cancel()

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	logging.With(wsh.logger.Debug(), logging.SessionID(id)).Msg("Status client connected")

	if err := wsh.send(ws, WSMessage{Type: MsgTypeConnected, ID: id}); err != nil {
		return nil
	}

	// The reader goroutine owns reads. It queues replies and reports disconnects.
	replies := make(chan WSMessage, 4)
	done := make(chan struct{})
	go wsh.readLoop(ws, replies, done)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case view, ok := <-updates:
			if !ok {
				_ = wsh.send(ws, WSMessage{Type: MsgTypeClosed, ID: id})
				return nil
			}
			if err := wsh.sendStatus(ws, view); err != nil {
				return nil
			}
		case reply := <-replies:
			reply.ID = id
			if err := wsh.send(ws, reply); err != nil {
				return nil
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-done:
			logging.With(wsh.logger.Debug(), logging.SessionID(id)).Msg("Status client disconnected")
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func (wsh *WebSocketHandler) readLoop(ws *websocket.Conn, replies chan<- WSMessage, done chan<- struct{}) {
	defer close(done)

	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsh.logger.Debug().Err(err).Msg("Status connection error")
			}
			return
		}

		reply := WSMessage{Type: MsgTypePong}
		if msg.Type != MsgTypePing {
			reply = errorFrame("UNKNOWN_MESSAGE", "unsupported message type: "+msg.Type)
		}
		select {
		case replies <- reply:
		default:
		}
	}
}

func errorFrame(code, message string) WSMessage {
	payload, _ := json.Marshal(WSErrorResponse{Message: message, Code: code})
	return WSMessage{Type: MsgTypeError, Payload: payload}
}

func (wsh *WebSocketHandler) sendStatus(ws *websocket.Conn, view *models.SessionView) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return wsh.send(ws, WSMessage{Type: MsgTypeStatus, ID: view.ID, Payload: payload})
}

func (wsh *WebSocketHandler) send(ws *websocket.Conn, msg WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.WriteJSON(msg)
}
