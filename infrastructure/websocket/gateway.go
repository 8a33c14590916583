package websocket

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/sink"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Payload fields follow the browser client.
type joinData struct {
	Username string `json:"username"`
}

type messageData struct {
	Message string `json:"message"`
}

type voiceData struct {
	AudioData string `json:"audio_data"`
}

// Gateway upgrades HTTP requests to websocket sessions.
type Gateway struct {
	log            *slog.Logger
	hub            *Hub
	router         contract.IEventRouter
	bufferSize     int
	maxMessageSize int64
	upgrader       websocket.Upgrader
}

func NewGateway(log *slog.Logger, hub *Hub, router contract.IEventRouter,
	bufferSize int, maxMessageSize int64) *Gateway {
	return &Gateway{
		log:            log,
		hub:            hub,
		router:         router,
		bufferSize:     bufferSize,
		maxMessageSize: maxMessageSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP owns the connection until the client goes away.
// Closing the socket is the disconnect event.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	sessionID := uuid.NewString()
	session := sink.NewSessionSink(sessionID, g.bufferSize)
	g.hub.Register(sessionID, session)
	g.log.Debug("Session connected", "session_id", sessionID, "remote", r.RemoteAddr)

	go g.writePump(conn, session)
	g.readPump(ctx, conn, sessionID)

	g.hub.Unregister(sessionID)
	session.Close()
	if err := g.router.Disconnect(ctx, chat.DisconnectCommand{SessionID: sessionID}); err != nil {
		g.log.Warn("Disconnect failed", "session_id", sessionID, "error", err)
	}
	_ = conn.Close()
	g.log.Debug("Session disconnected", "session_id", sessionID)
}

func (g *Gateway) readPump(ctx context.Context, conn *websocket.Conn, sessionID string) {
	if g.maxMessageSize > 0 {
		conn.SetReadLimit(g.maxMessageSize)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Warn("Websocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}
		if frame.Event == chat.EventDisconnect {
			return
		}
		if err := g.dispatch(ctx, sessionID, frame); err != nil {
			g.log.Warn("Client event rejected",
				"session_id", sessionID, "event", frame.Event, "error", err)
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, sessionID string, frame inboundFrame) error {
	switch frame.Event {
	case chat.EventJoin:
		var data joinData
		if err := decodeData(frame.Data, &data); err != nil {
			return err
		}
		return g.router.Join(ctx, chat.JoinCommand{SessionID: sessionID, Username: data.Username})
	case chat.EventChatMessage:
		var data messageData
		if err := decodeData(frame.Data, &data); err != nil {
			return err
		}
		return g.router.PostMessage(ctx, chat.PostMessageCommand{SessionID: sessionID, Text: data.Message})
	case chat.EventVoiceMessage:
		var data voiceData
		if err := decodeData(frame.Data, &data); err != nil {
			return err
		}
		return g.router.PostVoice(ctx, chat.PostVoiceCommand{SessionID: sessionID, Payload: data.AudioData})
	default:
		return fmt.Errorf("%w: %q", errors.ErrUnknownEvent, frame.Event)
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidEvent, err)
	}
	return nil
}

func (g *Gateway) writePump(conn *websocket.Conn, session *sink.SessionSink) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-session.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case out := <-session.Outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(out); err != nil {
				g.log.Debug("Websocket write failed", "session_id", session.SessionID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
