package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hubchat/hubchat/internal/auth"
	"github.com/hubchat/hubchat/internal/database"
	"github.com/hubchat/hubchat/internal/pubsub"
	"github.com/hubchat/hubchat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
	opTimeout      = 5 * time.Second
)

// Session is one admitted socket connection. It owns exactly one bus
// subscription and one presence entry, both released by teardown on
// every exit path.
type Session struct {
	conn     *websocket.Conn
	server   *Server
	log      *log.Logger
	user     auth.Identity
	hubId    int
	sub      pubsub.Subscription
	send     chan []byte
	stop     chan struct{}
	downOnce sync.Once
}

func newSession(conn *websocket.Conn, server *Server, user auth.Identity, hubId int, sub pubsub.Subscription) *Session {
	return &Session{
		conn:   conn,
		server: server,
		log:    server.log,
		user:   user,
		hubId:  hubId,
		sub:    sub,
		send:   make(chan []byte, sendBuffer),
		stop:   make(chan struct{}),
	}
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

func (s *Session) readPump() {
	defer func() {
		s.conn.Close()
		s.teardown()
		s.log.Printf("read exiting for %q on hub %d", s.user.Username, s.hubId)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(appData string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Printf("ws: read: %v", err)
			}
			break
		}

		s.handleFrame(raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return
			}

			if !s.writeMessage(websocket.TextMessage, payload) {
				return
			}
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// deliverPump forwards every event published to the hub's group,
// including ones this session originated, to the client verbatim.
func (s *Session) deliverPump() {
	for {
		select {
		case payload, ok := <-s.sub.C():
			if !ok {
				// the bus dropped the subscription before teardown
				// closed it; the session can no longer receive, so
				// force a disconnect and let the client reconnect
				select {
				case <-s.stop:
				default:
					s.log.Printf("subscription lost for %q on hub %d", s.user.Username, s.hubId)
					s.teardown()
					s.conn.Close()
				}
				return
			}
			s.queue(payload)
		case <-s.stop:
			return
		}
	}
}

func (s *Session) handleFrame(raw []byte) {
	frame, err := decodeClientFrame(raw)
	if err != nil {
		s.log.Printf("error parsing frame from %q: %v", s.user.Username, err)
		s.queueJSON(newErrorFrame("invalid message format"))
		return
	}

	switch frame.kind {
	case frameTyping:
		s.publishTyping(frame.isTyping)
	case frameChat:
		s.handleChat(frame)
	default:
		// unrecognized frames are ignored, never fatal
	}
}

func (s *Session) publishTyping(isTyping bool) {
	payload, err := json.Marshal(pubsub.NewTyping(types.User{
		Id:       s.user.Id,
		Username: s.user.Username,
	}, isTyping))
	if err != nil {
		s.log.Println("marshal typing event:", err)
		return
	}

	// fire-and-forget: nothing is persisted and failures are not
	// reported to the client
	s.publish(payload)
}

func (s *Session) handleChat(frame clientFrame) {
	if frame.content == "" {
		return
	}

	msg, err := s.server.db.CreateMessage(database.CreateMessageParams{
		HubId:    s.hubId,
		SenderId: s.user.Id,
		Content:  frame.content,
		ParentId: frame.parent,
	})
	if err != nil {
		s.log.Printf("error saving message from %q: %v", s.user.Username, err)
		if errors.Is(err, database.ErrParentMismatch) {
			s.queueJSON(newErrorFrame("invalid parent message"))
		} else {
			s.queueJSON(newErrorFrame("failed to save message"))
		}
		return
	}

	s.server.stats.Incr("MessagesPersisted")

	// the session may have begun teardown while the insert was in
	// flight; the row is durable and will surface in history, so the
	// broadcast is skipped rather than published to a closed group
	select {
	case <-s.stop:
		return
	default:
	}

	payload, err := json.Marshal(pubsub.NewChatMessage(&types.Message{
		Id:        msg.Id,
		HubId:     msg.HubId,
		Sender:    msg.SenderUsername,
		Content:   msg.Content,
		MediaURL:  msg.MediaURL,
		ParentId:  msg.ParentId,
		Timestamp: msg.CreatedAt,
	}))
	if err != nil {
		s.log.Println("marshal chat event:", err)
		return
	}

	s.publish(payload)
}

func (s *Session) publish(payload []byte) {
	ctx, cancel := opCtx()
	defer cancel()

	if err := s.server.bus.Publish(ctx, s.hubId, payload); err != nil {
		s.log.Printf("publish to hub %d: %v", s.hubId, err)
		return
	}

	s.server.stats.Incr("BroadcastsPublished")
}

func (s *Session) publishPresence(action string) {
	payload, err := json.Marshal(pubsub.NewPresence(action, types.User{
		Id:       s.user.Id,
		Username: s.user.Username,
	}))
	if err != nil {
		s.log.Println("marshal presence event:", err)
		return
	}

	s.publish(payload)
}

func (s *Session) queue(payload []byte) bool {
	select {
	case s.send <- payload:
	default:
		s.log.Printf("send buffer full for %q on hub %d, dropping frame", s.user.Username, s.hubId)
		return false
	}

	return true
}

func (s *Session) queueJSON(v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Println("failed to serialize frame:", err)
		return false
	}

	return s.queue(payload)
}

func (s *Session) writeMessage(msgType int, payload []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := s.conn.WriteMessage(msgType, payload); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// teardown releases the session's resources exactly once: bus
// subscription, presence entry, offline announce, deregistration. It
// is safe to call from concurrent error and close paths.
func (s *Session) teardown() {
	s.downOnce.Do(func() {
		close(s.stop)

		if err := s.sub.Close(); err != nil {
			s.log.Printf("close subscription for hub %d: %v", s.hubId, err)
		}

		ctx, cancel := opCtx()
		defer cancel()

		if err := s.server.presence.Remove(ctx, s.hubId, s.user.Username); err != nil {
			s.log.Printf("remove presence for %q on hub %d: %v", s.user.Username, s.hubId, err)
		}

		s.publishPresence(pubsub.PresenceOffline)

		s.server.deregister(s)
		s.server.stats.Decr("ActiveSessions")
	})
}
