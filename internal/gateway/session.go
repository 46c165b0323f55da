package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/feltpoker/felt/internal/auth"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer
	pongWait = 60 * time.Second

	// Ping period; must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size
	maxMessageSize = 8192

	// The first frame must authenticate within this window
	authTimeout = 10 * time.Second

	// Subscription cap per connection
	maxSubscriptions = 10

	// Chat rate limit
	chatPerMinute = 30
	chatBurst     = 10
)

// Session is one client connection. The identity is set once by the
// read pump after authentication; tables and subscriptions are guarded
// by the gateway's lock.
type Session struct {
	id     string
	conn   *websocket.Conn
	send   chan *Message
	gw     *Gateway
	logger *log.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	drain     chan struct{}
	drainOnce sync.Once

	mu       sync.RWMutex
	identity *auth.Identity

	chatBucket *tokenBucket

	// Guarded by gw.mu: tables this session's player joined through it,
	// and active subscriptions.
	tables map[string]bool
	subs   map[subKey]bool
}

type subKey struct {
	channel string
	tableID string
}

func newSession(id string, conn *websocket.Conn, gw *Gateway) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         id,
		conn:       conn,
		send:       make(chan *Message, 256),
		gw:         gw,
		logger:     gw.logger.WithPrefix("session").With("session", id),
		ctx:        ctx,
		cancel:     cancel,
		drain:      make(chan struct{}),
		chatBucket: newTokenBucket(chatBurst, chatPerMinute),
		tables:     make(map[string]bool),
		subs:       make(map[subKey]bool),
	}
}

func (s *Session) start() {
	go s.writePump()
	go s.readPump()

	// Unauthenticated connections are dropped after the auth window.
	s.gw.clock.AfterFunc(authTimeout, func() {
		if s.Identity() == nil {
			s.sendError(CodeUnauthorized, "authentication timeout")
			s.closeAfterSend()
		}
	})
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
	})
}

// closeAfterSend tears the connection down once the write pump has
// flushed everything already queued, so a final error frame reaches the
// client before the close frame. close() would race the pump.
func (s *Session) closeAfterSend() {
	s.drainOnce.Do(func() { close(s.drain) })
}

// Identity returns the authenticated identity, or nil
func (s *Session) Identity() *auth.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) setIdentity(id *auth.Identity) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

// PlayerID returns the authenticated player id, or ""
func (s *Session) PlayerID() string {
	if id := s.Identity(); id != nil {
		return id.PlayerID
	}
	return ""
}

func (s *Session) hasRole(role string) bool {
	id := s.Identity()
	if id == nil {
		return false
	}
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// sendMessage queues a frame without blocking. A full buffer drops the
// connection; slow consumers must reconnect and resync by version.
func (s *Session) sendMessage(msg *Message) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.send <- msg:
	default:
		s.logger.Warn("send buffer full, closing connection")
		s.close()
	}
}

func (s *Session) sendError(code, message string) {
	msg, err := NewMessage(MsgError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		s.logger.Error("failed to build error frame", "error", err)
		return
	}
	s.sendMessage(msg)
	s.gw.metrics.outbound.WithLabelValues(MsgError).Inc()
}

func (s *Session) readPump() {
	defer func() {
		s.close()
		s.gw.unregister(s)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		s.gw.metrics.inbound.WithLabelValues(msg.Type).Inc()
		s.gw.handleMessage(s, &msg)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.drain:
			for {
				select {
				case msg := <-s.send:
					_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := s.conn.WriteJSON(msg); err != nil {
						return
					}
				default:
					_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = s.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
					return
				}
			}
		case <-s.ctx.Done():
			return
		}
	}
}
