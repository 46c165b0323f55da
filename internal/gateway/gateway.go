// Package gateway terminates player WebSocket connections. It
// authenticates bearer tokens, multiplexes channel subscriptions over
// one connection, routes game and chat messages to the right table
// actor with the authenticated player id, and fans actor broadcasts
// out to their recipients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/feltpoker/felt/internal/auth"
	"github.com/feltpoker/felt/internal/engine"
	"github.com/feltpoker/felt/internal/registry"
	"github.com/feltpoker/felt/internal/table"
)

// joinReplyTimeout bounds the wait for an actor's reply to a join or
// leave; the actor answers from memory so this only trips when an actor
// is wedged.
const joinReplyTimeout = 5 * time.Second

// Options wires the gateway
type Options struct {
	Logger    *log.Logger
	Clock     quartz.Clock
	Validator auth.Validator
	Metrics   *Metrics
}

// Gateway owns every live session and implements table.Broadcaster
type Gateway struct {
	logger    *log.Logger
	clock     quartz.Clock
	validator auth.Validator
	metrics   *Metrics
	upgrader  websocket.Upgrader
	registry  *registry.Registry

	mu         sync.RWMutex
	sessions   map[string]*Session
	byPlayer   map[string]map[*Session]bool
	byChannel  map[subKey]map[*Session]bool
	shuttering bool
}

// New builds a gateway. Call SetRegistry before serving; the registry
// needs the gateway as its broadcaster, so wiring happens in two steps.
func New(opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Gateway{
		logger:    opts.Logger.WithPrefix("gateway"),
		clock:     opts.Clock,
		validator: opts.Validator,
		metrics:   opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions:  make(map[string]*Session),
		byPlayer:  make(map[string]map[*Session]bool),
		byChannel: make(map[subKey]map[*Session]bool),
	}
}

// SetRegistry completes wiring
func (g *Gateway) SetRegistry(r *registry.Registry) {
	g.registry = r
}

// ServeWS upgrades an HTTP request into a session
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	s := newSession(uuid.NewString(), conn, g)

	g.mu.Lock()
	if g.shuttering {
		g.mu.Unlock()
		_ = conn.Close()
		return
	}
	g.sessions[s.id] = s
	total := len(g.sessions)
	g.mu.Unlock()

	g.metrics.sessions.Inc()
	g.logger.Info("client connected", "session", s.id, "total", total)
	s.start()
}

// unregister tears a dead session down and notifies every table the
// player had joined through it.
func (g *Gateway) unregister(s *Session) {
	g.mu.Lock()
	if _, ok := g.sessions[s.id]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.sessions, s.id)
	playerID := s.PlayerID()
	if playerID != "" {
		if set := g.byPlayer[playerID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(g.byPlayer, playerID)
			}
		}
	}
	for key := range s.subs {
		if set := g.byChannel[key]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(g.byChannel, key)
			}
		}
	}
	tables := make([]string, 0, len(s.tables))
	for id := range s.tables {
		tables = append(tables, id)
	}
	g.mu.Unlock()

	g.metrics.sessions.Dec()
	for _, tableID := range tables {
		if tbl, err := g.registry.Get(tableID); err == nil {
			_ = tbl.Send(table.Disconnect{PlayerID: playerID, SessionID: s.id})
		}
	}
	g.logger.Info("client disconnected", "session", s.id, "player", playerID)
}

// Shutdown closes every session and stops accepting new ones
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	g.shuttering = true
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// handleMessage dispatches one inbound frame. Everything except
// authenticate and ping requires an authenticated session.
func (g *Gateway) handleMessage(s *Session, msg *Message) {
	switch msg.Type {
	case MsgAuthenticate:
		g.handleAuthenticate(s, msg)
		return
	case MsgPing:
		pong, _ := NewMessage(MsgPong, nil)
		s.sendMessage(pong)
		return
	}

	if s.Identity() == nil {
		s.sendError(CodeUnauthorized, "authenticate first")
		return
	}

	switch msg.Type {
	case MsgSubscribe:
		g.handleSubscribe(s, msg)
	case MsgUnsubscribe:
		g.handleUnsubscribe(s, msg)
	case MsgCreateTable:
		g.handleCreateTable(s, msg)
	case MsgListTables:
		g.handleListTables(s, msg)
	case MsgJoinTable:
		g.handleJoinTable(s, msg)
	case MsgLeaveTable:
		g.handleLeaveTable(s, msg)
	case MsgSitIn:
		g.handleSit(s, msg, false)
	case MsgSitOut:
		g.handleSit(s, msg, true)
	case MsgPlayerAction:
		g.handlePlayerAction(s, msg)
	case MsgChat:
		g.handleChat(s, msg)
	case MsgReconnect:
		g.handleReconnect(s, msg)
	default:
		s.sendError(CodeInvalidMessage, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func decode[T any](s *Session, msg *Message) (T, bool) {
	var payload T
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.sendError(CodeInvalidMessage, fmt.Sprintf("malformed %s payload", msg.Type))
		return payload, false
	}
	return payload, true
}

func (g *Gateway) handleAuthenticate(s *Session, msg *Message) {
	payload, ok := decode[AuthenticatePayload](s, msg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	identity, err := g.validator.Validate(ctx, payload.Token)
	if err != nil || identity == nil {
		g.logger.Info("authentication failed", "session", s.id, "error", err)
		s.sendError(CodeUnauthorized, "invalid credentials")
		s.closeAfterSend()
		return
	}
	s.setIdentity(identity)

	g.mu.Lock()
	set := g.byPlayer[identity.PlayerID]
	if set == nil {
		set = make(map[*Session]bool)
		g.byPlayer[identity.PlayerID] = set
	}
	set[s] = true
	g.mu.Unlock()

	g.logger.Info("authenticated", "session", s.id, "player", identity.PlayerID)
	resp, _ := NewMessage(MsgConnected, ConnectedPayload{
		SessionID:   s.id,
		PlayerID:    identity.PlayerID,
		DisplayName: identity.DisplayName,
	})
	s.sendMessage(resp)
}

func validChannel(channel string) bool {
	switch channel {
	case ChannelLobby, ChannelGame, ChannelChat, ChannelSpectator, ChannelAdmin:
		return true
	}
	return false
}

func (g *Gateway) handleSubscribe(s *Session, msg *Message) {
	payload, ok := decode[SubscribePayload](s, msg)
	if !ok {
		return
	}
	if !validChannel(payload.Channel) {
		s.sendError(CodeInvalidMessage, fmt.Sprintf("unknown channel %q", payload.Channel))
		return
	}
	if payload.Channel == ChannelAdmin && !s.hasRole("admin") {
		s.sendError(CodeUnauthorized, "admin channel requires an elevated role")
		return
	}
	needsTable := payload.Channel == ChannelGame || payload.Channel == ChannelChat || payload.Channel == ChannelSpectator
	if needsTable {
		if _, err := g.registry.Get(payload.TableID); err != nil {
			s.sendError(CodeTableNotFound, "no such table")
			return
		}
	} else {
		payload.TableID = ""
	}

	key := subKey{channel: payload.Channel, tableID: payload.TableID}
	g.mu.Lock()
	if !s.subs[key] && len(s.subs) >= maxSubscriptions {
		g.mu.Unlock()
		s.sendError(CodeSubscriptionLimit, "too many subscriptions")
		return
	}
	g.subscribeLocked(s, key)
	g.mu.Unlock()

	resp, _ := NewMessage(MsgSubscriptionConfirmed, SubscriptionConfirmedPayload{
		Channel: payload.Channel,
		TableID: payload.TableID,
	})
	s.sendMessage(resp)

	// Spectators and late game subscribers need a snapshot to render
	// from; the actor replies with a view-masked table_state.
	if payload.Channel == ChannelSpectator || payload.Channel == ChannelGame {
		if tbl, err := g.registry.Get(payload.TableID); err == nil {
			_ = tbl.Send(table.Reconnect{PlayerID: s.PlayerID(), SessionID: s.id})
		}
	}
}

// subscribeLocked registers a subscription; caller holds g.mu
func (g *Gateway) subscribeLocked(s *Session, key subKey) {
	if s.subs[key] {
		return
	}
	s.subs[key] = true
	set := g.byChannel[key]
	if set == nil {
		set = make(map[*Session]bool)
		g.byChannel[key] = set
	}
	set[s] = true
}

func (g *Gateway) handleUnsubscribe(s *Session, msg *Message) {
	payload, ok := decode[SubscribePayload](s, msg)
	if !ok {
		return
	}
	key := subKey{channel: payload.Channel, tableID: payload.TableID}
	g.mu.Lock()
	delete(s.subs, key)
	if set := g.byChannel[key]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(g.byChannel, key)
		}
	}
	g.mu.Unlock()
}

func (g *Gateway) handleCreateTable(s *Session, msg *Message) {
	payload, ok := decode[CreateTablePayload](s, msg)
	if !ok {
		return
	}
	// Unset fields fall back to the default table shape.
	cfg := table.DefaultConfig()
	if payload.Name != "" {
		cfg.Name = payload.Name
	}
	if payload.SmallBlind > 0 {
		cfg.SmallBlind = payload.SmallBlind
		cfg.BigBlind = payload.BigBlind
	}
	if payload.MinBuyIn > 0 {
		cfg.MinBuyIn = payload.MinBuyIn
	}
	if payload.MaxBuyIn > 0 {
		cfg.MaxBuyIn = payload.MaxBuyIn
	}
	if payload.MaxSeats > 0 {
		cfg.MaxSeats = payload.MaxSeats
	}
	ctx, cancel := context.WithTimeout(context.Background(), joinReplyTimeout)
	defer cancel()
	tbl, err := g.registry.Create(ctx, cfg)
	if err != nil {
		s.sendError(CodeInvalidMessage, err.Error())
		return
	}
	resp, _ := NewMessage(MsgTableCreated, tbl.Summary())
	s.sendMessage(resp)
}

func (g *Gateway) handleListTables(s *Session, msg *Message) {
	var payload ListTablesPayload
	if len(msg.Payload) > 0 {
		var ok bool
		if payload, ok = decode[ListTablesPayload](s, msg); !ok {
			return
		}
	}
	summaries := g.registry.List(registry.Filter{Stakes: payload.Stakes, HasSeats: payload.HasSeats})
	resp, _ := NewMessage(MsgTableList, summaries)
	s.sendMessage(resp)
}

// awaitReply waits for the actor's answer on a reply channel
func (g *Gateway) awaitReply(ch <-chan error) error {
	timer := time.NewTimer(joinReplyTimeout)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-timer.C:
		return errors.New("table did not answer")
	}
}

func (g *Gateway) handleJoinTable(s *Session, msg *Message) {
	payload, ok := decode[JoinTablePayload](s, msg)
	if !ok {
		return
	}
	tbl, err := g.registry.Get(payload.TableID)
	if err != nil {
		s.sendError(CodeTableNotFound, "no such table")
		return
	}
	seat := -1
	if payload.SeatIndex != nil {
		seat = *payload.SeatIndex
	}
	identity := s.Identity()
	reply := make(chan error, 1)
	join := table.Join{
		PlayerID:    identity.PlayerID,
		DisplayName: identity.DisplayName,
		SessionID:   s.id,
		Seat:        seat,
		BuyIn:       payload.BuyIn,
		Reply:       reply,
	}
	if err := tbl.Send(join); err != nil {
		g.sendTableError(s, err)
		return
	}
	if err := g.awaitReply(reply); err != nil {
		g.sendTableError(s, err)
		return
	}

	// A seated player is implicitly on the table's game and chat
	// channels; these count toward the subscription cap.
	g.mu.Lock()
	s.tables[payload.TableID] = true
	g.subscribeLocked(s, subKey{channel: ChannelGame, tableID: payload.TableID})
	g.subscribeLocked(s, subKey{channel: ChannelChat, tableID: payload.TableID})
	g.mu.Unlock()

	_ = tbl.Send(table.Connect{PlayerID: identity.PlayerID, SessionID: s.id})
}

func (g *Gateway) handleLeaveTable(s *Session, msg *Message) {
	payload, ok := decode[TableIDPayload](s, msg)
	if !ok {
		return
	}
	tbl, err := g.registry.Get(payload.TableID)
	if err != nil {
		s.sendError(CodeTableNotFound, "no such table")
		return
	}
	reply := make(chan error, 1)
	if err := tbl.Send(table.Leave{PlayerID: s.PlayerID(), Reply: reply}); err != nil {
		g.sendTableError(s, err)
		return
	}
	if err := g.awaitReply(reply); err != nil {
		g.sendTableError(s, err)
		return
	}
	g.mu.Lock()
	delete(s.tables, payload.TableID)
	g.mu.Unlock()
}

func (g *Gateway) handleSit(s *Session, msg *Message, out bool) {
	payload, ok := decode[TableIDPayload](s, msg)
	if !ok {
		return
	}
	tbl, err := g.registry.Get(payload.TableID)
	if err != nil {
		s.sendError(CodeTableNotFound, "no such table")
		return
	}
	if err := tbl.Send(table.Sit{PlayerID: s.PlayerID(), Out: out}); err != nil {
		g.sendTableError(s, err)
	}
}

func (g *Gateway) handlePlayerAction(s *Session, msg *Message) {
	payload, ok := decode[PlayerActionPayload](s, msg)
	if !ok {
		return
	}
	tbl, err := g.registry.Get(payload.TableID)
	if err != nil {
		s.sendError(CodeTableNotFound, "no such table")
		return
	}
	actionType, err := engine.ParseActionType(payload.Action)
	if err != nil {
		s.sendError(CodeInvalidAction, err.Error())
		return
	}
	action := table.PlayerAction{
		PlayerID:    s.PlayerID(),
		Action:      engine.Action{Type: actionType, Amount: payload.Amount},
		ClientMsgID: msg.ClientMsgID,
	}
	if err := tbl.Send(action); err != nil {
		g.sendTableError(s, err)
	}
}

func (g *Gateway) handleChat(s *Session, msg *Message) {
	payload, ok := decode[ChatPayload](s, msg)
	if !ok {
		return
	}
	if !s.chatBucket.allow(g.clock.Now()) {
		g.metrics.rateLimited.Inc()
		s.sendError(CodeRateLimited, "chat rate limit exceeded")
		return
	}
	tbl, err := g.registry.Get(payload.TableID)
	if err != nil {
		s.sendError(CodeTableNotFound, "no such table")
		return
	}
	identity := s.Identity()
	chat := table.Chat{
		PlayerID:    identity.PlayerID,
		DisplayName: identity.DisplayName,
		Text:        payload.Text,
	}
	if err := tbl.Send(chat); err != nil {
		g.sendTableError(s, err)
	}
}

func (g *Gateway) handleReconnect(s *Session, msg *Message) {
	payload, ok := decode[ReconnectPayload](s, msg)
	if !ok {
		return
	}
	tbl, err := g.registry.Get(payload.TableID)
	if err != nil {
		s.sendError(CodeTableNotFound, "no such table")
		return
	}
	g.mu.Lock()
	s.tables[payload.TableID] = true
	g.subscribeLocked(s, subKey{channel: ChannelGame, tableID: payload.TableID})
	g.subscribeLocked(s, subKey{channel: ChannelChat, tableID: payload.TableID})
	g.mu.Unlock()

	reconnect := table.Reconnect{
		PlayerID:        s.PlayerID(),
		SessionID:       s.id,
		LastSeenVersion: payload.LastSeenVersion,
	}
	if err := tbl.Send(reconnect); err != nil {
		g.sendTableError(s, err)
	}
}

// sendTableError maps actor errors to wire codes
func (g *Gateway) sendTableError(s *Session, err error) {
	code := CodeInvalidMessage
	switch {
	case errors.Is(err, table.ErrBackpressure):
		code = CodeBackpressureDropped
	case errors.Is(err, table.ErrClosed):
		code = CodeTableNotFound
	case errors.Is(err, table.ErrTableFull):
		code = CodeTableFull
	case errors.Is(err, table.ErrSeatTaken):
		code = CodeSeatTaken
	case errors.Is(err, table.ErrAlreadySeated):
		code = CodeSeatTaken
	case errors.Is(err, table.ErrInvalidBuyIn):
		code = CodeInvalidBuyIn
	case errors.Is(err, table.ErrNotAtTable):
		code = CodeNotAtTable
	case errors.Is(err, table.ErrInvalidSeat):
		code = CodeSeatTaken
	}
	s.sendError(code, err.Error())
}

// Deliver implements table.Broadcaster. The envelope's policy selects
// recipients; payloads are already view-masked by the actor, so the
// policy is the masking mechanism: owner-only envelopes never reach
// anyone else.
func (g *Gateway) Deliver(env table.Envelope) {
	msg, err := NewMessage(env.Type, TableEventPayload{
		TableID: env.Table,
		Version: env.Version,
		Data:    env.Event,
	})
	if err != nil {
		g.logger.Error("failed to encode broadcast", "type", env.Type, "error", err)
		return
	}

	g.mu.RLock()
	var recipients []*Session
	switch env.Policy {
	case table.ToPlayer:
		for s := range g.byPlayer[env.To] {
			recipients = append(recipients, s)
		}
	case table.ToSpectators:
		for s := range g.byChannel[subKey{channel: ChannelSpectator, tableID: env.Table}] {
			recipients = append(recipients, s)
		}
	case table.ToAllAtTable, table.ToAllExcept:
		seen := make(map[*Session]bool)
		for _, channel := range []string{ChannelGame, ChannelSpectator} {
			for s := range g.byChannel[subKey{channel: channel, tableID: env.Table}] {
				if seen[s] {
					continue
				}
				if env.Policy == table.ToAllExcept && s.PlayerID() == env.To {
					continue
				}
				seen[s] = true
				recipients = append(recipients, s)
			}
		}
	}
	g.mu.RUnlock()

	for _, s := range recipients {
		s.sendMessage(msg)
	}
	g.metrics.outbound.WithLabelValues(env.Type).Inc()
	g.metrics.fanout.Observe(float64(len(recipients)))
}
