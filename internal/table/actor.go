// Package table implements the per-table actor: a single goroutine that
// owns one table's seats, players, pots, and hand lifecycle. All game
// state mutation happens inside the actor loop; other components reach
// it only through messages on a bounded inbox and observe it only
// through the envelopes it broadcasts.
package table

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/feltpoker/felt/internal/card"
	"github.com/feltpoker/felt/internal/history"
)

// Phase is the table's hand lifecycle phase
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhasePreFlop  Phase = "pre_flop"
	PhaseFlop     Phase = "flop"
	PhaseTurn     Phase = "turn"
	PhaseRiver    Phase = "river"
	PhaseShowdown Phase = "showdown"
	PhaseSettling Phase = "settling"
)

// Broadcaster delivers outbound envelopes to connected recipients. The
// gateway implements it; deliveries must not block the caller.
type Broadcaster interface {
	Deliver(Envelope)
}

// Checkpointer persists actor snapshots. The store implements it.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, tableID string, version uint64, state []byte) error
}

// Escrow is the wallet collaborator contract the actor consumes. A seat
// buy-in reserves chips; leaving settles the remaining stack back as a
// delta against the reserved amount.
type Escrow interface {
	Reserve(ctx context.Context, playerID string, amount int64) (escrowID string, err error)
	Settle(ctx context.Context, escrowID string, delta int64) error
}

// HandRecorder is the write-only history sink, idempotent by hand id
type HandRecorder interface {
	Append(ctx context.Context, handID string, rec *history.Record) error
}

// player is one seated player as the actor owns them. During a hand the
// chip columns live in the engine state; they are written back at settle.
type player struct {
	ID          string
	DisplayName string
	Seat        int
	Stack       int64
	BuyInTotal  int64
	EscrowID    string

	SessionID    string
	SittingOut   bool
	Disconnected bool
	DiscDeadline time.Time
	PendingLeave bool
	LastAction   string
	InHand       bool
}

func (p *player) status() string {
	switch {
	case p.Disconnected:
		return "disconnected"
	case p.SittingOut:
		return "sitting_out"
	case p.InHand:
		return "active"
	default:
		return "seated"
	}
}

// Summary is the lobby view of a table, refreshed after every processed
// message and readable without touching actor state.
type Summary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Stakes   string `json:"stakes"`
	Seated   int    `json:"seated"`
	MaxSeats int    `json:"max_seats"`
	Phase    Phase  `json:"phase"`
	HandNo   uint64 `json:"hand_no"`

	LastActive time.Time `json:"-"`
}

// IDSource mints table and hand identifiers
type IDSource func() string

// Options wires a table actor's collaborators
type Options struct {
	ID     string
	Config Config
	Logger *log.Logger
	Clock  quartz.Clock

	Broadcaster  Broadcaster
	Checkpointer Checkpointer
	Escrow       Escrow
	History      HandRecorder

	// Rand seeds deck commitments and shuffles. Defaults to crypto/rand;
	// tests inject deterministic readers.
	Rand io.Reader

	NewHandID IDSource
	InboxSize int
}

const defaultInboxSize = 64

// Table is the actor. Exported methods are safe for concurrent use; all
// other state belongs to the Run goroutine.
type Table struct {
	id     string
	cfg    Config
	logger *log.Logger
	clock  quartz.Clock
	rng    io.Reader

	bcast     Broadcaster
	ckpt      Checkpointer
	escrow    Escrow
	history   HandRecorder
	newHandID IDSource

	inbox     chan Msg
	closed    chan struct{}
	closeOnce sync.Once

	// Actor-owned; touched only inside the Run loop.
	seats      []*player
	version    uint64
	handNo     uint64
	buttonSeat int
	phase      Phase
	hand       *hand
	settleAt   time.Time
	paused     bool
	pauseWhy   string

	ckptDirty    bool
	ckptFailures int
	ckptRetryAt  time.Time

	idem       *idemLog
	ring       *replayRing
	pending    []Envelope
	lastActive time.Time

	summary atomic.Pointer[Summary]
}

// New builds a table actor. Call Run to start processing.
func New(opts Options) (*Table, error) {
	cfg := opts.Config
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("table config: %w", err)
	}
	if opts.ID == "" {
		return nil, fmt.Errorf("table id required")
	}
	if opts.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.Reader
	}
	newHandID := opts.NewHandID
	if newHandID == nil {
		return nil, fmt.Errorf("hand id source required")
	}
	size := opts.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}

	t := &Table{
		id:         opts.ID,
		cfg:        cfg,
		logger:     logger.WithPrefix("table").With("table", opts.ID),
		clock:      clock,
		rng:        rng,
		bcast:      opts.Broadcaster,
		ckpt:       opts.Checkpointer,
		escrow:     opts.Escrow,
		history:    opts.History,
		newHandID:  newHandID,
		inbox:      make(chan Msg, size),
		closed:     make(chan struct{}),
		seats:      make([]*player, cfg.MaxSeats),
		buttonSeat: -1,
		phase:      PhaseWaiting,
		idem:       newIdemLog(2 * cfg.ActionTimeout),
		ring:       newReplayRing(256),
		lastActive: clock.Now(),
	}
	t.publishSummary()
	return t, nil
}

// ID returns the table identifier
func (t *Table) ID() string { return t.id }

// Config returns the immutable table configuration
func (t *Table) Config() Config { return t.cfg }

// Summary returns the latest lobby summary without blocking the actor
func (t *Table) Summary() Summary { return *t.summary.Load() }

// Send enqueues a message without blocking. A full inbox returns
// ErrBackpressure; the sender may retry.
func (t *Table) Send(msg Msg) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	select {
	case t.inbox <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close stops accepting messages. Run drains what was already queued.
func (t *Table) Close() {
	t.closeOnce.Do(func() { close(t.closed) })
}

// Run is the actor loop. Exactly one message is processed at a time; a
// checkpoint ticker doubles as the periodic Tick source.
func (t *Table) Run(ctx context.Context) {
	// A restored actor starts with a snapshot broadcast queued.
	t.flush()
	ticker := t.clock.NewTicker(t.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		case msg := <-t.inbox:
			t.dispatch(msg)
		case now := <-ticker.C:
			t.dispatch(Tick{Now: now})
		}
	}
}

// dispatch processes one message and flushes accumulated envelopes.
// Panics void the current hand instead of killing the table.
func (t *Table) dispatch(msg Msg) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in message handler", "incident", "handler_panic", "panic", r)
			t.voidHand(fmt.Errorf("handler panic: %v", r))
			t.flush()
		}
	}()
	t.handle(msg)
	t.flush()
}

func (t *Table) handle(msg Msg) {
	switch m := msg.(type) {
	case Join:
		t.handleJoin(m)
	case Leave:
		t.handleLeave(m)
	case Sit:
		t.handleSit(m)
	case PlayerAction:
		t.handlePlayerAction(m)
	case Chat:
		t.handleChat(m)
	case Connect:
		t.handleConnect(m)
	case Disconnect:
		t.handleDisconnect(m)
	case Reconnect:
		t.handleReconnect(m)
	case Tick:
		t.handleTick(m.Now)
	case Admin:
		t.handleAdmin(m)
	default:
		t.logger.Warn("unknown message", "type", fmt.Sprintf("%T", msg))
	}
}

// emit queues a versioned broadcast envelope. Versioned envelopes enter
// the replay ring here, at creation; replayed copies appended to pending
// later must never re-enter the ring.
func (t *Table) emit(policy Policy, typ string, ev any) {
	t.version++
	env := Envelope{
		Table:   t.id,
		Version: t.version,
		Policy:  policy,
		Type:    typ,
		Event:   ev,
	}
	t.ring.push(env)
	t.pending = append(t.pending, env)
}

// emitTo queues a versioned envelope addressed to a single player
func (t *Table) emitTo(to, typ string, ev any) {
	t.version++
	env := Envelope{
		Table:   t.id,
		Version: t.version,
		Policy:  ToPlayer,
		To:      to,
		Type:    typ,
		Event:   ev,
	}
	t.ring.push(env)
	t.pending = append(t.pending, env)
}

// reply queues an unversioned envelope for a single player; replies are
// never replayed and never bump the state version.
func (t *Table) reply(to, typ string, ev any) Envelope {
	env := Envelope{Table: t.id, Policy: ToPlayer, To: to, Type: typ, Event: ev}
	t.pending = append(t.pending, env)
	return env
}

func (t *Table) replyErr(to, code, message string) Envelope {
	return t.reply(to, TypeError, ErrorEvent{Code: code, Message: message})
}

// flush hands pending envelopes to the broadcaster, refreshes the lobby
// summary, and writes a dirty checkpoint.
func (t *Table) flush() {
	envs := t.pending
	t.pending = nil
	for _, env := range envs {
		t.bcast.Deliver(env)
	}
	t.publishSummary()
	t.maybeCheckpoint()
}

func (t *Table) publishSummary() {
	s := &Summary{
		ID:         t.id,
		Name:       t.cfg.Name,
		Stakes:     t.cfg.Stakes(),
		Seated:     t.seatedCount(),
		MaxSeats:   t.cfg.MaxSeats,
		Phase:      t.phase,
		HandNo:     t.handNo,
		LastActive: t.lastActive,
	}
	t.summary.Store(s)
}

func (t *Table) seatedCount() int {
	n := 0
	for _, p := range t.seats {
		if p != nil {
			n++
		}
	}
	return n
}

func (t *Table) playerByID(id string) *player {
	for _, p := range t.seats {
		if p != nil && p.ID == id {
			return p
		}
	}
	return nil
}

// handleJoin seats a player after reserving the buy-in
func (t *Table) handleJoin(m Join) {
	t.lastActive = t.clock.Now()
	replyTo := func(err error) {
		if m.Reply != nil {
			m.Reply <- err
		}
	}
	if t.playerByID(m.PlayerID) != nil {
		replyTo(ErrAlreadySeated)
		return
	}
	if m.BuyIn < t.cfg.MinBuyIn || m.BuyIn > t.cfg.MaxBuyIn {
		replyTo(ErrInvalidBuyIn)
		return
	}
	seat := m.Seat
	if seat == -1 {
		for i, p := range t.seats {
			if p == nil {
				seat = i
				break
			}
		}
		if seat == -1 {
			replyTo(ErrTableFull)
			return
		}
	}
	if seat < 0 || seat >= len(t.seats) {
		replyTo(ErrInvalidSeat)
		return
	}
	if t.seats[seat] != nil {
		replyTo(ErrSeatTaken)
		return
	}

	var escrowID string
	if t.escrow != nil {
		id, err := t.escrow.Reserve(context.Background(), m.PlayerID, m.BuyIn)
		if err != nil {
			t.logger.Warn("buy-in reserve failed", "player", m.PlayerID, "error", err)
			replyTo(err)
			return
		}
		escrowID = id
	}

	p := &player{
		ID:          m.PlayerID,
		DisplayName: m.DisplayName,
		Seat:        seat,
		Stack:       m.BuyIn,
		BuyInTotal:  m.BuyIn,
		EscrowID:    escrowID,
		SessionID:   m.SessionID,
	}
	t.seats[seat] = p
	t.logger.Info("player joined", "player", p.ID, "seat", seat, "buy_in", m.BuyIn)
	replyTo(nil)

	t.emit(ToAllAtTable, TypeTableState, t.tableState())
	t.markDirty()
	t.maybeStartHand()
}

// handleLeave unseats a player. Mid-hand their live hand is folded and
// committed chips stay in the pot; the remaining stack settles back.
func (t *Table) handleLeave(m Leave) {
	t.lastActive = t.clock.Now()
	p := t.playerByID(m.PlayerID)
	if p == nil {
		if m.Reply != nil {
			m.Reply <- ErrNotAtTable
		}
		return
	}
	if p.InHand && t.hand != nil {
		p.PendingLeave = true
		t.foldOut(p, "leave")
		if m.Reply != nil {
			m.Reply <- nil
		}
		return
	}
	t.unseat(p)
	if m.Reply != nil {
		m.Reply <- nil
	}
	t.emit(ToAllAtTable, TypeTableState, t.tableState())
	t.markDirty()
}

// unseat removes a player and settles their stack back to the wallet
func (t *Table) unseat(p *player) {
	t.seats[p.Seat] = nil
	if t.escrow != nil && p.EscrowID != "" {
		delta := p.Stack - p.BuyInTotal
		if err := t.escrow.Settle(context.Background(), p.EscrowID, delta); err != nil {
			t.logger.Error("escrow settle failed", "incident", "escrow_settle", "player", p.ID, "error", err)
		}
	}
	t.logger.Info("player left", "player", p.ID, "seat", p.Seat, "stack", p.Stack)
}

func (t *Table) handleSit(m Sit) {
	p := t.playerByID(m.PlayerID)
	if p == nil {
		return
	}
	t.lastActive = t.clock.Now()
	p.SittingOut = m.Out
	t.emit(ToAllAtTable, TypeTableState, t.tableState())
	if !m.Out {
		t.maybeStartHand()
	}
}

func (t *Table) handleChat(m Chat) {
	if t.playerByID(m.PlayerID) == nil {
		t.replyErr(m.PlayerID, "not_at_table", "join the table to chat")
		return
	}
	text := m.Text
	if max := 500; len([]rune(text)) > max {
		text = string([]rune(text)[:max])
	}
	t.emit(ToAllAtTable, TypeChatMessage, ChatMessage{
		PlayerID:    m.PlayerID,
		DisplayName: m.DisplayName,
		Text:        text,
		SentAt:      t.clock.Now(),
	})
}

func (t *Table) handleConnect(m Connect) {
	p := t.playerByID(m.PlayerID)
	if p == nil {
		return
	}
	p.SessionID = m.SessionID
	if p.Disconnected {
		p.Disconnected = false
		p.DiscDeadline = time.Time{}
		t.emit(ToAllAtTable, TypePlayerReconnected, PlayerReconnected{PlayerID: p.ID})
	}
	t.reply(p.ID, TypeTableState, t.tableStateFor(p.ID))
}

// handleDisconnect starts the grace countdown. A stale session id means
// the player already reconnected elsewhere and is ignored.
func (t *Table) handleDisconnect(m Disconnect) {
	p := t.playerByID(m.PlayerID)
	if p == nil || p.SessionID != m.SessionID || p.Disconnected {
		return
	}
	now := t.clock.Now()
	p.Disconnected = true
	p.DiscDeadline = now.Add(t.cfg.DisconnectGrace)
	t.logger.Info("player disconnected", "player", p.ID, "grace", t.cfg.DisconnectGrace)
	t.emit(ToAllAtTable, TypePlayerDisconnected, PlayerDisconnected{
		PlayerID: p.ID,
		Deadline: p.DiscDeadline,
	})
	t.scheduleTickAt(p.DiscDeadline)
}

// handleReconnect rebinds the session and replays missed broadcasts, or
// sends a full snapshot when the client's version predates the ring.
func (t *Table) handleReconnect(m Reconnect) {
	p := t.playerByID(m.PlayerID)
	if p == nil {
		// Spectators sync the same way; they get the masked snapshot.
		t.reply(m.PlayerID, TypeTableState, t.tableState())
		return
	}
	p.SessionID = m.SessionID
	if p.Disconnected {
		p.Disconnected = false
		p.DiscDeadline = time.Time{}
		t.emit(ToAllAtTable, TypePlayerReconnected, PlayerReconnected{PlayerID: p.ID})
	}
	envs, ok := t.ring.since(m.LastSeenVersion, p.ID)
	if !ok {
		t.reply(p.ID, TypeTableState, t.tableStateFor(p.ID))
		return
	}
	for _, env := range envs {
		t.pending = append(t.pending, Envelope{
			Table:   env.Table,
			Version: env.Version,
			Policy:  ToPlayer,
			To:      p.ID,
			Type:    env.Type,
			Event:   env.Event,
		})
	}
}

func (t *Table) handleAdmin(m Admin) {
	var err error
	switch m.Command {
	case "pause":
		t.paused = true
		t.pauseWhy = "admin"
	case "resume":
		t.paused = false
		t.pauseWhy = ""
		t.maybeStartHand()
	case "close":
		t.Close()
	default:
		err = fmt.Errorf("unknown admin command %q", m.Command)
	}
	if m.Reply != nil {
		m.Reply <- err
	}
}

// handleTick evaluates every deadline against now
func (t *Table) handleTick(now time.Time) {
	// A settled hand leaves the table in waiting until the next tick, so
	// the post-hand state is observable before cards fly again.
	t.maybeStartHand()

	// Expired disconnect graces fold the player out and sit them out or
	// remove them per config.
	for _, p := range t.seats {
		if p == nil || !p.Disconnected || p.DiscDeadline.IsZero() || now.Before(p.DiscDeadline) {
			continue
		}
		t.logger.Info("disconnect grace expired", "player", p.ID)
		t.emit(ToAllAtTable, TypePlayerDisconnected, PlayerDisconnected{PlayerID: p.ID, Expired: true})
		if p.InHand && t.hand != nil {
			t.foldOut(p, "timeout")
		}
		p.DiscDeadline = time.Time{}
		if t.cfg.AutoRemoveOnGraceExpiry && !p.InHand {
			t.unseat(p)
		} else {
			p.SittingOut = true
			if t.cfg.AutoRemoveOnGraceExpiry {
				p.PendingLeave = true
			}
		}
		t.markDirty()
	}

	if t.hand != nil && t.hand.st.ActionOn >= 0 && !now.Before(t.effectiveActionDeadline()) {
		t.timeoutAction()
	}

	if t.phase == PhaseSettling && !now.Before(t.settleAt) {
		t.endHand()
	}

	if t.ckptFailures > 0 && !now.Before(t.ckptRetryAt) {
		t.writeCheckpoint()
	}
}

// scheduleTickAt posts a Tick into the inbox when the deadline arrives.
// The callback runs outside the actor; it only sends a message.
func (t *Table) scheduleTickAt(deadline time.Time) {
	d := deadline.Sub(t.clock.Now())
	if d < 0 {
		d = 0
	}
	t.clock.AfterFunc(d, func() {
		// Dropped sends are fine: the checkpoint ticker re-evaluates
		// deadlines on its next fire.
		_ = t.Send(Tick{Now: t.clock.Now()})
	})
}

// effectiveActionDeadline shortens the action timer to the disconnect
// grace when the player on action has dropped.
func (t *Table) effectiveActionDeadline() time.Time {
	deadline := t.hand.actionDeadline
	if pos := t.hand.st.ActionOn; pos >= 0 {
		if p := t.playerByID(t.hand.st.Players[pos].ID); p != nil && p.Disconnected && !p.DiscDeadline.IsZero() && p.DiscDeadline.Before(deadline) {
			deadline = p.DiscDeadline
		}
	}
	return deadline
}

func (t *Table) markDirty() {
	t.ckptDirty = true
}

// maybeCheckpoint persists state when something chip- or phase-relevant
// changed since the last write.
func (t *Table) maybeCheckpoint() {
	if !t.ckptDirty || t.ckpt == nil {
		return
	}
	if t.ckptFailures > 0 && t.clock.Now().Before(t.ckptRetryAt) {
		return
	}
	t.writeCheckpoint()
}

const maxCheckpointFailures = 5

// writeCheckpoint snapshots state and persists it, backing off on
// failure. Repeated failures pause new hands; Leave stays available.
func (t *Table) writeCheckpoint() {
	if t.ckpt == nil {
		t.ckptDirty = false
		return
	}
	state, err := t.snapshotBytes()
	if err != nil {
		t.logger.Error("snapshot encode failed", "incident", "snapshot_encode", "error", err)
		return
	}
	if err := t.ckpt.SaveCheckpoint(context.Background(), t.id, t.version, state); err != nil {
		t.ckptFailures++
		backoff := t.cfg.CheckpointInterval << min(t.ckptFailures, 6)
		t.ckptRetryAt = t.clock.Now().Add(backoff)
		t.logger.Error("checkpoint write failed", "error", err, "failures", t.ckptFailures, "retry_in", backoff)
		if t.ckptFailures >= maxCheckpointFailures && !t.paused {
			t.paused = true
			t.pauseWhy = "checkpoint"
			t.logger.Error("pausing new hands", "incident", "checkpoint_exhausted")
		}
		t.scheduleTickAt(t.ckptRetryAt)
		return
	}
	t.ckptDirty = false
	t.ckptFailures = 0
	if t.paused && t.pauseWhy == "checkpoint" {
		t.paused = false
		t.pauseWhy = ""
		t.maybeStartHand()
	}
}

// seatViews renders every occupied seat. Hole cards are included only
// for forPlayer; pass "" for fully masked broadcast views.
func (t *Table) seatViews(forPlayer string) []SeatView {
	views := make([]SeatView, 0, t.seatedCount())
	for _, p := range t.seats {
		if p == nil {
			continue
		}
		v := SeatView{
			Seat:        p.Seat,
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
			Stack:       p.Stack,
			Status:      p.status(),
			LastAction:  p.LastAction,
		}
		if t.hand != nil {
			if ep := t.hand.enginePlayer(p.ID); ep != nil {
				v.Stack = ep.Stack
				v.Bet = ep.Bet
				v.Committed = ep.Committed
				switch {
				case ep.Folded:
					v.Status = "folded"
				case ep.AllIn:
					v.Status = "all_in"
				}
			}
			if forPlayer != "" && p.ID == forPlayer {
				v.HoleCards = card.Strings(t.hand.holes[p.ID])
			}
		}
		views = append(views, v)
	}
	return views
}

// tableState is the masked full snapshot for broadcast
func (t *Table) tableState() TableState { return t.tableStateFor("") }

// tableStateFor is the full snapshot as one player may see it
func (t *Table) tableStateFor(playerID string) TableState {
	ts := TableState{
		TableID:    t.id,
		Name:       t.cfg.Name,
		Version:    t.version,
		Phase:      string(t.phase),
		Button:     t.buttonSeat,
		SmallBlind: t.cfg.SmallBlind,
		BigBlind:   t.cfg.BigBlind,
		Seats:      t.seatViews(playerID),
		Paused:     t.paused,
	}
	if t.hand != nil {
		ts.HandID = t.hand.id
		ts.HandNo = t.hand.no
		ts.Board = card.Strings(t.hand.board)
		ts.CurrentBet = t.hand.st.CurrentBet
		for _, pot := range t.hand.st.Pots() {
			ts.Pots = append(ts.Pots, PotView{Amount: pot.Amount, Eligible: pot.Eligible})
		}
		if pos := t.hand.st.ActionOn; pos >= 0 {
			ts.ActionOn = t.hand.st.Players[pos].ID
		}
	}
	return ts
}

func (t *Table) gameUpdate() GameUpdate {
	gu := GameUpdate{
		Phase: string(t.phase),
		Seats: t.seatViews(""),
	}
	if t.hand != nil {
		gu.Pot = t.hand.st.PotTotal()
		gu.Board = card.Strings(t.hand.board)
		gu.CurrentBet = t.hand.st.CurrentBet
		if pos := t.hand.st.ActionOn; pos >= 0 {
			gu.ActionOn = t.hand.st.Players[pos].ID
		}
	}
	return gu
}
