package table

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feltpoker/felt/internal/card"
	"github.com/feltpoker/felt/internal/engine"
	"github.com/feltpoker/felt/internal/eval"
	"github.com/feltpoker/felt/internal/history"
	"github.com/feltpoker/felt/internal/wallet"
)

// collector records every delivered envelope. Dispatch is synchronous in
// these tests, so no locking is needed.
type collector struct {
	envs []Envelope
}

func (c *collector) Deliver(env Envelope) { c.envs = append(c.envs, env) }

func (c *collector) byType(typ string) []Envelope {
	var out []Envelope
	for _, env := range c.envs {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (c *collector) last(typ string) (Envelope, bool) {
	for i := len(c.envs) - 1; i >= 0; i-- {
		if c.envs[i].Type == typ {
			return c.envs[i], true
		}
	}
	return Envelope{}, false
}

func (c *collector) reset() { c.envs = nil }

// seqReader is a deterministic entropy source for commitments and seeds
type seqReader struct{ b byte }

func (r *seqReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

type memCkpt struct {
	version uint64
	state   []byte
	writes  int
	fail    bool
}

func (m *memCkpt) SaveCheckpoint(ctx context.Context, tableID string, version uint64, state []byte) error {
	m.writes++
	if m.fail {
		return fmt.Errorf("disk full")
	}
	m.version = version
	m.state = append([]byte(nil), state...)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinBuyIn = 100
	cfg.MaxBuyIn = 2000
	return cfg
}

type fixture struct {
	tbl   *Table
	bcast *collector
	clock *quartz.Mock
	ckpt  *memCkpt
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		bcast: &collector{},
		clock: quartz.NewMock(t),
		ckpt:  &memCkpt{},
	}
	handNo := 0
	tbl, err := New(Options{
		ID:           "tbl-test",
		Config:       cfg,
		Clock:        f.clock,
		Broadcaster:  f.bcast,
		Checkpointer: f.ckpt,
		Rand:         &seqReader{},
		NewHandID: func() string {
			handNo++
			return fmt.Sprintf("hand-%d", handNo)
		},
	})
	require.NoError(t, err)
	f.tbl = tbl
	return f
}

func (f *fixture) join(t *testing.T, playerID string, buyIn int64) {
	t.Helper()
	reply := make(chan error, 1)
	f.tbl.dispatch(Join{
		PlayerID:    playerID,
		DisplayName: playerID,
		SessionID:   "sess-" + playerID,
		Seat:        -1,
		BuyIn:       buyIn,
		Reply:       reply,
	})
	require.NoError(t, <-reply)
}

func (f *fixture) act(playerID string, typ engine.ActionType, amount int64) {
	f.tbl.dispatch(PlayerAction{
		PlayerID: playerID,
		Action:   engine.Action{Type: typ, Amount: amount},
	})
}

// seatThree pauses the table so all three players land in the same
// first hand, then resumes. Seats are 0, 1, 2 in join order.
func (f *fixture) seatThree(t *testing.T, stacks [3]int64) {
	t.Helper()
	f.tbl.dispatch(Admin{Command: "pause"})
	f.join(t, "alice", stacks[0])
	f.join(t, "bob", stacks[1])
	f.join(t, "carol", stacks[2])
	f.tbl.dispatch(Admin{Command: "resume"})
}

// advance moves the mock clock forward in steps no larger than the next
// pending timer event, dispatching a Tick after each step the way the
// checkpoint ticker does in Run.
func (f *fixture) advance(t *testing.T, d time.Duration) {
	t.Helper()
	remaining := d
	for remaining > 0 {
		step := remaining
		if next, ok := f.clock.Peek(); ok && next < step {
			step = next
		}
		if step <= 0 {
			dur, w := f.clock.AdvanceNext()
			w.MustWait(context.Background())
			remaining -= dur
		} else {
			f.clock.Advance(step).MustWait(context.Background())
			remaining -= step
		}
		f.tbl.dispatch(Tick{Now: f.clock.Now()})
	}
}

func (f *fixture) settleHand(t *testing.T) {
	t.Helper()
	require.Equal(t, PhaseSettling, f.tbl.phase)
	f.advance(t, f.tbl.cfg.SettleDelay)
	require.Equal(t, PhaseWaiting, f.tbl.phase)
}

func (f *fixture) stack(playerID string) int64 {
	p := f.tbl.playerByID(playerID)
	if p == nil {
		return -1
	}
	return p.Stack
}

// checkOrCall drives the hand to showdown with passive actions
func (f *fixture) checkOrCall(t *testing.T) {
	t.Helper()
	for i := 0; i < 64; i++ {
		if f.tbl.hand == nil || f.tbl.phase == PhaseSettling {
			return
		}
		pr := f.tbl.hand.st.Prompt()
		if pr == nil {
			return
		}
		act := engine.Action{Type: engine.Check}
		if pr.ToCall > 0 {
			act.Type = engine.Call
		}
		f.act(pr.PlayerID, act.Type, 0)
	}
	t.Fatal("hand did not reach showdown")
}

func TestHandStartDealsAndPostsBlinds(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seatThree(t, [3]int64{1000, 1000, 1000})

	started, ok := f.bcast.last(TypeHandStarted)
	require.True(t, ok)
	hs := started.Event.(HandStarted)
	assert.Equal(t, uint64(1), hs.HandNo)
	assert.Equal(t, 0, hs.ButtonSeat)
	assert.NotEmpty(t, hs.DeckCommitment)

	// Each player gets exactly two hole cards, addressed only to them.
	dealt := f.bcast.byType(TypeCardsDealt)
	require.Len(t, dealt, 3)
	for _, env := range dealt {
		assert.Equal(t, ToPlayer, env.Policy)
		assert.Len(t, env.Event.(CardsDealt).HoleCards, 2)
	}

	// Blinds are forced actions from the seats left of the button.
	blinds := f.bcast.byType(TypeActionTaken)
	require.Len(t, blinds, 2)
	sb := blinds[0].Event.(ActionTaken)
	bb := blinds[1].Event.(ActionTaken)
	assert.Equal(t, "small_blind", sb.Action)
	assert.Equal(t, "bob", sb.PlayerID)
	assert.EqualValues(t, 10, sb.Paid)
	assert.Equal(t, "big_blind", bb.Action)
	assert.Equal(t, "carol", bb.PlayerID)
	assert.EqualValues(t, 20, bb.Paid)

	// The button is first to act three-handed.
	req, ok := f.bcast.last(TypeActionRequired)
	require.True(t, ok)
	ar := req.Event.(ActionRequired)
	assert.Equal(t, "alice", ar.PlayerID)
	assert.EqualValues(t, 20, ar.ToCall)
}

func TestFoldThroughAwardsPotUncontested(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seatThree(t, [3]int64{1000, 1000, 1000})

	f.act("alice", engine.Fold, 0)
	f.act("bob", engine.Fold, 0)

	env, ok := f.bcast.last(TypeShowdown)
	require.True(t, ok)
	result := env.Event.(ShowdownResult)
	assert.True(t, result.Uncontested)
	assert.Empty(t, result.Hands, "folded hole cards must stay hidden")
	assert.Empty(t, result.SeedReveal, "seed stays sealed on uncontested hands")
	require.Len(t, result.Pots, 1)
	assert.EqualValues(t, 30, result.Pots[0].Amount)
	assert.EqualValues(t, 30, result.Pots[0].Winners["carol"])

	f.settleHand(t)
	assert.EqualValues(t, 1000, f.stack("alice"))
	assert.EqualValues(t, 990, f.stack("bob"))
	assert.EqualValues(t, 1010, f.stack("carol"))
}

func TestCheckedDownShowdownRevealsAndPays(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seatThree(t, [3]int64{1000, 1000, 1000})

	f.checkOrCall(t)

	env, ok := f.bcast.last(TypeShowdown)
	require.True(t, ok)
	result := env.Event.(ShowdownResult)
	assert.False(t, result.Uncontested)
	assert.Len(t, result.Board, 5)
	assert.Len(t, result.Hands, 3)
	assert.NotEmpty(t, result.SeedReveal)

	// Winners must hold the best evaluated hand over holes plus board.
	h := f.tbl.hand
	board := h.board
	scores := make(map[string]eval.Score)
	var top eval.Score
	for id, hole := range h.holes {
		cards := append(append([]card.Card{}, hole...), board...)
		_, score, err := eval.Best5(cards)
		require.NoError(t, err)
		scores[id] = score
		if score > top {
			top = score
		}
	}
	require.Len(t, result.Pots, 1)
	pot := result.Pots[0]
	assert.EqualValues(t, 60, pot.Amount)
	var paid int64
	for id, share := range pot.Winners {
		assert.Equal(t, top, scores[id], "pot paid to a losing hand")
		paid += share
	}
	assert.Equal(t, pot.Amount, paid)

	f.settleHand(t)
	total := f.stack("alice") + f.stack("bob") + f.stack("carol")
	assert.EqualValues(t, 3000, total, "chips must be conserved")
}

func TestSidePotsLayerByAllInLevels(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seatThree(t, [3]int64{1000, 100, 300})

	// alice raises to 100, bob calls all-in for 100, carol shoves 300,
	// alice calls. Main pot 300 for everyone, side pot 400 without bob.
	f.act("alice", engine.Raise, 100)
	f.act("bob", engine.AllIn, 0)
	f.act("carol", engine.AllIn, 0)
	f.act("alice", engine.Call, 0)

	env, ok := f.bcast.last(TypeShowdown)
	require.True(t, ok)
	result := env.Event.(ShowdownResult)
	require.Len(t, result.Pots, 2)
	assert.EqualValues(t, 300, result.Pots[0].Amount)
	assert.EqualValues(t, 400, result.Pots[1].Amount)
	assert.NotContains(t, result.Pots[1].Winners, "bob", "short stack cannot win the side pot")

	for _, pot := range result.Pots {
		var paid int64
		for _, share := range pot.Winners {
			paid += share
		}
		assert.Equal(t, pot.Amount, paid)
	}

	f.settleHand(t)
	total := f.stack("alice") + f.stack("bob") + f.stack("carol")
	assert.EqualValues(t, 1400, total)
}

func TestShortAllInDoesNotReopenBetting(t *testing.T) {
	cfg := testConfig()
	cfg.MinBuyIn = 75
	f := newFixture(t, cfg)
	f.join(t, "alice", 1000)
	f.join(t, "bob", 75) // heads-up starts on the second join

	// Heads-up the button posts the small blind and opens. alice raises
	// to 60; the minimum re-raise is to 100.
	f.act("alice", engine.Raise, 60)

	// bob's raise to 70 is short of the minimum and rejected.
	f.bcast.reset()
	f.act("bob", engine.Raise, 70)
	errEnv, ok := f.bcast.last(TypeError)
	require.True(t, ok)
	assert.Equal(t, "below_min_raise", errEnv.Event.(ErrorEvent).Code)

	// All-in for 75 total is allowed even though it is short.
	f.act("bob", engine.AllIn, 0)

	// The short all-in does not reopen the action: alice may only call
	// or fold, not re-raise.
	f.bcast.reset()
	f.act("alice", engine.Raise, 200)
	errEnv, ok = f.bcast.last(TypeError)
	require.True(t, ok)
	assert.Equal(t, "invalid_action", errEnv.Event.(ErrorEvent).Code)

	f.act("alice", engine.Call, 0)

	// Both streets run out with bob all-in; the hand reaches showdown.
	env, ok := f.bcast.last(TypeShowdown)
	require.True(t, ok)
	result := env.Event.(ShowdownResult)
	assert.False(t, result.Uncontested)
	assert.Len(t, result.Board, 5)

	f.settleHand(t)
	assert.EqualValues(t, 1075, f.stack("alice")+f.stack("bob"))
}

func TestActionTimeoutFolds(t *testing.T) {
	f := newFixture(t, testConfig())
	f.join(t, "alice", 1000)
	f.join(t, "bob", 1000)

	f.advance(t, f.tbl.cfg.ActionTimeout)

	taken := f.bcast.byType(TypeActionTaken)
	last := taken[len(taken)-1].Event.(ActionTaken)
	assert.Equal(t, "alice", last.PlayerID)
	assert.Equal(t, "fold", last.Action)
	assert.True(t, last.Forced)

	env, ok := f.bcast.last(TypeShowdown)
	require.True(t, ok)
	assert.True(t, env.Event.(ShowdownResult).Uncontested)
}

func TestDisconnectShortensActionDeadline(t *testing.T) {
	f := newFixture(t, testConfig())
	f.join(t, "alice", 1000)
	f.join(t, "bob", 1000)

	// alice is on action with a 30s timer; her 15s disconnect grace
	// becomes the effective deadline.
	f.tbl.dispatch(Disconnect{PlayerID: "alice", SessionID: "sess-alice"})
	env, ok := f.bcast.last(TypePlayerDisconnected)
	require.True(t, ok)
	assert.False(t, env.Event.(PlayerDisconnected).Deadline.IsZero())

	f.advance(t, f.tbl.cfg.DisconnectGrace)

	env, ok = f.bcast.last(TypeShowdown)
	require.True(t, ok)
	assert.True(t, env.Event.(ShowdownResult).Uncontested)
	assert.True(t, f.tbl.playerByID("alice").SittingOut)
}

func TestReconnectWithinGraceKeepsSeat(t *testing.T) {
	f := newFixture(t, testConfig())
	f.join(t, "alice", 1000)
	f.join(t, "bob", 1000)

	f.tbl.dispatch(Disconnect{PlayerID: "alice", SessionID: "sess-alice"})
	f.advance(t, 5*time.Second)

	lastSeen := f.tbl.version
	f.bcast.reset()
	f.tbl.dispatch(Reconnect{PlayerID: "alice", SessionID: "sess-alice-2", LastSeenVersion: lastSeen})

	_, ok := f.bcast.last(TypePlayerReconnected)
	assert.True(t, ok)
	p := f.tbl.playerByID("alice")
	assert.False(t, p.Disconnected)
	assert.Equal(t, "sess-alice-2", p.SessionID)
	assert.False(t, p.SittingOut)
}

func TestReconnectReplaysOnlyVisibleEnvelopes(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seatThree(t, [3]int64{1000, 1000, 1000})

	// bob missed everything since the hand started.
	f.bcast.reset()
	f.tbl.dispatch(Reconnect{PlayerID: "bob", SessionID: "sess-bob-2", LastSeenVersion: 0})

	replayed := 0
	for _, env := range f.bcast.envs {
		if env.Version == 0 {
			continue
		}
		replayed++
		require.Equal(t, ToPlayer, env.Policy)
		require.Equal(t, "bob", env.To)
		if env.Type == TypeCardsDealt {
			cd := env.Event.(CardsDealt)
			if len(cd.HoleCards) > 0 {
				assert.Equal(t, "bob", env.To, "hole cards replayed to the wrong player")
			}
		}
	}
	assert.Greater(t, replayed, 0)
}

func TestReconnectReplaysLeaveRingIntact(t *testing.T) {
	f := newFixture(t, testConfig())
	f.tbl.ring = newReplayRing(4)
	f.tbl.dispatch(Admin{Command: "pause"})
	f.join(t, "alice", 1000)
	f.join(t, "bob", 1000)
	f.tbl.dispatch(Chat{PlayerID: "alice", DisplayName: "alice", Text: "first"})
	f.tbl.dispatch(Chat{PlayerID: "alice", DisplayName: "alice", Text: "second"})

	// bob replays the whole buffered range; the re-addressed copies must
	// not displace the broadcasts other clients still need.
	f.tbl.dispatch(Reconnect{PlayerID: "bob", SessionID: "sess-bob-2", LastSeenVersion: 0})
	f.tbl.dispatch(Chat{PlayerID: "bob", DisplayName: "bob", Text: "third"})

	// alice catches up from before the chats: all three must come back,
	// not just the one emitted after bob's catch-up.
	envs, ok := f.tbl.ring.since(2, "alice")
	require.True(t, ok)
	require.Len(t, envs, 3)
	for i, env := range envs {
		assert.Equal(t, TypeChatMessage, env.Type)
		assert.Equal(t, ToAllAtTable, env.Policy)
		assert.EqualValues(t, 3+i, env.Version)
	}
}

func TestDuplicateClientMessageIsIdempotent(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seatThree(t, [3]int64{1000, 1000, 1000})

	f.tbl.dispatch(PlayerAction{
		PlayerID:    "alice",
		Action:      engine.Action{Type: engine.Raise, Amount: 60},
		ClientMsgID: "msg-1",
	})
	version := f.tbl.version
	pot := f.tbl.hand.st.PotTotal()
	broadcasts := len(f.bcast.byType(TypeActionTaken))

	// The retry replays the recorded outcome without touching state.
	f.tbl.dispatch(PlayerAction{
		PlayerID:    "alice",
		Action:      engine.Action{Type: engine.Raise, Amount: 60},
		ClientMsgID: "msg-1",
	})
	assert.Equal(t, version, f.tbl.version, "duplicate must not bump the version")
	assert.Equal(t, pot, f.tbl.hand.st.PotTotal(), "duplicate must not move chips")

	taken := f.bcast.byType(TypeActionTaken)
	require.Len(t, taken, broadcasts+1)
	replay := taken[len(taken)-1]
	assert.Equal(t, ToPlayer, replay.Policy)
	assert.Equal(t, "alice", replay.To)
	assert.Equal(t, taken[len(taken)-2].Version, replay.Version)
}

func TestVersionsAreStrictlyMonotonic(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seatThree(t, [3]int64{1000, 1000, 1000})
	f.checkOrCall(t)
	f.settleHand(t)

	var last uint64
	for _, env := range f.bcast.envs {
		if env.Version == 0 {
			continue
		}
		require.Greater(t, env.Version, last, "broadcast versions must be strictly increasing")
		last = env.Version
	}
}

func TestBroadcastsNeverLeakHoleCards(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seatThree(t, [3]int64{1000, 1000, 1000})
	f.checkOrCall(t)
	f.settleHand(t)

	for _, env := range f.bcast.envs {
		if env.Policy == ToPlayer {
			continue
		}
		switch ev := env.Event.(type) {
		case CardsDealt:
			assert.Empty(t, ev.HoleCards, "hole cards in a broadcast envelope")
		case TableState:
			for _, seat := range ev.Seats {
				assert.Empty(t, seat.HoleCards)
			}
		case GameUpdate:
			for _, seat := range ev.Seats {
				assert.Empty(t, seat.HoleCards)
			}
		case HandStarted:
			for _, seat := range ev.Players {
				assert.Empty(t, seat.HoleCards)
			}
		}
	}
}

func TestLeaveMidHandFoldsAndSettlesEscrow(t *testing.T) {
	f := newFixture(t, testConfig())
	w := wallet.NewMemory(newSeqIDs("esc"))
	require.NoError(t, w.Credit(context.Background(), "alice", 2000))
	require.NoError(t, w.Credit(context.Background(), "bob", 2000))
	require.NoError(t, w.Credit(context.Background(), "carol", 2000))
	f.tbl.escrow = w

	f.seatThree(t, [3]int64{1000, 1000, 1000})

	// bob leaves after posting the small blind: the 10 stays in the pot,
	// the other 990 settle back to his wallet at hand end.
	reply := make(chan error, 1)
	f.tbl.dispatch(Leave{PlayerID: "bob", Reply: reply})
	require.NoError(t, <-reply)
	assert.NotNil(t, f.tbl.playerByID("bob"), "mid-hand leave completes at settle")

	f.act("alice", engine.Fold, 0)
	env, ok := f.bcast.last(TypeShowdown)
	require.True(t, ok)
	assert.True(t, env.Event.(ShowdownResult).Uncontested)
	f.settleHand(t)

	assert.Nil(t, f.tbl.playerByID("bob"))
	balance, err := w.Balance(context.Background(), "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1990, balance)
}

func TestBustedPlayerSitsOut(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg)
	f.join(t, "alice", 100)
	f.join(t, "bob", 1000)

	f.act("alice", engine.AllIn, 0)
	f.act("bob", engine.Call, 0)
	f.settleHand(t)

	// One of them lost; whoever is broke must be sitting out and no new
	// hand can start heads-up.
	broke := 0
	for _, id := range []string{"alice", "bob"} {
		if f.stack(id) == 0 {
			broke++
			assert.True(t, f.tbl.playerByID(id).SittingOut)
		}
	}
	if broke == 1 {
		assert.Nil(t, f.tbl.hand)
		assert.Equal(t, PhaseWaiting, f.tbl.phase)
	}
	assert.EqualValues(t, 1100, f.stack("alice")+f.stack("bob"))
}

func TestBackpressureDropsWhenInboxFull(t *testing.T) {
	f := &fixture{bcast: &collector{}, clock: quartz.NewMock(t)}
	tbl, err := New(Options{
		ID:          "tbl-bp",
		Config:      testConfig(),
		Clock:       f.clock,
		Broadcaster: f.bcast,
		Rand:        &seqReader{},
		NewHandID:   newSeqIDs("hand"),
		InboxSize:   1,
	})
	require.NoError(t, err)

	require.NoError(t, tbl.Send(Sit{PlayerID: "alice"}))
	assert.ErrorIs(t, tbl.Send(Sit{PlayerID: "alice"}), ErrBackpressure)

	tbl.Close()
	assert.ErrorIs(t, tbl.Send(Sit{PlayerID: "alice"}), ErrClosed)
}

func TestChatIsTruncatedAndStampedWithTableClock(t *testing.T) {
	f := newFixture(t, testConfig())
	f.join(t, "alice", 1000)

	long := make([]rune, 600)
	for i := range long {
		long[i] = 'x'
	}
	f.tbl.dispatch(Chat{PlayerID: "alice", DisplayName: "alice", Text: string(long)})

	env, ok := f.bcast.last(TypeChatMessage)
	require.True(t, ok)
	msg := env.Event.(ChatMessage)
	assert.Len(t, []rune(msg.Text), 500)
	assert.Equal(t, f.clock.Now(), msg.SentAt)

	// Non-seated players cannot chat.
	f.bcast.reset()
	f.tbl.dispatch(Chat{PlayerID: "mallory", Text: "hi"})
	errEnv, ok := f.bcast.last(TypeError)
	require.True(t, ok)
	assert.Equal(t, "not_at_table", errEnv.Event.(ErrorEvent).Code)
}

func TestAdminPauseBlocksNewHands(t *testing.T) {
	f := newFixture(t, testConfig())
	f.tbl.dispatch(Admin{Command: "pause"})
	f.join(t, "alice", 1000)
	f.join(t, "bob", 1000)

	assert.Nil(t, f.tbl.hand)
	assert.Equal(t, PhaseWaiting, f.tbl.phase)

	f.tbl.dispatch(Admin{Command: "resume"})
	assert.NotNil(t, f.tbl.hand)
}

func TestCheckpointFailuresPauseNewHands(t *testing.T) {
	f := newFixture(t, testConfig())
	f.ckpt.fail = true
	f.tbl.dispatch(Admin{Command: "pause"})
	f.join(t, "alice", 1000)
	f.join(t, "bob", 1000)
	f.tbl.dispatch(Admin{Command: "resume"})

	// Each retry window that elapses burns another attempt.
	for i := 0; i < maxCheckpointFailures; i++ {
		f.advance(t, 10*time.Minute)
	}
	require.GreaterOrEqual(t, f.tbl.ckptFailures, maxCheckpointFailures)
	assert.True(t, f.tbl.paused)
	assert.Equal(t, "checkpoint", f.tbl.pauseWhy)

	// Persistence recovers: the table unpauses and play resumes.
	f.ckpt.fail = false
	f.advance(t, 10*time.Minute)
	assert.False(t, f.tbl.paused)
	assert.Zero(t, f.tbl.ckptFailures)
}

func TestCheckpointRestoreResumesMidHand(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seatThree(t, [3]int64{1000, 1000, 1000})
	f.act("alice", engine.Raise, 60)
	f.act("bob", engine.Call, 0)

	require.NotZero(t, f.ckpt.version)
	require.NotEmpty(t, f.ckpt.state)

	restoredBcast := &collector{}
	clock := quartz.NewMock(t)
	restored, err := Restore(Options{
		ID:          "tbl-test",
		Config:      testConfig(),
		Clock:       clock,
		Broadcaster: restoredBcast,
		Rand:        &seqReader{},
		NewHandID:   newSeqIDs("hand"),
	}, f.ckpt.state)
	require.NoError(t, err)

	// The queued snapshot broadcast and re-prompt each bump the version.
	assert.Equal(t, f.ckpt.version+2, restored.version)
	assert.Equal(t, f.tbl.handNo, restored.handNo)
	assert.Equal(t, f.tbl.buttonSeat, restored.buttonSeat)
	assert.Equal(t, f.tbl.phase, restored.phase)

	// Hole cards and the betting state survive the round trip.
	require.NotNil(t, restored.hand)
	for id, hole := range f.tbl.hand.holes {
		assert.Equal(t, card.Strings(hole), card.Strings(restored.hand.holes[id]))
	}
	assert.Equal(t, f.tbl.hand.st.CurrentBet, restored.hand.st.CurrentBet)
	assert.Equal(t, f.tbl.hand.st.ActionOn, restored.hand.st.ActionOn)

	// The restored deck continues the exact same card sequence.
	want, err := f.tbl.hand.deck.Draw()
	require.NoError(t, err)
	got, err := restored.hand.deck.Draw()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Every restored player is disconnected until they prove otherwise,
	// and the pending queue re-prompts the player on action.
	for _, p := range restored.seats {
		if p != nil {
			assert.True(t, p.Disconnected)
		}
	}
	restored.flush()
	_, ok := restoredBcast.last(TypeTableState)
	assert.True(t, ok)
	req, ok := restoredBcast.last(TypeActionRequired)
	require.True(t, ok)
	assert.Equal(t, "carol", req.Event.(ActionRequired).PlayerID)
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t, testConfig())
	f.join(t, "alice", 1000)

	cases := []struct {
		name string
		msg  Join
		want error
	}{
		{"duplicate player", Join{PlayerID: "alice", Seat: -1, BuyIn: 500}, ErrAlreadySeated},
		{"buy-in too small", Join{PlayerID: "bob", Seat: -1, BuyIn: 50}, ErrInvalidBuyIn},
		{"buy-in too large", Join{PlayerID: "bob", Seat: -1, BuyIn: 5000}, ErrInvalidBuyIn},
		{"seat taken", Join{PlayerID: "bob", Seat: 0, BuyIn: 500}, ErrSeatTaken},
		{"seat out of range", Join{PlayerID: "bob", Seat: 99, BuyIn: 500}, ErrInvalidSeat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reply := make(chan error, 1)
			tc.msg.Reply = reply
			f.tbl.dispatch(tc.msg)
			assert.ErrorIs(t, <-reply, tc.want)
		})
	}
}

func TestHistoryRecordWritten(t *testing.T) {
	f := newFixture(t, testConfig())
	sink := history.NewMemorySink()
	f.tbl.history = sink

	f.seatThree(t, [3]int64{1000, 1000, 1000})
	f.checkOrCall(t)

	recs := sink.Records()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "tbl-test", rec.TableID)
	assert.Equal(t, "10/20", rec.Stakes)
	assert.Len(t, rec.Board, 5)
	assert.Len(t, rec.Seats, 3)
	assert.NotEmpty(t, rec.Audit.Commitment)
	assert.NotEmpty(t, rec.Audit.Seed)
	assert.NotEmpty(t, rec.Audit.Proof)
}

func newSeqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
