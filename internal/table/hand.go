package table

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/feltpoker/felt/internal/card"
	"github.com/feltpoker/felt/internal/engine"
	"github.com/feltpoker/felt/internal/eval"
	"github.com/feltpoker/felt/internal/history"
	"github.com/feltpoker/felt/internal/shuffle"
)

// hand is the live hand the actor is driving. Chip columns live in the
// engine state until settle; hole cards stay here and reach the wire
// only through owner-addressed envelopes or showdown reveals.
type hand struct {
	id    string
	no    uint64
	deck  *shuffle.ShuffledDeck
	st    *engine.State
	board []card.Card
	holes map[string][]card.Card

	actionDeadline time.Time
	result         *ShowdownResult
}

func (h *hand) enginePlayer(id string) *engine.Player {
	for _, p := range h.st.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func streetPhase(s engine.Street) Phase {
	switch s {
	case engine.PreFlop:
		return PhasePreFlop
	case engine.Flop:
		return PhaseFlop
	case engine.Turn:
		return PhaseTurn
	case engine.River:
		return PhaseRiver
	default:
		return PhaseShowdown
	}
}

// eligible reports whether a seated player enters the next hand
func eligible(p *player) bool {
	return p != nil && !p.SittingOut && !p.Disconnected && !p.PendingLeave && p.Stack > 0
}

func (t *Table) eligibleCount() int {
	n := 0
	for _, p := range t.seats {
		if eligible(p) {
			n++
		}
	}
	return n
}

func (t *Table) maybeStartHand() {
	if t.phase != PhaseWaiting || t.paused || t.eligibleCount() < 2 {
		return
	}
	t.startHand()
}

// advanceButton moves the dealer button for the next hand. The moving
// rule lands on the next eligible seat; the dead rule advances exactly
// one seat, occupied or not.
func (t *Table) advanceButton() {
	n := len(t.seats)
	if t.buttonSeat < 0 || t.cfg.ButtonRule == ButtonMoving {
		from := t.buttonSeat + 1
		for i := 0; i < n; i++ {
			seat := (from + i) % n
			if eligible(t.seats[seat]) {
				t.buttonSeat = seat
				return
			}
		}
		return
	}
	t.buttonSeat = (t.buttonSeat + 1) % n
}

// startHand commits and shuffles a fresh deck, deals, posts blinds, and
// opens the pre-flop betting round.
func (t *Table) startHand() {
	t.advanceButton()

	cd, err := shuffle.Commit(t.rng)
	if err != nil {
		t.logger.Error("deck commit failed", "incident", "deck_commit", "error", err)
		return
	}
	seed, err := shuffle.NewSeed(t.rng)
	if err != nil {
		t.logger.Error("seed generation failed", "incident", "deck_seed", "error", err)
		return
	}
	deck := cd.Shuffle(seed)
	if err := deck.Verify(); err != nil {
		t.logger.Error("shuffle verification failed", "incident", "shuffle_verify", "error", err)
		return
	}

	// Hand order is clockwise from the seat after the button, so the
	// button player acts last and the engine button is the final
	// position. With the dead-button rule the button seat may be empty.
	var players []*engine.Player
	n := len(t.seats)
	for i := 1; i <= n; i++ {
		p := t.seats[(t.buttonSeat+i)%n]
		if eligible(p) {
			players = append(players, &engine.Player{ID: p.ID, Seat: p.Seat, Stack: p.Stack})
		}
	}
	st, err := engine.NewState(players, len(players)-1, t.cfg.SmallBlind, t.cfg.BigBlind)
	if err != nil {
		t.logger.Error("hand setup failed", "incident", "hand_setup", "error", err)
		return
	}

	t.handNo++
	h := &hand{
		id:    t.newHandID(),
		no:    t.handNo,
		deck:  deck,
		st:    st,
		holes: make(map[string][]card.Card, len(players)),
	}
	t.hand = h
	t.phase = PhasePreFlop
	for _, ep := range players {
		if p := t.playerByID(ep.ID); p != nil {
			p.InHand = true
			p.LastAction = ""
		}
	}
	t.logger.Info("hand started", "hand", h.id, "no", h.no, "players", len(players), "button", t.buttonSeat)

	t.emit(ToAllAtTable, TypeHandStarted, HandStarted{
		HandID:         h.id,
		HandNo:         h.no,
		ButtonSeat:     t.buttonSeat,
		SmallBlind:     t.cfg.SmallBlind,
		BigBlind:       t.cfg.BigBlind,
		Players:        t.seatViews(""),
		DeckCommitment: hex.EncodeToString(deck.Commitment),
	})

	// Two passes, one card at a time, clockwise from left of the button.
	for pass := 0; pass < 2; pass++ {
		for _, ep := range players {
			c, err := h.deck.Draw()
			if err != nil {
				t.voidHand(err)
				return
			}
			h.holes[ep.ID] = append(h.holes[ep.ID], c)
		}
	}
	for _, ep := range players {
		t.emitTo(ep.ID, TypeCardsDealt, CardsDealt{
			HandID:    h.id,
			HoleCards: card.Strings(h.holes[ep.ID]),
		})
	}

	sb, bb := st.PostBlinds()
	for _, blind := range []struct {
		post engine.BlindPost
		name string
	}{{sb, "small_blind"}, {bb, "big_blind"}} {
		ep := st.Players[blind.post.Pos]
		t.emit(ToAllAtTable, TypeActionTaken, ActionTaken{
			HandID:   h.id,
			PlayerID: blind.post.PlayerID,
			Action:   blind.name,
			Paid:     blind.post.Amount,
			Bet:      ep.Bet,
			Stack:    ep.Stack,
			Pot:      st.PotTotal(),
			AllIn:    blind.post.AllIn,
			Forced:   true,
			Street:   st.Street.String(),
		})
	}

	t.emit(ToAllAtTable, TypeGameUpdate, t.gameUpdate())
	t.markDirty()
	t.promptAction()
}

// promptAction announces whose turn it is and arms the action timer
func (t *Table) promptAction() {
	pr := t.hand.st.Prompt()
	if pr == nil {
		return
	}
	t.hand.actionDeadline = t.clock.Now().Add(t.cfg.ActionTimeout)
	deadline := t.effectiveActionDeadline()
	actions := make([]string, len(pr.Actions))
	for i, a := range pr.Actions {
		actions[i] = a.String()
	}
	t.emit(ToAllAtTable, TypeActionRequired, ActionRequired{
		HandID:     t.hand.id,
		PlayerID:   pr.PlayerID,
		Deadline:   deadline,
		Actions:    actions,
		ToCall:     pr.ToCall,
		MinRaiseTo: pr.MinRaiseTo,
		MaxRaiseTo: pr.MaxRaiseTo,
	})
	t.scheduleTickAt(deadline)
}

func (t *Table) handlePlayerAction(m PlayerAction) {
	t.lastActive = t.clock.Now()

	if entry, ok := t.idem.Seen(m.PlayerID, m.ClientMsgID); ok {
		// Replay the original outcome to the sender; state and version
		// are untouched.
		if entry.Outcome.Type != "" {
			t.pending = append(t.pending, Envelope{
				Table:   t.id,
				Version: entry.Outcome.Version,
				Policy:  ToPlayer,
				To:      m.PlayerID,
				Type:    entry.Outcome.Type,
				Event:   entry.Outcome.Event,
			})
		} else {
			t.replyErr(m.PlayerID, "duplicate_message", "action already processed")
		}
		return
	}

	if t.hand == nil || t.phase == PhaseSettling {
		env := t.replyErr(m.PlayerID, "invalid_action", "no active hand")
		t.idem.Record(m.PlayerID, m.ClientMsgID, t.clock.Now(), env)
		return
	}

	out, viol := t.hand.st.Apply(m.PlayerID, m.Action)
	if viol != nil {
		env := t.replyErr(m.PlayerID, string(viol.Code), viol.Msg)
		t.idem.Record(m.PlayerID, m.ClientMsgID, t.clock.Now(), env)
		return
	}
	env := t.applyOutcome(out, false)
	t.idem.Record(m.PlayerID, m.ClientMsgID, t.clock.Now(), env)
}

// applyOutcome broadcasts an accepted action and drives what follows:
// the hand ending uncontested, the street advancing, or the next prompt.
func (t *Table) applyOutcome(out *engine.Outcome, forced bool) Envelope {
	h := t.hand
	ep := h.st.Players[out.Pos]
	if p := t.playerByID(out.PlayerID); p != nil {
		p.LastAction = out.Action.String()
	}
	t.emit(ToAllAtTable, TypeActionTaken, ActionTaken{
		HandID:   h.id,
		PlayerID: out.PlayerID,
		Action:   out.Action.String(),
		Paid:     out.Paid,
		Bet:      out.NewBet,
		Stack:    ep.Stack,
		Pot:      h.st.PotTotal(),
		AllIn:    out.AllIn,
		Forced:   forced,
		Street:   h.st.Street.String(),
	})
	env := t.pending[len(t.pending)-1]
	t.markDirty()

	switch {
	case out.HandComplete:
		t.finishUncontested()
	case out.RoundComplete:
		t.advanceStreets()
	default:
		t.emit(ToAllAtTable, TypeGameUpdate, t.gameUpdate())
		t.promptAction()
	}
	return env
}

// timeoutAction resolves an expired action timer: fold, or check when
// the table's timeout policy allows it and checking is legal.
func (t *Table) timeoutAction() {
	pos := t.hand.st.ActionOn
	ep := t.hand.st.Players[pos]
	act := engine.Action{Type: engine.Fold}
	if t.cfg.TimeoutPolicy == TimeoutCheckFold && t.hand.st.CurrentBet == ep.Bet {
		act.Type = engine.Check
	}
	t.logger.Info("action timeout", "player", ep.ID, "action", act.Type.String())
	out, viol := t.hand.st.Apply(ep.ID, act)
	if viol != nil {
		// Fold is always legal for the player on action.
		t.logger.Error("timeout action rejected", "incident", "timeout_apply", "error", viol)
		return
	}
	t.applyOutcome(out, true)
}

// foldOut folds a player out of turn (leave or expired grace)
func (t *Table) foldOut(p *player, reason string) {
	if t.hand == nil || t.phase == PhaseShowdown || t.phase == PhaseSettling {
		return
	}
	h := t.hand
	pos := h.st.PositionOf(p.ID)
	wasTurn := pos == h.st.ActionOn
	out := h.st.ForceFold(pos)
	if out == nil {
		// Already folded or all-in; an all-in hand still contests showdown.
		return
	}
	t.logger.Info("player folded out", "player", p.ID, "reason", reason)
	ep := h.st.Players[pos]
	t.emit(ToAllAtTable, TypeActionTaken, ActionTaken{
		HandID:   h.id,
		PlayerID: p.ID,
		Action:   "fold",
		Stack:    ep.Stack,
		Pot:      h.st.PotTotal(),
		Forced:   true,
		Street:   h.st.Street.String(),
	})
	p.LastAction = "fold"
	t.markDirty()

	switch {
	case out.HandComplete:
		t.finishUncontested()
	case out.RoundComplete:
		t.advanceStreets()
	case wasTurn:
		t.emit(ToAllAtTable, TypeGameUpdate, t.gameUpdate())
		t.promptAction()
	}
}

// advanceStreets deals out the next street, and keeps going through an
// all-in runout until someone can act or the board is complete.
func (t *Table) advanceStreets() {
	h := t.hand
	for {
		street := h.st.AdvanceStreet()
		if street >= engine.Showdown {
			t.showdown()
			return
		}
		burn := 1
		deal := 1
		if street == engine.Flop {
			deal = 3
		}
		for i := 0; i < burn; i++ {
			if err := h.deck.Burn(); err != nil {
				t.voidHand(err)
				return
			}
		}
		dealt := make([]card.Card, 0, deal)
		for i := 0; i < deal; i++ {
			c, err := h.deck.Draw()
			if err != nil {
				t.voidHand(err)
				return
			}
			dealt = append(dealt, c)
		}
		h.board = append(h.board, dealt...)
		t.phase = streetPhase(street)
		t.markDirty()
		t.emit(ToAllAtTable, TypePhaseChanged, PhaseChanged{
			HandID: h.id,
			Phase:  string(t.phase),
			Board:  card.Strings(h.board),
		})
		t.emit(ToAllAtTable, TypeCardsDealt, CardsDealt{
			HandID:    h.id,
			Community: card.Strings(dealt),
			Street:    street.String(),
		})
		t.emit(ToAllAtTable, TypeGameUpdate, t.gameUpdate())
		if h.st.ActionOn >= 0 {
			t.promptAction()
			return
		}
		if !h.st.RoundComplete() {
			return
		}
	}
}

// finishUncontested awards the whole pot to the last unfolded player.
// No cards are revealed and the shuffle seed stays sealed.
func (t *Table) finishUncontested() {
	h := t.hand
	pos := h.st.LastUnfolded()
	if pos < 0 {
		t.voidHand(fmt.Errorf("uncontested hand with no winner"))
		return
	}
	winner := h.st.Players[pos]
	total := h.st.PotTotal()
	winner.Stack += total
	t.logger.Info("hand won uncontested", "hand", h.id, "winner", winner.ID, "pot", total)

	h.result = &ShowdownResult{
		HandID:      h.id,
		Pots:        []PotResult{{Amount: total, Winners: map[string]int64{winner.ID: total}}},
		Uncontested: true,
	}
	t.settle()
}

// showdown evaluates the remaining hands, pays each pot layer to its
// best eligible hands, and reveals in last-aggressor-first order.
func (t *Table) showdown() {
	h := t.hand
	t.phase = PhaseShowdown
	t.emit(ToAllAtTable, TypePhaseChanged, PhaseChanged{HandID: h.id, Phase: string(PhaseShowdown), Board: card.Strings(h.board)})

	scores := make(map[string]eval.Score)
	best := make(map[string][]card.Card)
	for _, ep := range h.st.Players {
		if ep.Folded {
			continue
		}
		cards := append(append([]card.Card{}, h.holes[ep.ID]...), h.board...)
		five, score, err := eval.Best5(cards)
		if err != nil {
			t.voidHand(fmt.Errorf("evaluate %s: %w", ep.ID, err))
			return
		}
		scores[ep.ID] = score
		best[ep.ID] = five
	}

	var results []PotResult
	for _, pot := range h.st.Pots() {
		var top eval.Score
		for _, id := range pot.Eligible {
			if scores[id] > top {
				top = scores[id]
			}
		}
		var winners []int
		for _, id := range pot.Eligible {
			if scores[id] == top {
				winners = append(winners, h.st.PositionOf(id))
			}
		}
		shares := h.st.SplitPot(pot.Amount, winners)
		paid := make(map[string]int64, len(shares))
		for pos, amount := range shares {
			ep := h.st.Players[pos]
			ep.Stack += amount
			paid[ep.ID] = amount
		}
		results = append(results, PotResult{Amount: pot.Amount, Winners: paid})
	}

	// Reveal order: last aggressor first, then clockwise. A checked-down
	// hand starts left of the button.
	start := h.st.LastAggressor
	if start < 0 || h.st.Players[start].Folded {
		start = 0
		for pos, ep := range h.st.Players {
			if !ep.Folded {
				start = pos
				break
			}
		}
	}
	var shown []ShownHand
	n := len(h.st.Players)
	for i := 0; i < n; i++ {
		ep := h.st.Players[(start+i)%n]
		if ep.Folded {
			continue
		}
		shown = append(shown, ShownHand{
			PlayerID:  ep.ID,
			HoleCards: card.Strings(h.holes[ep.ID]),
			Best5:     card.Strings(best[ep.ID]),
			Rank:      scores[ep.ID].String(),
		})
	}

	h.result = &ShowdownResult{
		HandID:     h.id,
		Board:      card.Strings(h.board),
		Hands:      shown,
		Pots:       results,
		SeedReveal: hex.EncodeToString(h.deck.Seed[:]),
	}
	t.logger.Info("showdown", "hand", h.id, "pots", len(results), "shown", len(shown))
	t.settle()
}

// settle broadcasts the hand result and schedules the return to waiting
func (t *Table) settle() {
	h := t.hand
	h.result.Stacks = t.seatViews("")
	t.emit(ToAllAtTable, TypeShowdown, *h.result)
	t.writeHistory()
	t.phase = PhaseSettling
	t.settleAt = t.clock.Now().Add(t.cfg.SettleDelay)
	t.emit(ToAllAtTable, TypePhaseChanged, PhaseChanged{HandID: h.id, Phase: string(PhaseSettling)})
	t.markDirty()
	t.scheduleTickAt(t.settleAt)
}

// endHand writes engine stacks back to the seats, clears the hand, and
// returns the table to waiting.
func (t *Table) endHand() {
	h := t.hand
	if h != nil {
		for _, ep := range h.st.Players {
			p := t.playerByID(ep.ID)
			if p == nil {
				continue
			}
			p.Stack = ep.Stack
			p.InHand = false
			p.LastAction = ""
			if p.Stack == 0 {
				p.SittingOut = true
			}
		}
	}
	t.hand = nil
	t.phase = PhaseWaiting
	for _, p := range t.seats {
		if p != nil && p.PendingLeave {
			t.unseat(p)
		}
	}
	t.emit(ToAllAtTable, TypePhaseChanged, PhaseChanged{Phase: string(PhaseWaiting)})
	t.emit(ToAllAtTable, TypeTableState, t.tableState())
	t.markDirty()
}

// voidHand aborts the current hand after an integrity failure: every
// committed chip returns to its owner and the table goes back to waiting.
func (t *Table) voidHand(cause error) {
	h := t.hand
	if h == nil {
		return
	}
	t.logger.Error("hand voided", "incident", "hand_voided", "hand", h.id, "error", cause)
	h.st.VoidRefund()
	for _, ep := range h.st.Players {
		if p := t.playerByID(ep.ID); p != nil {
			p.Stack = ep.Stack
			p.InHand = false
			p.LastAction = ""
		}
	}
	t.hand = nil
	t.phase = PhaseWaiting
	t.emit(ToAllAtTable, TypePhaseChanged, PhaseChanged{Phase: string(PhaseWaiting)})
	t.emit(ToAllAtTable, TypeTableState, t.tableState())
	t.markDirty()
}

// writeHistory appends the finished hand to the history sink
func (t *Table) writeHistory() {
	if t.history == nil {
		return
	}
	h := t.hand
	rec := &history.Record{
		HandID:   h.id,
		TableID:  t.id,
		HandNo:   h.no,
		Stakes:   t.cfg.Stakes(),
		PlayedAt: t.clock.Now(),
		Board:    card.Strings(h.board),
	}
	for _, ep := range h.st.Players {
		seat := history.SeatResult{
			PlayerID:  ep.ID,
			Seat:      ep.Seat,
			Committed: ep.Committed,
			Folded:    ep.Folded,
		}
		if !ep.Folded && len(h.result.Hands) > 0 {
			seat.HoleCards = card.Strings(h.holes[ep.ID])
		}
		rec.Seats = append(rec.Seats, seat)
	}
	for _, pot := range h.result.Pots {
		rec.Pots = append(rec.Pots, history.PotResult{Amount: pot.Amount, Winners: pot.Winners})
	}
	rec.Audit = history.Audit{
		Commitment: hex.EncodeToString(h.deck.Commitment),
		Seed:       h.result.SeedReveal,
		Proof:      hex.EncodeToString(h.deck.Proof),
	}
	if err := t.history.Append(context.Background(), h.id, rec); err != nil {
		t.logger.Error("history append failed", "hand", h.id, "error", err)
	}
}
