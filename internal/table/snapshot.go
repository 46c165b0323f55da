package table

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/feltpoker/felt/internal/card"
	"github.com/feltpoker/felt/internal/engine"
	"github.com/feltpoker/felt/internal/shuffle"
)

// snapshot is the persisted form of the actor state. Card orders are not
// stored; the deck snapshot re-derives them from nonce and seed.
type snapshot struct {
	TableID    string       `json:"table_id"`
	Version    uint64       `json:"version"`
	HandNo     uint64       `json:"hand_no"`
	ButtonSeat int          `json:"button_seat"`
	Phase      Phase        `json:"phase"`
	Paused     bool         `json:"paused,omitempty"`
	Players    []playerSnap `json:"players"`
	Hand       *handSnap    `json:"hand,omitempty"`
	Idem       []idemEntry  `json:"idempotency,omitempty"`
	TakenAt    time.Time    `json:"taken_at"`
}

type playerSnap struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Seat         int    `json:"seat"`
	Stack        int64  `json:"stack"`
	BuyInTotal   int64  `json:"buy_in_total"`
	EscrowID     string `json:"escrow_id,omitempty"`
	SittingOut   bool   `json:"sitting_out,omitempty"`
	PendingLeave bool   `json:"pending_leave,omitempty"`
	InHand       bool   `json:"in_hand,omitempty"`
}

type handSnap struct {
	ID    string              `json:"id"`
	No    uint64              `json:"no"`
	Deck  shuffle.Snapshot    `json:"deck"`
	State *engine.State       `json:"state"`
	Board []string            `json:"board,omitempty"`
	Holes map[string][]string `json:"holes"`
}

// snapshotBytes encodes the actor state for checkpointing
func (t *Table) snapshotBytes() ([]byte, error) {
	now := t.clock.Now()
	snap := snapshot{
		TableID:    t.id,
		Version:    t.version,
		HandNo:     t.handNo,
		ButtonSeat: t.buttonSeat,
		Phase:      t.phase,
		Paused:     t.paused && t.pauseWhy == "admin",
		Idem:       t.idem.Snapshot(now),
		TakenAt:    now,
	}
	for _, p := range t.seats {
		if p == nil {
			continue
		}
		snap.Players = append(snap.Players, playerSnap{
			ID:           p.ID,
			DisplayName:  p.DisplayName,
			Seat:         p.Seat,
			Stack:        p.Stack,
			BuyInTotal:   p.BuyInTotal,
			EscrowID:     p.EscrowID,
			SittingOut:   p.SittingOut,
			PendingLeave: p.PendingLeave,
			InHand:       p.InHand,
		})
	}
	if h := t.hand; h != nil {
		hs := &handSnap{
			ID:    h.id,
			No:    h.no,
			Deck:  h.deck.Snapshot(),
			State: h.st,
			Board: card.Strings(h.board),
			Holes: make(map[string][]string, len(h.holes)),
		}
		for id, cards := range h.holes {
			hs.Holes[id] = card.Strings(cards)
		}
		snap.Hand = hs
	}
	return json.Marshal(snap)
}

// Restore rebuilds an actor from its latest checkpoint. Every restored
// player starts disconnected with a fresh grace window; an in-flight
// hand resumes with a fresh action timer and the table re-broadcasts a
// full snapshot once Run starts.
func Restore(opts Options, state []byte) (*Table, error) {
	var snap snapshot
	if err := json.Unmarshal(state, &snap); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if opts.ID == "" {
		opts.ID = snap.TableID
	}
	if opts.ID != snap.TableID {
		return nil, fmt.Errorf("checkpoint is for table %s, not %s", snap.TableID, opts.ID)
	}
	t, err := New(opts)
	if err != nil {
		return nil, err
	}

	t.version = snap.Version
	t.handNo = snap.HandNo
	t.buttonSeat = snap.ButtonSeat
	t.phase = snap.Phase
	t.paused = snap.Paused
	if snap.Paused {
		t.pauseWhy = "admin"
	}
	t.idem.Restore(snap.Idem)

	now := t.clock.Now()
	for _, ps := range snap.Players {
		if ps.Seat < 0 || ps.Seat >= len(t.seats) {
			return nil, fmt.Errorf("checkpoint seat %d out of range", ps.Seat)
		}
		p := &player{
			ID:           ps.ID,
			DisplayName:  ps.DisplayName,
			Seat:         ps.Seat,
			Stack:        ps.Stack,
			BuyInTotal:   ps.BuyInTotal,
			EscrowID:     ps.EscrowID,
			SittingOut:   ps.SittingOut,
			PendingLeave: ps.PendingLeave,
			InHand:       ps.InHand,
			Disconnected: true,
			DiscDeadline: now.Add(t.cfg.DisconnectGrace),
		}
		t.seats[ps.Seat] = p
	}

	if hs := snap.Hand; hs != nil {
		deck, err := shuffle.Restore(hs.Deck)
		if err != nil {
			return nil, fmt.Errorf("restore deck: %w", err)
		}
		if hs.State == nil || len(hs.State.Players) < 2 {
			return nil, fmt.Errorf("checkpoint hand state incomplete")
		}
		h := &hand{
			id:    hs.ID,
			no:    hs.No,
			deck:  deck,
			st:    hs.State,
			holes: make(map[string][]card.Card, len(hs.Holes)),
		}
		for _, s := range hs.Board {
			c, err := card.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("restore board: %w", err)
			}
			h.board = append(h.board, c)
		}
		for id, strs := range hs.Holes {
			for _, s := range strs {
				c, err := card.Parse(s)
				if err != nil {
					return nil, fmt.Errorf("restore hole cards: %w", err)
				}
				h.holes[id] = append(h.holes[id], c)
			}
		}
		t.hand = h
	}

	// The replay ring did not survive the restart; clients resync from
	// this snapshot broadcast.
	t.emit(ToAllAtTable, TypeTableState, t.tableState())
	switch {
	case t.hand != nil && t.hand.st.ActionOn >= 0:
		t.promptAction()
	case t.phase == PhaseSettling:
		// The settle delay restarts; the hand result broadcast is lost
		// but stacks are already final in the engine state.
		t.settleAt = now.Add(t.cfg.SettleDelay)
		t.scheduleTickAt(t.settleAt)
	case t.phase == PhaseShowdown:
		t.settleAt = now.Add(t.cfg.SettleDelay)
		t.phase = PhaseSettling
		t.scheduleTickAt(t.settleAt)
	}
	for _, p := range t.seats {
		if p != nil {
			t.scheduleTickAt(p.DiscDeadline)
		}
	}
	t.publishSummary()
	return t, nil
}
