// Package engine is the pure betting rule evaluator. It validates typed
// actions against a hand's betting state, tracks bets and commitments,
// detects round completion, and layers pots. It never touches the deck,
// timers, or I/O; the table actor owns all of that.
package engine

import "fmt"

// Street represents a betting round within a hand
type Street int

const (
	PreFlop Street = iota
	Flop
	Turn
	River
	Showdown
)

func (s Street) String() string {
	switch s {
	case PreFlop:
		return "pre_flop"
	case Flop:
		return "flop"
	case Turn:
		return "turn"
	case River:
		return "river"
	case Showdown:
		return "showdown"
	default:
		return "unknown"
	}
}

// Player is one player's chip state within a hand. Positions index
// State.Players in clockwise order; Seat records the table seat for
// display and odd-chip ordering.
type Player struct {
	ID        string `json:"id"`
	Seat      int    `json:"seat"`
	Stack     int64  `json:"stack"`
	Bet       int64  `json:"bet"`       // this street
	Committed int64  `json:"committed"` // whole hand
	Folded    bool   `json:"folded"`
	AllIn     bool   `json:"all_in"`
	Acted     bool   `json:"acted"` // acted since the last full raise
}

// CanAct reports whether the player can still take actions this hand
func (p *Player) CanAct() bool {
	return !p.Folded && !p.AllIn
}

// State is the betting state of one hand. The table actor owns it and
// mutates it only through engine methods; every method is synchronous
// and deterministic.
type State struct {
	Players       []*Player `json:"players"` // clockwise hand order
	Button        int       `json:"button"`  // position of the dealer
	Street        Street    `json:"street"`
	CurrentBet    int64     `json:"current_bet"`
	MinRaise      int64     `json:"min_raise"` // required raise increment
	ActionOn      int       `json:"action_on"` // position, -1 when nobody acts
	LastAggressor int       `json:"last_aggressor"`
	SmallBlind    int64     `json:"small_blind"`
	BigBlind      int64     `json:"big_blind"`
}

// NewState builds the betting state for a fresh hand. Players must be in
// clockwise order with positive stacks; button indexes into players.
func NewState(players []*Player, button int, smallBlind, bigBlind int64) (*State, error) {
	if len(players) < 2 {
		return nil, fmt.Errorf("hand needs at least 2 players, got %d", len(players))
	}
	if button < 0 || button >= len(players) {
		return nil, fmt.Errorf("button position %d out of range", button)
	}
	if smallBlind <= 0 || bigBlind <= 0 {
		return nil, fmt.Errorf("blinds must be positive, got %d/%d", smallBlind, bigBlind)
	}
	ids := make(map[string]bool, len(players))
	for pos, p := range players {
		if p.Stack <= 0 {
			return nil, fmt.Errorf("player %s has no chips", p.ID)
		}
		if p.Bet != 0 || p.Committed != 0 || p.Folded || p.AllIn || p.Acted {
			return nil, fmt.Errorf("player %s carries stale hand state", p.ID)
		}
		if ids[p.ID] {
			return nil, fmt.Errorf("duplicate player id %s at position %d", p.ID, pos)
		}
		ids[p.ID] = true
	}
	return &State{
		Players:       players,
		Button:        button,
		Street:        PreFlop,
		MinRaise:      bigBlind,
		ActionOn:      -1,
		LastAggressor: -1,
		SmallBlind:    smallBlind,
		BigBlind:      bigBlind,
	}, nil
}

// BlindPost records a forced bet
type BlindPost struct {
	Pos      int
	PlayerID string
	Amount   int64
	AllIn    bool
}

// PostBlinds posts the small and big blinds and sets the opening action.
// A short stack posts what it has and goes all-in. Heads-up the button
// posts the small blind and acts first pre-flop.
func (st *State) PostBlinds() (sb, bb BlindPost) {
	n := len(st.Players)
	var sbPos, bbPos int
	if n == 2 {
		sbPos = st.Button
		bbPos = (st.Button + 1) % n
	} else {
		sbPos = (st.Button + 1) % n
		bbPos = (st.Button + 2) % n
	}
	sb = st.post(sbPos, st.SmallBlind)
	bb = st.post(bbPos, st.BigBlind)
	st.CurrentBet = st.BigBlind
	st.MinRaise = st.BigBlind
	st.ActionOn = st.nextActive(bbPos + 1)
	return sb, bb
}

func (st *State) post(pos int, amount int64) BlindPost {
	p := st.Players[pos]
	paid := min(amount, p.Stack)
	p.Stack -= paid
	p.Bet += paid
	p.Committed += paid
	if p.Stack == 0 {
		p.AllIn = true
	}
	return BlindPost{Pos: pos, PlayerID: p.ID, Amount: paid, AllIn: p.AllIn}
}

// PositionOf returns the hand position of a player id, or -1
func (st *State) PositionOf(id string) int {
	for pos, p := range st.Players {
		if p.ID == id {
			return pos
		}
	}
	return -1
}

// nextActive returns the first position at or after from (wrapping) whose
// player can still act, or -1
func (st *State) nextActive(from int) int {
	n := len(st.Players)
	for i := 0; i < n; i++ {
		pos := ((from+i)%n + n) % n
		if st.Players[pos].CanAct() {
			return pos
		}
	}
	return -1
}

func (st *State) countActive() int {
	count := 0
	for _, p := range st.Players {
		if p.CanAct() {
			count++
		}
	}
	return count
}

func (st *State) countUnfolded() int {
	count := 0
	for _, p := range st.Players {
		if !p.Folded {
			count++
		}
	}
	return count
}

// Outcome is the result of a successfully applied action
type Outcome struct {
	Pos           int        `json:"-"`
	PlayerID      string     `json:"player_id"`
	Action        ActionType `json:"action"`
	Paid          int64      `json:"paid"`    // chips moved by this action
	NewBet        int64      `json:"new_bet"` // street bet level afterwards
	AllIn         bool       `json:"all_in,omitempty"`
	Aggressive    bool       `json:"-"` // raised the current bet
	RoundComplete bool       `json:"-"`
	HandComplete  bool       `json:"-"` // at most one player left unfolded
	NextToAct     int        `json:"-"` // position, -1 when none
}

// Apply validates and applies one action for playerID. Validation rules
// run in a fixed order and the first failure is returned as a Violation;
// violations never mutate state.
func (st *State) Apply(playerID string, act Action) (*Outcome, *Violation) {
	pos := st.PositionOf(playerID)
	if pos < 0 || pos != st.ActionOn {
		return nil, violate(CodeNotYourTurn, "action is not on %s", playerID)
	}
	if st.Street >= Showdown {
		return nil, violate(CodeWrongPhase, "no actions during %s", st.Street)
	}
	p := st.Players[pos]
	if !p.CanAct() {
		return nil, violate(CodeInvalidActionForState, "%s cannot act", playerID)
	}

	out := &Outcome{Pos: pos, PlayerID: playerID, Action: act.Type, NewBet: p.Bet}

	switch act.Type {
	case Fold:
		p.Folded = true

	case Check:
		if st.CurrentBet != p.Bet {
			return nil, violate(CodeInvalidActionForState,
				"cannot check facing a bet of %d", st.CurrentBet)
		}

	case Call:
		toCall := st.CurrentBet - p.Bet
		if toCall <= 0 {
			return nil, violate(CodeInvalidActionForState, "nothing to call")
		}
		paid := min(toCall, p.Stack)
		st.commit(p, paid)
		out.Paid = paid
		out.NewBet = p.Bet

	case Bet:
		if st.CurrentBet != 0 {
			return nil, violate(CodeInvalidActionForState,
				"cannot bet facing a bet of %d, raise instead", st.CurrentBet)
		}
		if act.Amount <= 0 {
			return nil, violate(CodeAmountNotPositive, "bet of %d", act.Amount)
		}
		if act.Amount > p.Stack {
			return nil, violate(CodeAmountExceedsStack,
				"bet of %d exceeds stack of %d", act.Amount, p.Stack)
		}
		if act.Amount < st.BigBlind && act.Amount < p.Stack {
			return nil, violate(CodeBelowMinRaise,
				"bet of %d below minimum %d", act.Amount, st.BigBlind)
		}
		st.commit(p, act.Amount)
		st.CurrentBet = act.Amount
		st.MinRaise = max(act.Amount, st.BigBlind)
		st.LastAggressor = pos
		st.reopen(pos)
		out.Paid = act.Amount
		out.NewBet = p.Bet
		out.Aggressive = true

	case Raise:
		if st.CurrentBet == 0 {
			return nil, violate(CodeInvalidActionForState, "nothing to raise, bet instead")
		}
		if p.Acted {
			return nil, violate(CodeInvalidActionForState,
				"betting is not reopened for %s", playerID)
		}
		needed := act.Amount - p.Bet
		if needed <= 0 {
			return nil, violate(CodeAmountNotPositive,
				"raise to %d adds no chips", act.Amount)
		}
		if needed > p.Stack {
			return nil, violate(CodeInsufficientFunds,
				"raise to %d needs %d, stack is %d", act.Amount, needed, p.Stack)
		}
		increment := act.Amount - st.CurrentBet
		if increment <= 0 {
			return nil, violate(CodeInvalidActionForState,
				"raise to %d does not exceed the current bet of %d", act.Amount, st.CurrentBet)
		}
		allIn := needed == p.Stack
		if increment < st.MinRaise && !allIn {
			return nil, violate(CodeBelowMinRaise,
				"raise to %d below minimum %d", act.Amount, st.CurrentBet+st.MinRaise)
		}
		st.commit(p, needed)
		st.CurrentBet = act.Amount
		st.LastAggressor = pos
		if increment >= st.MinRaise {
			st.MinRaise = increment
			st.reopen(pos)
		}
		// A short all-in leaves MinRaise alone and does not reopen
		// action for players who already acted at the previous level.
		out.Paid = needed
		out.NewBet = p.Bet
		out.Aggressive = true

	case AllIn:
		if p.Stack == 0 {
			return nil, violate(CodeInvalidActionForState, "%s has no chips", playerID)
		}
		paid := p.Stack
		st.commit(p, paid)
		if p.Bet > st.CurrentBet {
			increment := p.Bet - st.CurrentBet
			st.CurrentBet = p.Bet
			st.LastAggressor = pos
			if increment >= st.MinRaise {
				st.MinRaise = increment
				st.reopen(pos)
			}
			out.Aggressive = true
		}
		out.Paid = paid
		out.NewBet = p.Bet

	default:
		return nil, violate(CodeInvalidActionForState, "unknown action %d", act.Type)
	}

	p.Acted = true
	out.AllIn = p.AllIn
	st.settleTurn(pos, out)
	return out, nil
}

// commit moves chips from the stack into the street bet
func (st *State) commit(p *Player, amount int64) {
	p.Stack -= amount
	p.Bet += amount
	p.Committed += amount
	if p.Stack == 0 {
		p.AllIn = true
	}
}

// reopen clears acted flags after a full raise so everyone may act again
func (st *State) reopen(raiser int) {
	for pos, p := range st.Players {
		if pos != raiser {
			p.Acted = false
		}
	}
}

// settleTurn decides what follows an applied action: the hand ending by
// folds, the round completing, or the action moving on.
func (st *State) settleTurn(pos int, out *Outcome) {
	if st.countUnfolded() <= 1 {
		out.HandComplete = true
		out.RoundComplete = true
		st.ActionOn = -1
		out.NextToAct = -1
		return
	}
	if st.roundComplete() {
		out.RoundComplete = true
		st.ActionOn = -1
		out.NextToAct = -1
		return
	}
	st.ActionOn = st.nextActive(pos + 1)
	out.NextToAct = st.ActionOn
}

// roundComplete reports whether the betting round is closed: every player
// who can still act has acted since the last full raise and matched the
// current bet, or too few players remain to bet.
func (st *State) roundComplete() bool {
	var lone *Player
	active := 0
	for _, p := range st.Players {
		if p.CanAct() {
			active++
			lone = p
		}
	}
	if active == 0 {
		return true
	}
	if active == 1 {
		return lone.Bet == st.CurrentBet
	}
	for _, p := range st.Players {
		if p.CanAct() && (!p.Acted || p.Bet != st.CurrentBet) {
			return false
		}
	}
	return true
}

// RoundComplete reports whether the current betting round is closed
func (st *State) RoundComplete() bool {
	return st.roundComplete()
}

// HandCompleteByFolds reports whether at most one player remains unfolded
func (st *State) HandCompleteByFolds() bool {
	return st.countUnfolded() <= 1
}

// LastUnfolded returns the only unfolded position, or -1 if several remain
func (st *State) LastUnfolded() int {
	last := -1
	for pos, p := range st.Players {
		if !p.Folded {
			if last >= 0 {
				return -1
			}
			last = pos
		}
	}
	return last
}

// AdvanceStreet moves to the next street and resets the betting round.
// The caller deals community cards. ActionOn lands on the first player
// who can act left of the button, or -1 when no betting is possible.
func (st *State) AdvanceStreet() Street {
	for _, p := range st.Players {
		p.Bet = 0
		p.Acted = false
	}
	st.CurrentBet = 0
	st.MinRaise = st.BigBlind
	st.ActionOn = -1
	st.Street++
	if st.Street < Showdown {
		st.LastAggressor = -1
		if st.countActive() >= 2 {
			st.ActionOn = st.nextActive(st.Button + 1)
		}
	}
	return st.Street
}

// ForceFold folds a player immediately regardless of turn order. Used for
// action timeouts and expired disconnect grace periods. Returns nil when
// the player is already out of the hand or all-in; an all-in hand has no
// pending action and still contests showdown.
func (st *State) ForceFold(pos int) *Outcome {
	if pos < 0 || pos >= len(st.Players) {
		return nil
	}
	p := st.Players[pos]
	if p.Folded || p.AllIn {
		return nil
	}
	p.Folded = true
	p.Acted = true

	out := &Outcome{Pos: pos, PlayerID: p.ID, Action: Fold, NewBet: p.Bet}
	if pos == st.ActionOn {
		st.settleTurn(pos, out)
		return out
	}
	if st.countUnfolded() <= 1 {
		out.HandComplete = true
		out.RoundComplete = true
		st.ActionOn = -1
	}
	out.NextToAct = st.ActionOn
	return out
}

// Prompt describes the legal actions for the player on action
type Prompt struct {
	Pos        int          `json:"-"`
	PlayerID   string       `json:"player_id"`
	Actions    []ActionType `json:"actions"`
	ToCall     int64        `json:"to_call"`
	MinRaiseTo int64        `json:"min_raise_to,omitempty"`
	MaxRaiseTo int64        `json:"max_raise_to,omitempty"`
}

// Prompt returns the action menu for the current player, or nil when no
// action is pending
func (st *State) Prompt() *Prompt {
	if st.ActionOn < 0 || st.Street >= Showdown {
		return nil
	}
	p := st.Players[st.ActionOn]
	pr := &Prompt{Pos: st.ActionOn, PlayerID: p.ID, Actions: []ActionType{Fold}}

	toCall := st.CurrentBet - p.Bet
	maxTo := p.Bet + p.Stack
	switch {
	case toCall == 0:
		pr.Actions = append(pr.Actions, Check)
	case toCall > 0:
		pr.Actions = append(pr.Actions, Call)
		pr.ToCall = min(toCall, p.Stack)
	}

	canRaise := false
	if st.CurrentBet == 0 && p.Stack > 0 {
		pr.Actions = append(pr.Actions, Bet)
		canRaise = true
		pr.MinRaiseTo = min(st.BigBlind, maxTo)
	} else if st.CurrentBet > 0 && !p.Acted && p.Stack > toCall {
		pr.Actions = append(pr.Actions, Raise)
		canRaise = true
		pr.MinRaiseTo = min(st.CurrentBet+st.MinRaise, maxTo)
	}
	if canRaise {
		pr.MaxRaiseTo = maxTo
	}
	if p.Stack > 0 {
		pr.Actions = append(pr.Actions, AllIn)
	}
	return pr
}

// VoidRefund returns every player's committed chips to their stack.
// Used when an integrity failure voids the hand.
func (st *State) VoidRefund() {
	for _, p := range st.Players {
		p.Stack += p.Committed
		p.Committed = 0
		p.Bet = 0
		if p.Stack > 0 {
			p.AllIn = false
		}
	}
	st.ActionOn = -1
}
