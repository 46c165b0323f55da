package table

import "time"

// Policy selects the recipients of an outbound envelope.
type Policy int

const (
	// ToAllAtTable reaches game and spectator subscribers.
	ToAllAtTable Policy = iota
	// ToPlayer reaches only the player named in To.
	ToPlayer
	// ToAllExcept reaches everyone at the table but the player in To.
	ToAllExcept
	// ToSpectators reaches spectator subscribers only.
	ToSpectators
)

// Envelope is one outbound message with its routing policy. Version is the
// table's state_version at emission; zero means the message carries no
// state (error replies). Broadcast payloads are already view-masked: hole
// cards appear only in ToPlayer envelopes or showdown reveals.
type Envelope struct {
	Table   string
	Version uint64
	Policy  Policy
	To      string // player id for ToPlayer / ToAllExcept
	Type    string
	Event   any
}

// Event payloads, serialized as the wire protocol's payload objects.

// SeatView is one seat as a given observer may see it.
type SeatView struct {
	Seat        int      `json:"seat"`
	PlayerID    string   `json:"player_id"`
	DisplayName string   `json:"display_name"`
	Stack       int64    `json:"stack"`
	Bet         int64    `json:"bet,omitempty"`
	Committed   int64    `json:"committed,omitempty"`
	Status      string   `json:"status"`
	HoleCards   []string `json:"hole_cards,omitempty"`
	LastAction  string   `json:"last_action,omitempty"`
}

// PotView is one pot layer for display.
type PotView struct {
	Amount   int64    `json:"amount"`
	Eligible []string `json:"eligible"`
}

// TableState is the full snapshot sent to joiners and stale reconnectors.
type TableState struct {
	TableID    string     `json:"table_id"`
	Name       string     `json:"name"`
	Version    uint64     `json:"version"`
	Phase      string     `json:"phase"`
	HandID     string     `json:"hand_id,omitempty"`
	HandNo     uint64     `json:"hand_no,omitempty"`
	Button     int        `json:"button_seat"`
	SmallBlind int64      `json:"small_blind"`
	BigBlind   int64      `json:"big_blind"`
	Seats      []SeatView `json:"seats"`
	Board      []string   `json:"board,omitempty"`
	Pots       []PotView  `json:"pots,omitempty"`
	ActionOn   string     `json:"action_on,omitempty"`
	CurrentBet int64      `json:"current_bet,omitempty"`
	Paused     bool       `json:"paused,omitempty"`
}

// GameUpdate is the per-step delta broadcast after state changes.
type GameUpdate struct {
	Phase      string     `json:"phase"`
	Seats      []SeatView `json:"seats"`
	Pot        int64      `json:"pot"`
	Board      []string   `json:"board,omitempty"`
	CurrentBet int64      `json:"current_bet,omitempty"`
	ActionOn   string     `json:"action_on,omitempty"`
}

// HandStarted announces a new hand with the deck commitment players can
// audit after the seed reveal.
type HandStarted struct {
	HandID         string     `json:"hand_id"`
	HandNo         uint64     `json:"hand_no"`
	ButtonSeat     int        `json:"button_seat"`
	SmallBlind     int64      `json:"small_blind"`
	BigBlind       int64      `json:"big_blind"`
	Players        []SeatView `json:"players"`
	DeckCommitment string     `json:"deck_commitment"`
}

// CardsDealt delivers hole cards to their owner or community cards to all.
type CardsDealt struct {
	HandID    string   `json:"hand_id"`
	HoleCards []string `json:"hole_cards,omitempty"` // ToPlayer only
	Community []string `json:"community,omitempty"`
	Street    string   `json:"street,omitempty"`
}

// ActionRequired tells the table whose turn it is and the menu they hold.
type ActionRequired struct {
	HandID     string    `json:"hand_id"`
	PlayerID   string    `json:"player_id"`
	Deadline   time.Time `json:"deadline"`
	Actions    []string  `json:"actions"`
	ToCall     int64     `json:"to_call,omitempty"`
	MinRaiseTo int64     `json:"min_raise_to,omitempty"`
	MaxRaiseTo int64     `json:"max_raise_to,omitempty"`
}

// ActionTaken reports an applied action, including forced folds and blinds.
type ActionTaken struct {
	HandID   string `json:"hand_id"`
	PlayerID string `json:"player_id"`
	Action   string `json:"action"`
	Paid     int64  `json:"paid,omitempty"`
	Bet      int64  `json:"bet,omitempty"`
	Stack    int64  `json:"stack"`
	Pot      int64  `json:"pot"`
	AllIn    bool   `json:"all_in,omitempty"`
	Forced   bool   `json:"forced,omitempty"`
	Street   string `json:"street"`
}

// PhaseChanged reports a street or lifecycle transition.
type PhaseChanged struct {
	HandID string   `json:"hand_id,omitempty"`
	Phase  string   `json:"phase"`
	Board  []string `json:"board,omitempty"`
}

// ShownHand is one revealed hand at showdown.
type ShownHand struct {
	PlayerID  string   `json:"player_id"`
	HoleCards []string `json:"hole_cards"`
	Best5     []string `json:"best_five"`
	Rank      string   `json:"rank"`
}

// PotResult is one pot layer's payout.
type PotResult struct {
	Amount  int64            `json:"amount"`
	Winners map[string]int64 `json:"winners"` // player id -> share
}

// ShowdownResult closes a hand. Hands is empty when the pot was awarded
// uncontested; SeedReveal lets clients verify the shuffle commitment.
type ShowdownResult struct {
	HandID      string      `json:"hand_id"`
	Board       []string    `json:"board,omitempty"`
	Hands       []ShownHand `json:"hands,omitempty"`
	Pots        []PotResult `json:"pots"`
	Stacks      []SeatView  `json:"stacks"`
	SeedReveal  string      `json:"seed_reveal,omitempty"`
	Uncontested bool        `json:"uncontested,omitempty"`
}

// ChatMessage relays table chat.
type ChatMessage struct {
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sent_at"`
}

// PlayerDisconnected marks a seated player's session loss and the grace
// deadline before they are folded out.
type PlayerDisconnected struct {
	PlayerID string    `json:"player_id"`
	Deadline time.Time `json:"deadline,omitempty"`
	Expired  bool      `json:"expired,omitempty"`
}

// PlayerReconnected clears a disconnect.
type PlayerReconnected struct {
	PlayerID string `json:"player_id"`
}

// ErrorEvent is a typed error reply to one player.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Wire type names for every event the actor emits.
const (
	TypeTableState         = "table_state"
	TypeGameUpdate         = "game_update"
	TypeHandStarted        = "hand_started"
	TypeCardsDealt         = "cards_dealt"
	TypeActionRequired     = "action_required"
	TypeActionTaken        = "action_taken"
	TypePhaseChanged       = "phase_changed"
	TypeShowdown           = "showdown"
	TypeChatMessage        = "chat_message"
	TypePlayerDisconnected = "player_disconnected"
	TypePlayerReconnected  = "player_reconnected"
	TypeError              = "error"
)
