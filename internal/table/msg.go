package table

import (
	"errors"
	"time"

	"github.com/feltpoker/felt/internal/engine"
)

// Errors returned from Send and from message replies. The gateway maps
// these to wire error codes.
var (
	ErrBackpressure  = errors.New("table inbox full")
	ErrClosed        = errors.New("table closed")
	ErrTableFull     = errors.New("table full")
	ErrSeatTaken     = errors.New("seat taken")
	ErrAlreadySeated = errors.New("already seated")
	ErrInvalidBuyIn  = errors.New("buy-in outside table limits")
	ErrNotAtTable    = errors.New("player not at table")
	ErrInvalidSeat   = errors.New("seat index out of range")
)

// Msg is a message the actor consumes from its inbox. The set of variants
// is closed; the gateway constructs them after authentication, so player
// IDs here are always trusted.
type Msg interface{ isMsg() }

// Join seats a player with a buy-in. Reply receives nil or a typed error.
type Join struct {
	PlayerID    string
	DisplayName string
	SessionID   string
	Seat        int // -1 picks the first free seat
	BuyIn       int64
	Reply       chan<- error
}

// Leave unseats a player. Chips committed to a live hand stay in the pot;
// the remaining stack settles back to the player's wallet.
type Leave struct {
	PlayerID string
	Reply    chan<- error
}

// Sit toggles sitting out. Takes effect at the next hand.
type Sit struct {
	PlayerID string
	Out      bool
}

// PlayerAction is a betting action. ClientMsgID deduplicates retries.
type PlayerAction struct {
	PlayerID    string
	Action      engine.Action
	ClientMsgID string
}

// Chat relays a chat line to the table's chat channel.
type Chat struct {
	PlayerID    string
	DisplayName string
	Text        string
}

// Connect binds a live session to a player at this table.
type Connect struct {
	PlayerID  string
	SessionID string
}

// Disconnect reports a dead session. Ignored unless the session is the
// player's current binding.
type Disconnect struct {
	PlayerID  string
	SessionID string
}

// Reconnect binds a new session and replays broadcasts the client missed.
type Reconnect struct {
	PlayerID        string
	SessionID       string
	LastSeenVersion uint64
}

// Tick asks the actor to evaluate its deadlines against Now. Timer
// callbacks inject these; tests may send them directly.
type Tick struct {
	Now time.Time
}

// Admin commands: "pause", "resume", "close".
type Admin struct {
	Command string
	Reply   chan<- error
}

func (Join) isMsg()         {}
func (Leave) isMsg()        {}
func (Sit) isMsg()          {}
func (PlayerAction) isMsg() {}
func (Chat) isMsg()         {}
func (Connect) isMsg()      {}
func (Disconnect) isMsg()   {}
func (Reconnect) isMsg()    {}
func (Tick) isMsg()         {}
func (Admin) isMsg()        {}
