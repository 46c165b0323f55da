package engine

import "fmt"

// ActionType enumerates the player actions the engine accepts
type ActionType uint8

const (
	Fold ActionType = iota
	Check
	Call
	Bet
	Raise
	AllIn
)

// String returns the wire name of the action
func (a ActionType) String() string {
	switch a {
	case Fold:
		return "fold"
	case Check:
		return "check"
	case Call:
		return "call"
	case Bet:
		return "bet"
	case Raise:
		return "raise"
	case AllIn:
		return "all_in"
	default:
		return "unknown"
	}
}

// ParseActionType parses a wire action name
func ParseActionType(s string) (ActionType, error) {
	switch s {
	case "fold":
		return Fold, nil
	case "check":
		return Check, nil
	case "call":
		return Call, nil
	case "bet":
		return Bet, nil
	case "raise":
		return Raise, nil
	case "all_in":
		return AllIn, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}

// Action is a typed player action. Amount is the total bet level for
// raises ("raise to"), and the chips wagered for bets. Fold, check, call,
// and all-in ignore it.
type Action struct {
	Type   ActionType
	Amount int64
}

// MarshalText implements encoding.TextMarshaler for ActionType
func (a ActionType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for ActionType
func (a *ActionType) UnmarshalText(text []byte) error {
	parsed, err := ParseActionType(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
