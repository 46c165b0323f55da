package engine

import "fmt"

// ViolationCode identifies which betting rule an action broke
type ViolationCode string

// Rule codes in validation order. The first failing rule is returned.
const (
	CodeNotYourTurn           ViolationCode = "not_your_turn"
	CodeWrongPhase            ViolationCode = "wrong_phase"
	CodeInvalidActionForState ViolationCode = "invalid_action"
	CodeInsufficientFunds     ViolationCode = "insufficient_funds"
	CodeBelowMinRaise         ViolationCode = "below_min_raise"
	CodeAmountNotPositive     ViolationCode = "amount_not_positive"
	CodeAmountExceedsStack    ViolationCode = "amount_exceeds_stack"
)

// Violation is a rule rejection. It never mutates state and is reported
// only to the offending player, never broadcast.
type Violation struct {
	Code ViolationCode
	Msg  string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Msg)
}

func violate(code ViolationCode, format string, args ...any) *Violation {
	return &Violation{Code: code, Msg: fmt.Sprintf(format, args...)}
}
