package euchre

// Reject codes surfaced by the rules engine.
const (
	CodeNotYourTurn   = "NOT_YOUR_TURN"
	CodeInvalidAction = "INVALID_ACTION"
	CodeInvalidState  = "INVALID_STATE"

	// SubcodeMustFollowSuit refines INVALID_ACTION for follow-suit
	// violations. The game layer flattens it back to INVALID_ACTION.
	SubcodeMustFollowSuit = "MUST_FOLLOW_SUIT"
)

// Reject describes why a transition was refused. State is never mutated on
// a reject.
type Reject struct {
	Code    string
	Subcode string
	Message string
	Phase   Phase
	Action  string
}

// Result is the outcome of a pure transition: either the next state or a
// reject, never both.
type Result struct {
	OK     bool
	State  GameState
	Reject *Reject
}

func accepted(st GameState) Result {
	return Result{OK: true, State: st}
}

func rejected(code, message string, phase Phase, action string) Result {
	return Result{Reject: &Reject{Code: code, Message: message, Phase: phase, Action: action}}
}

func rejectedSub(code, subcode, message string, phase Phase, action string) Result {
	return Result{Reject: &Reject{Code: code, Subcode: subcode, Message: message, Phase: phase, Action: action}}
}
