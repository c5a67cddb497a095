package protocol

import (
	"github.com/fun-euchre/server/internal/euchre"
	"github.com/fun-euchre/server/internal/lobby"
)

// Ordering is the per-room sequence stamp assigned by the broker.
type Ordering struct {
	Sequence    uint64 `json:"sequence"`
	EmittedAtMs int64  `json:"emittedAtMs"`
}

// Event is the server-to-client envelope.
type Event struct {
	Version  int       `json:"version"`
	Type     string    `json:"type"`
	Ordering *Ordering `json:"ordering,omitempty"`
	Payload  any       `json:"payload"`
}

// RejectedPayload reports a refused command.
type RejectedPayload struct {
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NoticePayload is an out-of-band server message.
type NoticePayload struct {
	Severity string `json:"severity"` // info, warning, error
	Message  string `json:"message"`
}

// ReadyPayload greets a freshly upgraded realtime connection.
type ReadyPayload struct {
	SessionID string `json:"sessionId"`
}

// SubscribedPayload confirms room subscriptions.
type SubscribedPayload struct {
	RequestID string   `json:"requestId"`
	Rooms     []string `json:"rooms"`
}

// LobbyStateEvent projects a lobby state.
func LobbyStateEvent(st lobby.State) Event {
	return Event{Version: Version, Type: TypeLobbyState, Payload: st.Clone()}
}

// ActionRejected builds an action.rejected event.
func ActionRejected(requestID, code, message string) Event {
	return Event{Version: Version, Type: TypeActionRejected, Payload: RejectedPayload{
		RequestID: requestID,
		Code:      code,
		Message:   message,
	}}
}

// SystemNotice builds a system.notice event.
func SystemNotice(severity, message string) Event {
	return Event{Version: Version, Type: TypeSystemNotice, Payload: NoticePayload{
		Severity: severity,
		Message:  message,
	}}
}

// WSReady builds the realtime greeting event.
func WSReady(sessionID string) Event {
	return Event{Version: Version, Type: TypeWSReady, Payload: ReadyPayload{SessionID: sessionID}}
}

// WSSubscribed confirms a subscribe request.
func WSSubscribed(requestID string, rooms []string) Event {
	return Event{Version: Version, Type: TypeWSSubscribed, Payload: SubscribedPayload{
		RequestID: requestID,
		Rooms:     append([]string(nil), rooms...),
	}}
}

// RejectEvent flattens a rules-engine reject into action.rejected. The
// MUST_FOLLOW_SUIT subcode collapses to INVALID_ACTION here.
func RejectEvent(requestID string, rej *euchre.Reject) Event {
	return ActionRejected(requestID, rej.Code, rej.Message)
}

// CloneEvent returns a structurally independent copy of an event. Sinks
// receive clones so no consumer can mutate another's view.
func CloneEvent(e Event) Event {
	out := e
	if e.Ordering != nil {
		o := *e.Ordering
		out.Ordering = &o
	}
	switch p := e.Payload.(type) {
	case lobby.State:
		out.Payload = p.Clone()
	case GameStatePayload:
		out.Payload = p.clone()
	case PrivateStatePayload:
		out.Payload = p.clone()
	case SubscribedPayload:
		p.Rooms = append([]string(nil), p.Rooms...)
		out.Payload = p
	case RejectedPayload, NoticePayload, ReadyPayload:
		// value types without references
	}
	return out
}
