package coordinator

import "fmt"

// State is the negotiation state of the client.
type State int

const (
	// Idle: no session and no signaling channel.
	Idle State = iota
	// AwaitingMatch: connected to the matching server, no session id yet.
	AwaitingMatch
	// Negotiating: session id and role known, descriptions in flight.
	Negotiating
	// Connected: remote description set and media or connectivity observed.
	Connected
	// Terminating: the current session is being torn down.
	Terminating
)

var stateNames = [...]string{
	Idle:          "idle",
	AwaitingMatch: "awaiting-match",
	Negotiating:   "negotiating",
	Connected:     "connected",
	Terminating:   "terminating",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is the user-facing summary of State.
type Status int

const (
	StatusIdle Status = iota
	StatusSearching
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusSearching:
		return "Searching"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	default:
		return "Idle"
	}
}

// status maps a state to what the user sees. Terminating is transient and
// has no status of its own.
func (s State) status() (Status, bool) {
	switch s {
	case Idle:
		return StatusIdle, true
	case AwaitingMatch:
		return StatusSearching, true
	case Negotiating:
		return StatusConnecting, true
	case Connected:
		return StatusConnected, true
	default:
		return 0, false
	}
}
