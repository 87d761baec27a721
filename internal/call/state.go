package call

// State is a step of the call lifecycle.
type State int

const (
	StateIdle State = iota
	StateAcquiringMedia
	StateConnectionReady
	StateOfferSent
	StateAnswerSent
	StateConnected
	StateFailed
	StateDisconnected
)

var stateNames = [...]string{
	StateIdle:            "idle",
	StateAcquiringMedia:  "acquiring-media",
	StateConnectionReady: "connection-ready",
	StateOfferSent:       "offer-sent",
	StateAnswerSent:      "answer-sent",
	StateConnected:       "connected",
	StateFailed:          "failed",
	StateDisconnected:    "disconnected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether nothing can follow s.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateDisconnected
}

// Every non-terminal state may also move to Failed or Disconnected.
var transitions = map[State][]State{
	StateIdle:            {StateAcquiringMedia},
	StateAcquiringMedia:  {StateConnectionReady},
	StateConnectionReady: {StateOfferSent, StateAnswerSent},
	StateOfferSent:       {StateConnected},
	StateAnswerSent:      {StateConnected},
}

// CanTransition reports whether the lifecycle allows moving from one state to
// another.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Role is decided when the relay confirms the join.
type Role string

const (
	RoleUnknown  Role = ""
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

func (r Role) String() string {
	if r == RoleUnknown {
		return "pending"
	}
	return string(r)
}
