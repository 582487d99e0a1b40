package workflow

// State is a step of one generation run.
type State string

const (
	StateComposing  State = "composing"
	StateGenerating State = "generating"
	StateEvaluating State = "evaluating"
	StateRetrying   State = "retrying"
	StateAccepted   State = "accepted"
	StateExhausted  State = "exhausted"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateExhausted || s == StateCancelled
}

var allowed = map[State][]State{
	StateComposing:  {StateGenerating, StateExhausted},
	StateGenerating: {StateEvaluating, StateRetrying, StateExhausted},
	StateEvaluating: {StateAccepted, StateRetrying, StateExhausted},
	StateRetrying:   {StateGenerating, StateExhausted},
}

// CanTransition reports whether from -> to is a legal edge. Cancellation is
// legal from any non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateCancelled {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is reported to the Observer on every state change.
type Transition struct {
	GenerationID string
	From         State
	To           State
	Attempt      int
	Reason       string
}
