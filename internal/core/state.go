package core

// State is a position in the per-item state machine.
type State string

// Item states. Done, Skipped and Failed are terminal.
const (
	StatePending      State = "pending"
	StateDownloading  State = "downloading"
	StateExtracting   State = "extracting"
	StateSynthesizing State = "synthesizing"
	StateComposing    State = "composing"
	StateDone         State = "done"
	StateSkipped      State = "skipped"
	StateFailed       State = "failed"
)

var transitions = map[State][]State{
	StatePending:      {StateDownloading, StateFailed},
	StateDownloading:  {StateExtracting, StateFailed},
	StateExtracting:   {StateSynthesizing, StateSkipped, StateFailed},
	StateSynthesizing: {StateComposing, StateFailed},
	StateComposing:    {StateDone, StateFailed},
}

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateSkipped || s == StateFailed
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}
