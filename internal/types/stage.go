package types

// Stage is the phase a conversation is in. It is advanced only by the
// conversation pipeline.
type Stage string

const (
	StageGreeting     Stage = "GREETING"
	StageCategorizing Stage = "CATEGORIZING"
	StageCollecting   Stage = "COLLECTING"
	StageResolved     Stage = "RESOLVED"
	StageReopened     Stage = "REOPENED"
)

// transitions lists the stages reachable from each stage. Staying in the
// same stage is always allowed and not listed.
var transitions = map[Stage][]Stage{
	StageGreeting:     {StageCategorizing},
	StageCategorizing: {StageCollecting},
	StageCollecting:   {StageResolved, StageCategorizing},
	StageResolved:     {StageReopened},
	StageReopened:     {StageCategorizing, StageCollecting},
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s Stage) CanTransition(next Stage) bool {
	if s == next {
		return s.Valid()
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StagePath records the stages one turn walked through, starting with the
// stage the session was in before the turn.
type StagePath []Stage

// Advance appends next to the path unless it would repeat the current stage.
// It panics on a transition the state machine does not allow, which can only
// happen through a programming error in the pipeline.
func (p *StagePath) Advance(next Stage) {
	path := *p
	if len(path) == 0 {
		*p = append(path, next)
		return
	}
	current := path[len(path)-1]
	if current == next {
		return
	}
	if !current.CanTransition(next) {
		panic("illegal stage transition " + string(current) + " -> " + string(next))
	}
	*p = append(path, next)
}

// Current returns the last stage of the path.
func (p StagePath) Current() Stage {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// String renders the path as "A→B→C".
func (p StagePath) String() string {
	out := ""
	for i, s := range p {
		if i > 0 {
			out += "→"
		}
		out += string(s)
	}
	return out
}
