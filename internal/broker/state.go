package broker

// State is a step of the invocation pipeline
type State int

const (
	StateStart State = iota
	StateValidating
	StateCacheHit
	StateCacheMiss
	StateCompiling
	StateStamping
	StateLoading
	StateExecuting
	StateDone
	StateFaulted
)

var stateNames = map[State]string{
	StateStart:      "start",
	StateValidating: "validating",
	StateCacheHit:   "cache-hit",
	StateCacheMiss:  "cache-miss",
	StateCompiling:  "compiling",
	StateStamping:   "stamping",
	StateLoading:    "loading",
	StateExecuting:  "executing",
	StateDone:       "done",
	StateFaulted:    "faulted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "unknown"
}

// TransitionFunc observes state changes of an invocation
type TransitionFunc func(script string, from, to State)

// tracker holds the current state of one invocation
type tracker struct {
	script string
	state  State
	hook   TransitionFunc
}

func (t *tracker) to(next State) {
	prev := t.state
	t.state = next

	if t.hook != nil {
		t.hook(t.script, prev, next)
	}
}
