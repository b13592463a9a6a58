// Package statemachine is the reusable transition validator behind every
// entity lifecycle in the platform. Tables are declarative; the kernel never
// auto-transitions — callers submit each step explicitly and get a hard error
// for anything outside the table, including any move out of a terminal state.
package statemachine

import "fmt"

// State is an entity lifecycle state.
type State string

// Machine is a named transition table. A state with no outgoing transitions
// is terminal.
type Machine struct {
	Entity      string
	Transitions map[State][]State
}

// InvalidTransitionError reports a transition outside the declared table.
type InvalidTransitionError struct {
	Entity string
	From   State
	To     State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Entity, e.From, e.To)
}

// Validate checks a single transition against the table.
func (m *Machine) Validate(from, to State) error {
	for _, next := range m.Transitions[from] {
		if next == to {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: m.Entity, From: from, To: to}
}

// IsTerminal reports whether s has no outgoing transitions.
func (m *Machine) IsTerminal(s State) bool {
	return len(m.Transitions[s]) == 0
}

// CanReach reports whether any path exists from from to to.
func (m *Machine) CanReach(from, to State) bool {
	if from == to {
		return true
	}
	seen := map[State]bool{from: true}
	queue := []State{from}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, next := range m.Transitions[s] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
