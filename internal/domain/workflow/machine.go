package workflow

import (
	"context"
	"fmt"
)

// GuardFunc decides whether a configured transition may be taken.
type GuardFunc func(ctx context.Context) bool

// StateMachine tracks the current state of one item and validates transitions.
type StateMachine interface {
	State() State
	CanFire(trigger Trigger) bool
	Fire(ctx context.Context, trigger Trigger) error
	PermittedTriggers() []Trigger
}

// Builder collects transitions and produces independent machines.
type Builder struct {
	transitions map[State]map[Trigger][]transition
}

// StateConfiguration configures the outgoing transitions of one state.
type StateConfiguration struct {
	from    State
	builder *Builder
}

type transition struct {
	to    State
	guard GuardFunc
}

type machine struct {
	current     State
	transitions map[State]map[Trigger][]transition
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{transitions: make(map[State]map[Trigger][]transition)}
}

// Configure returns the configuration for state. It panics on unknown states.
func (b *Builder) Configure(state State) *StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if _, ok := b.transitions[state]; !ok {
		b.transitions[state] = make(map[Trigger][]transition)
	}
	return &StateConfiguration{from: state, builder: b}
}

// Permit allows trigger to move the machine to toState.
func (c *StateConfiguration) Permit(trigger Trigger, toState State) *StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

// PermitIf allows trigger to move the machine to toState when guard passes.
// Transitions for the same trigger are tried in registration order.
func (c *StateConfiguration) PermitIf(trigger Trigger, toState State, guard GuardFunc) *StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	byTrigger := c.builder.transitions[c.from]
	byTrigger[trigger] = append(byTrigger[trigger], transition{to: toState, guard: guard})
	return c
}

// Build returns a machine positioned at initial. Later changes to the builder
// do not affect machines already built.
func (b *Builder) Build(initial State) StateMachine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initial))
	}

	snapshot := make(map[State]map[Trigger][]transition, len(b.transitions))
	for state, byTrigger := range b.transitions {
		copied := make(map[Trigger][]transition, len(byTrigger))
		for trigger, ts := range byTrigger {
			copied[trigger] = append([]transition(nil), ts...)
		}
		snapshot[state] = copied
	}

	return &machine{current: initial, transitions: snapshot}
}

func (m *machine) State() State {
	return m.current
}

// CanFire ignores guards; it only reports whether a transition is configured.
func (m *machine) CanFire(trigger Trigger) bool {
	return len(m.transitions[m.current][trigger]) > 0
}

func (m *machine) Fire(ctx context.Context, trigger Trigger) error {
	ts := m.transitions[m.current][trigger]
	if len(ts) == 0 {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, m.current)
	}

	for _, t := range ts {
		if t.guard == nil || t.guard(ctx) {
			m.current = t.to
			return nil
		}
	}

	return fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, m.current)
}

func (m *machine) PermittedTriggers() []Trigger {
	byTrigger := m.transitions[m.current]
	triggers := make([]Trigger, 0, len(byTrigger))
	for trigger := range byTrigger {
		triggers = append(triggers, trigger)
	}
	return triggers
}
