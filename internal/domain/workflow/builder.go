package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc evaluates whether a transition should be allowed for a workflow
type GuardFunc func(ctx context.Context, wf *Workflow) bool

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build freezes the configuration into a state machine with the given initial state
	Build(initialState State) StateMachine
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows an event to transition to the target state
	Permit(event EventType, toState State) StateConfiguration

	// PermitIf allows an event to transition to the target state if the guard passes
	PermitIf(event EventType, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	toState State
	guard   GuardFunc
}

type stateConfig struct {
	fromState   State
	transitions map[EventType][]transition
}

type stateMachineBuilder struct {
	configurations map[State]*stateConfig
}

type stateMachine struct {
	initialState   State
	configurations map[State]*stateConfig
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[State]*stateConfig),
	}
}

// Configure returns a state configuration for the given state
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			fromState:   state,
			transitions: make(map[EventType][]transition),
		}
		b.configurations[state] = config
	}

	return config
}

// Build copies the configuration so later builder changes cannot leak into the machine
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	configsCopy := make(map[State]*stateConfig, len(b.configurations))
	for state, config := range b.configurations {
		transitionsCopy := make(map[EventType][]transition, len(config.transitions))
		for event, transitions := range config.transitions {
			transitionsCopy[event] = append([]transition{}, transitions...)
		}
		configsCopy[state] = &stateConfig{
			fromState:   state,
			transitions: transitionsCopy,
		}
	}

	return &stateMachine{
		initialState:   initialState,
		configurations: configsCopy,
	}
}

// Permit allows an event to transition to the target state
func (c *stateConfig) Permit(event EventType, toState State) StateConfiguration {
	return c.PermitIf(event, toState, nil)
}

// PermitIf allows an event to transition to the target state if the guard passes
func (c *stateConfig) PermitIf(event EventType, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	if !event.IsValid() {
		panic(fmt.Sprintf("invalid event type: %s", event))
	}

	c.transitions[event] = append(c.transitions[event], transition{
		toState: toState,
		guard:   guard,
	})

	return c
}

// InitialState returns the state new workflows start in
func (m *stateMachine) InitialState() State {
	return m.initialState
}

// CanFire returns true if any transition exists for the event; guards are not evaluated
func (m *stateMachine) CanFire(state State, event EventType) bool {
	config, exists := m.configurations[state]
	if !exists {
		return false
	}
	return len(config.transitions[event]) > 0
}

// Fire returns the target state of the first transition whose guard passes
func (m *stateMachine) Fire(ctx context.Context, wf *Workflow, event EventType) (State, error) {
	from := wf.CurrentState

	config, exists := m.configurations[from]
	if !exists {
		return from, fmt.Errorf("%w: cannot fire %s from state %s (no configuration)", ErrInvalidTransition, event, from)
	}

	transitions := config.transitions[event]
	if len(transitions) == 0 {
		return from, fmt.Errorf("%w: cannot fire %s from state %s", ErrInvalidTransition, event, from)
	}

	for _, t := range transitions {
		if t.guard == nil || t.guard(ctx, wf) {
			return t.toState, nil
		}
	}

	return from, fmt.Errorf("%w: %w: %s from state %s with decision %s",
		ErrInvalidTransition, ErrGuardFailed, event, from, wf.Decision())
}

// PermittedEvents returns all events configured for the state in stable order
func (m *stateMachine) PermittedEvents(state State) []EventType {
	config, exists := m.configurations[state]
	if !exists {
		return []EventType{}
	}

	events := make([]EventType, 0, len(config.transitions))
	for event := range config.transitions {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })

	return events
}
