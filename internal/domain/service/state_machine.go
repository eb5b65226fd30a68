package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LoopState represents the discrete states of one agentic run.
type LoopState string

const (
	StatePlanning  LoopState = "planning"  // Awaiting the next model turn
	StateParsing   LoopState = "parsing"   // Interpreting the model response
	StateExecuting LoopState = "executing" // Running requested tool calls
	StateDone      LoopState = "done"      // Final answer produced
	StateError     LoopState = "error"     // Terminated with error
	StateAborted   LoopState = "aborted"   // Cancelled by the caller
)

// validTransitions defines the allowed state transitions.
// Key = from state, value = set of allowed target states.
var validTransitions = map[LoopState]map[LoopState]bool{
	StatePlanning: {
		StateParsing: true,
		StateError:   true,
		StateAborted: true,
	},
	StateParsing: {
		StateExecuting: true,
		StateDone:      true,
		StateError:     true,
		StateAborted:   true,
	},
	StateExecuting: {
		StatePlanning: true, // next model turn consumes the tool output
		StateDone:     true, // turn budget exhausted
		StateError:    true,
		StateAborted:  true,
	},
	// Terminal states, no transitions out.
	StateDone:    {},
	StateError:   {},
	StateAborted: {},
}

// RunSnapshot captures a run's progress at a point in time.
type RunSnapshot struct {
	State         LoopState     `json:"state"`
	Turn          int           `json:"turn"`
	MaxTurns      int           `json:"max_turns"`
	ToolsExecuted int           `json:"tools_executed"`
	ErrorCount    int           `json:"error_count"`
	Elapsed       time.Duration `json:"elapsed"`
	LastTool      string        `json:"last_tool,omitempty"`
}

// RunStateMachine tracks one agentic run's state transitions.
// Safe for concurrent readers.
type RunStateMachine struct {
	mu            sync.RWMutex
	state         LoopState
	turn          int
	maxTurns      int
	toolsExecuted int
	errorCount    int
	startTime     time.Time
	lastTool      string
	logger        *zap.Logger

	listeners []func(from, to LoopState, snap RunSnapshot)
}

// NewRunStateMachine creates a state machine starting in Planning.
func NewRunStateMachine(maxTurns int, logger *zap.Logger) *RunStateMachine {
	return &RunStateMachine{
		state:     StatePlanning,
		maxTurns:  maxTurns,
		startTime: time.Now(),
		logger:    logger,
	}
}

// State returns the current state.
func (sm *RunStateMachine) State() LoopState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Snapshot returns a copy of the current run state.
func (sm *RunStateMachine) Snapshot() RunSnapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snapshotLocked()
}

func (sm *RunStateMachine) snapshotLocked() RunSnapshot {
	return RunSnapshot{
		State:         sm.state,
		Turn:          sm.turn,
		MaxTurns:      sm.maxTurns,
		ToolsExecuted: sm.toolsExecuted,
		ErrorCount:    sm.errorCount,
		Elapsed:       time.Since(sm.startTime),
		LastTool:      sm.lastTool,
	}
}

// Transition attempts to move to a new state. Returns an error when the
// transition is not allowed.
func (sm *RunStateMachine) Transition(to LoopState) error {
	sm.mu.Lock()
	from := sm.state

	allowed, ok := validTransitions[from]
	if !ok || !allowed[to] {
		sm.mu.Unlock()
		err := fmt.Errorf("invalid state transition: %s to %s", from, to)
		sm.logger.Error("State machine violation", zap.Error(err))
		return err
	}

	sm.state = to
	snap := sm.snapshotLocked()
	listeners := make([]func(from, to LoopState, snap RunSnapshot), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	sm.logger.Debug("State transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("turn", snap.Turn),
	)

	// Notify listeners outside the lock.
	for _, fn := range listeners {
		fn(from, to, snap)
	}
	return nil
}

// OnTransition registers a listener called on every state change.
func (sm *RunStateMachine) OnTransition(fn func(from, to LoopState, snap RunSnapshot)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// SetTurn updates the current turn counter.
func (sm *RunStateMachine) SetTurn(turn int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.turn = turn
}

// RecordToolExec records one tool execution.
func (sm *RunStateMachine) RecordToolExec(toolName string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.toolsExecuted++
	sm.lastTool = toolName
}

// RecordError increments the error counter.
func (sm *RunStateMachine) RecordError() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.errorCount++
}

// IsTerminal reports whether the run has finished.
func (sm *RunStateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	switch sm.state {
	case StateDone, StateError, StateAborted:
		return true
	}
	return false
}
