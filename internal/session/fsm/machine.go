package fsm

import (
	"fmt"
	"sync"
)

// State describes the connection state of a client session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateReconnecting is reported by Status while a retry is pending.
	// The machine itself rests in StateDisconnected between attempts.
	StateReconnecting State = "reconnecting"
)

// Machine is a lightweight deterministic connection state machine.
// It is written by a single owner and may be read from any goroutine.
type Machine struct {
	mu       sync.RWMutex
	state    State
	retrying bool
	terminal bool
}

// New creates a state machine in the disconnected state.
func New() *Machine {
	return &Machine{state: StateDisconnected}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns the state shown to users: reconnecting while disconnected
// with a retry pending, otherwise the state.
func (m *Machine) Status() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateDisconnected && m.retrying {
		return StateReconnecting
	}
	return m.state
}

// Terminal reports whether the machine was shut down.
func (m *Machine) Terminal() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.terminal
}

// OnConnect enters connecting. It fails unless the machine is disconnected.
func (m *Machine) OnConnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal {
		return fmt.Errorf("connect after shutdown")
	}
	if m.state != StateDisconnected {
		return fmt.Errorf("invalid transition %s -> %s", m.state, StateConnecting)
	}
	m.state = StateConnecting
	m.retrying = false
	return nil
}

// OnOpen marks the transport open.
func (m *Machine) OnOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnecting {
		return fmt.Errorf("invalid transition %s -> %s", m.state, StateConnected)
	}
	m.state = StateConnected
	return nil
}

// OnClose handles a read error, a close or a failed dial alike.
func (m *Machine) OnClose() {
	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
}

// OnRetryScheduled records that a reconnect timer is armed.
func (m *Machine) OnRetryScheduled() {
	m.mu.Lock()
	if !m.terminal {
		m.retrying = true
	}
	m.mu.Unlock()
}

// OnShutdown moves to the terminal disconnected state.
func (m *Machine) OnShutdown() {
	m.mu.Lock()
	m.state = StateDisconnected
	m.retrying = false
	m.terminal = true
	m.mu.Unlock()
}
