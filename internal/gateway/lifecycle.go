package gateway

import (
	"errors"
	"fmt"
	"sync"
)

var ErrLifecycleOrder = errors.New("gateway: invalid lifecycle transition")

// LifecyclePhase describes gateway runtime phase transitions.
type LifecyclePhase string

const (
	PhaseCreated  LifecyclePhase = "created"
	PhaseLoaded   LifecyclePhase = "loaded"
	PhaseServing  LifecyclePhase = "serving"
	PhaseDraining LifecyclePhase = "draining"
	PhaseStopped  LifecyclePhase = "stopped"
)

// lifecycle guards the phase of one Service.
type lifecycle struct {
	mu    sync.RWMutex
	phase LifecyclePhase
}

func newLifecycle() *lifecycle {
	return &lifecycle{phase: PhaseCreated}
}

func (l *lifecycle) Phase() LifecyclePhase {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.phase
}

// transition moves from -> to, failing when the current phase is not from.
func (l *lifecycle) transition(from, to LifecyclePhase) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != from {
		return transitionError(l.phase, to)
	}
	l.phase = to
	return nil
}

// advance moves forward to the given phase unless it was already reached.
func (l *lifecycle) advance(to LifecyclePhase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if phaseRank(l.phase) < phaseRank(to) {
		l.phase = to
	}
}

func phaseRank(p LifecyclePhase) int {
	switch p {
	case PhaseCreated:
		return 0
	case PhaseLoaded:
		return 1
	case PhaseServing:
		return 2
	case PhaseDraining:
		return 3
	case PhaseStopped:
		return 4
	}
	return -1
}

func transitionError(from, to LifecyclePhase) error {
	return fmt.Errorf("%w: %s -> %s", ErrLifecycleOrder, from, to)
}
