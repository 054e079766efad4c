package common

import (
	"errors"
	"sort"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the view reports the module as halted.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is an in-memory PauseView toggled by governance.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]struct{}
}

func NewPauseSet(modules ...string) *PauseSet {
	set := &PauseSet{paused: make(map[string]struct{}, len(modules))}
	for _, module := range modules {
		set.paused[module] = struct{}{}
	}
	return set
}

func (s *PauseSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.paused[module]
	return ok
}

// SetPaused flips the halt flag for module and reports whether it changed.
func (s *PauseSet) SetPaused(module string, paused bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == nil {
		s.paused = make(map[string]struct{})
	}
	_, was := s.paused[module]
	if paused {
		s.paused[module] = struct{}{}
	} else {
		delete(s.paused, module)
	}
	return was != paused
}

// Modules lists the currently paused modules in lexical order.
func (s *PauseSet) Modules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.paused))
	for module := range s.paused {
		out = append(out, module)
	}
	sort.Strings(out)
	return out
}
