package core

import (
	"errors"
	"sync"

	"github.com/chewxy/math32"

	"gopilot/flight"
)

var (
	ErrUnknownParam = errors.New("unknown parameter")
	ErrInvalidValue = errors.New("parameter value is not finite")
)

// param is one named tuning value
type param struct {
	name  string
	def   float32
	value float32
}

// ParamStore is the firmware's registry of named tuning values. Handles are
// stable for the life of the store, so readers resolve names once.
type ParamStore struct {
	mu     sync.RWMutex
	params []param
	byName map[string]flight.ParamHandle
}

var globalParams = NewParamStore()

// NewParamStore creates an empty store
func NewParamStore() *ParamStore {
	return &ParamStore{
		byName: make(map[string]flight.ParamHandle),
	}
}

// Define registers a parameter with its default value and returns its
// handle. Defining an existing name returns the existing handle unchanged.
func (s *ParamStore) Define(name string, def float32) flight.ParamHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.byName[name]; ok {
		return h
	}
	h := flight.ParamHandle(len(s.params))
	s.params = append(s.params, param{name: name, def: def, value: def})
	s.byName[name] = h
	return h
}

// Find resolves a name, returning flight.InvalidParam if it is not defined
func (s *ParamStore) Find(name string) flight.ParamHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.byName[name]; ok {
		return h
	}
	return flight.InvalidParam
}

// Get reads the current value behind h
func (s *ParamStore) Get(h flight.ParamHandle) (float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.valid(h) {
		return 0, false
	}
	return s.params[h].value, true
}

// Set changes the value behind h. Invalid handles and non-finite values are
// rejected.
func (s *ParamStore) Set(h flight.ParamHandle, v float32) bool {
	if math32.IsNaN(v) || math32.IsInf(v, 0) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(h) {
		return false
	}
	s.params[h].value = v
	return true
}

// SetByName changes a value by parameter name
func (s *ParamStore) SetByName(name string, v float32) error {
	h := s.Find(name)
	if !h.Valid() {
		return ErrUnknownParam
	}
	if !s.Set(h, v) {
		return ErrInvalidValue
	}
	return nil
}

// Name returns the name registered for h
func (s *ParamStore) Name(h flight.ParamHandle) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.valid(h) {
		return ""
	}
	return s.params[h].name
}

// Default returns the value h was defined with
func (s *ParamStore) Default(h flight.ParamHandle) (float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.valid(h) {
		return 0, false
	}
	return s.params[h].def, true
}

// ResetDefaults restores every parameter to its defined default
func (s *ParamStore) ResetDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.params {
		s.params[i].value = s.params[i].def
	}
}

// Names lists parameter names in handle order
func (s *ParamStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.name
	}
	return names
}

// Count returns the number of defined parameters
func (s *ParamStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.params)
}

// valid must be called with the lock held
func (s *ParamStore) valid(h flight.ParamHandle) bool {
	return h.Valid() && int(h) < len(s.params)
}

// DefineParam registers a parameter in the global store
func DefineParam(name string, def float32) flight.ParamHandle {
	return globalParams.Define(name, def)
}

// GetGlobalParams returns the global parameter store
func GetGlobalParams() *ParamStore {
	return globalParams
}
