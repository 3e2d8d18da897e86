// Package store is a small typed parameter table with batched change
// notification, the surface an embedding control framework binds its
// records to. Writes accumulate silently; Flush delivers everything that
// changed since the previous Flush to the subscribers in one batch.
package store

import "sync"

// Change is one parameter update inside a notification batch.
type Change struct {
	Name  string
	Value interface{}
}

// Store holds named parameters of int, float, bool and string type.
// Parameter names are a flat namespace shared across types.
type Store struct {
	mu      sync.Mutex
	ints    map[string]int64
	floats  map[string]float64
	bools   map[string]bool
	strings map[string]string

	pending []Change
	subs    []func([]Change)
}

func New() *Store {
	return &Store{
		ints:    make(map[string]int64),
		floats:  make(map[string]float64),
		bools:   make(map[string]bool),
		strings: make(map[string]string),
	}
}

// Subscribe registers fn to receive every future notification batch.
func (s *Store) Subscribe(fn func([]Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) SetInt(name string, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.ints[name]; ok && old == value {
		return
	}
	s.ints[name] = value
	s.pending = append(s.pending, Change{name, value})
}

func (s *Store) Int(name string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.ints[name]
	return v, ok
}

func (s *Store) SetFloat(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.floats[name]; ok && old == value {
		return
	}
	s.floats[name] = value
	s.pending = append(s.pending, Change{name, value})
}

func (s *Store) Float(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.floats[name]
	return v, ok
}

func (s *Store) SetBool(name string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.bools[name]; ok && old == value {
		return
	}
	s.bools[name] = value
	s.pending = append(s.pending, Change{name, value})
}

func (s *Store) Bool(name string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.bools[name]
	return v, ok
}

func (s *Store) SetString(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.strings[name]; ok && old == value {
		return
	}
	s.strings[name] = value
	s.pending = append(s.pending, Change{name, value})
}

func (s *Store) String(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.strings[name]
	return v, ok
}

// Flush delivers the accumulated changes to every subscriber and clears
// the batch. Subscribers run without the store lock held, so they may
// read back values.
func (s *Store) Flush() {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	subs := make([]func([]Change), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	for _, fn := range subs {
		fn(batch)
	}
}
