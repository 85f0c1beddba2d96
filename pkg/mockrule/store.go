package mockrule

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a rule id is absent from the collection.
var ErrNotFound = errors.New("mock rule not found")

// Store is a thread-safe collection of mock rules.
//
// Mutations happen only through Create/Update/Delete; matching reads an
// atomic snapshot via Snapshot, so a rule added or removed mid-scan can
// never produce a partial view.
type Store struct {
	mu      sync.RWMutex
	rules   map[string]*Rule
	nextSeq uint64
}

// NewStore creates an empty rule collection.
func NewStore() *Store {
	return &Store{rules: make(map[string]*Rule)}
}

// Create validates and stores a new rule, assigning its id and creation
// order. The stored copy is returned.
func (s *Store) Create(r Rule) (*Rule, error) {
	if err := Validate(&r); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	} else if _, exists := s.rules[r.ID]; exists {
		return nil, fmt.Errorf("mock rule %s already exists", r.ID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.seq = s.nextSeq
	s.nextSeq++

	stored := r.Clone()
	s.rules[r.ID] = &stored
	out := stored.Clone()
	return &out, nil
}

// Update replaces the match and response specs of an existing rule.
// Identity and creation order are preserved so the specificity tie-break
// stays stable across edits.
func (s *Store) Update(id string, r Rule) (*Rule, error) {
	if err := Validate(&r); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[id]
	if !ok {
		return nil, ErrNotFound
	}

	r.ID = existing.ID
	r.CreatedAt = existing.CreatedAt
	r.seq = existing.seq
	stored := r.Clone()
	s.rules[id] = &stored
	out := stored.Clone()
	return &out, nil
}

// Delete removes a rule. Returns ErrNotFound if the id is absent.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

// Get returns a copy of a rule.
func (s *Store) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := r.Clone()
	return &out, nil
}

// Snapshot returns a deep copy of every rule in creation order. This is the
// view a matching scan runs against.
func (s *Store) Snapshot() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// List is Snapshot exposed as pointers for API handlers.
func (s *Store) List() []*Rule {
	snap := s.Snapshot()
	out := make([]*Rule, len(snap))
	for i := range snap {
		out[i] = &snap[i]
	}
	return out
}

// Count returns the number of stored rules.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Clear removes every rule.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make(map[string]*Rule)
}

// Import adds a batch of rules, keeping their relative order for the
// tie-break. When replace is true the collection is cleared first.
// Invalid rules are skipped; the number of rules stored is returned along
// with the per-rule errors.
func (s *Store) Import(rules []Rule, replace bool) (int, []error) {
	if replace {
		s.Clear()
	}
	var errs []error
	stored := 0
	for i := range rules {
		rules[i].ID = "" // imported rules get fresh ids
		if _, err := s.Create(rules[i]); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", rules[i].Name, err))
			continue
		}
		stored++
	}
	return stored, errs
}
