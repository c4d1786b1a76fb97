// Package session keeps the per-tab control surface state in memory.
package session

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

// State is the remembered control surface state of one tab.
type State struct {
	TabID           string           `json:"tab_id"`
	Code            string           `json:"code"`
	Tables          []tables.Summary `json:"tables"`
	SelectedTableID string           `json:"selected_table_id"`
	LastCSV         string           `json:"-"`
	HasCSV          bool             `json:"has_csv"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Key returns the storage key used for a tab.
func Key(tabID string) string { return "tab_" + tabID }

// Store is an in-memory map of tab states. The zero value is not usable;
// use NewStore.
type Store struct {
	mu     sync.RWMutex
	states map[string]State
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{states: make(map[string]State), now: time.Now}
}

func (s *Store) Get(tabID string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[Key(tabID)]
	return clone(st), ok
}

// Put replaces the state of a tab.
func (s *Store) Put(tabID string, st State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.TabID = tabID
	st.HasCSV = st.LastCSV != ""
	st.UpdatedAt = s.now()
	s.states[Key(tabID)] = clone(st)
	return clone(st)
}

// Update applies fn to the current state (zero State when absent) and
// stores the result.
func (s *Store) Update(tabID string, fn func(*State)) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := clone(s.states[Key(tabID)])
	fn(&st)
	st.TabID = tabID
	st.HasCSV = st.LastCSV != ""
	st.UpdatedAt = s.now()
	s.states[Key(tabID)] = st
	return clone(st)
}

// ClearTables drops the detected tables and the selection of a tab after a
// top-frame navigation. Code survives. Unknown tabs are left alone.
func (s *Store) ClearTables(tabID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[Key(tabID)]
	if !ok {
		return false
	}
	st.Tables = []tables.Summary{}
	st.SelectedTableID = ""
	st.UpdatedAt = s.now()
	s.states[Key(tabID)] = st
	return true
}

func (s *Store) Delete(tabID string) {
	s.mu.Lock()
	delete(s.states, Key(tabID))
	s.mu.Unlock()
}

// List returns all states ordered by tab ID.
func (s *Store) List() []State {
	s.mu.RLock()
	out := make([]State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, clone(st))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// clone copies Tables, keeping an empty non-nil slice non-nil so it still
// encodes as [].
func clone(st State) State {
	st.Tables = slices.Clone(st.Tables)
	return st
}
