package tracker

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kwv/rigidreg/registration"
)

// StateTracker keeps the latest registration of every tool, the transform
// the next ICP run starts from, and a window of recent transforms that the
// filtered transform averages.
type StateTracker struct {
	mu        sync.RWMutex
	latest    map[string]*Registration
	current   map[string]registration.RigidTransform
	recent    map[string][]registration.RigidTransform
	colors    map[string]string // tool ID -> hex color
	window    int
	policy    registration.FilterPolicy
	cachePath string // JSON cache of the latest registrations; empty disables persistence
}

// NewStateTracker creates a tracker averaging the last window transforms
// of each tool with policy.
func NewStateTracker(window int, policy registration.FilterPolicy) *StateTracker {
	if window < 1 {
		window = 1
	}
	return &StateTracker{
		latest:  make(map[string]*Registration),
		current: make(map[string]registration.RigidTransform),
		recent:  make(map[string][]registration.RigidTransform),
		colors:  make(map[string]string),
		window:  window,
		policy:  policy,
	}
}

// NewStateTrackerWithCache creates a tracker that persists the latest
// registrations to cachePath. An existing cache is loaded on creation and
// its transforms seed both the ICP start and the filter window.
func NewStateTrackerWithCache(window int, policy registration.FilterPolicy, cachePath string) *StateTracker {
	st := NewStateTracker(window, policy)
	st.cachePath = cachePath
	if cachePath == "" {
		return st
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		return st
	}
	var cached map[string]*Registration
	if err := json.Unmarshal(data, &cached); err != nil {
		log.Printf("[STATE] Ignoring unreadable cache %s: %v", cachePath, err)
		return st
	}
	for id, reg := range cached {
		if reg == nil || !reg.Transform.IsValid() {
			continue
		}
		st.latest[id] = reg
		st.current[id] = reg.Transform
		st.recent[id] = []registration.RigidTransform{reg.Transform}
	}
	return st
}

// SetColor sets the display color of a tool
func (st *StateTracker) SetColor(toolID, hexColor string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.colors[toolID] = hexColor
}

// GetColor returns the display color of a tool, red by default
func (st *StateTracker) GetColor(toolID string) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if c := st.colors[toolID]; c != "" {
		return c
	}
	return "#FF0000"
}

// SetCurrent seeds the transform the next registration of toolID starts from
func (st *StateTracker) SetCurrent(toolID string, t registration.RigidTransform) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.current[toolID] = t
}

// Current returns the starting transform for the next registration of toolID
func (st *StateTracker) Current(toolID string) (registration.RigidTransform, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	t, ok := st.current[toolID]
	return t, ok
}

// Update stores reg as the latest registration of its tool. Converged
// results also become the next starting transform and enter the filter
// window.
func (st *StateTracker) Update(reg Registration) error {
	if reg.ToolID == "" {
		return fmt.Errorf("registration without tool ID")
	}

	st.mu.Lock()
	r := reg
	st.latest[reg.ToolID] = &r
	if reg.Converged && reg.Transform.IsValid() {
		st.current[reg.ToolID] = reg.Transform
		window := append(st.recent[reg.ToolID], reg.Transform)
		if len(window) > st.window {
			window = window[len(window)-st.window:]
		}
		st.recent[reg.ToolID] = window
	}
	snapshot := st.copyLatestLocked()
	cachePath := st.cachePath
	st.mu.Unlock()

	if cachePath == "" {
		return nil
	}
	return saveStateCache(cachePath, snapshot)
}

// Get returns a copy of the latest registration of toolID
func (st *StateTracker) Get(toolID string) (*Registration, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	reg, ok := st.latest[toolID]
	if !ok {
		return nil, false
	}
	r := *reg
	return &r, true
}

// GetRegistrations returns copies of all latest registrations
func (st *StateTracker) GetRegistrations() map[string]*Registration {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.copyLatestLocked()
}

// ToolIDs returns the IDs of tools with a registration, sorted
func (st *StateTracker) ToolIDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.latest))
	for id := range st.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Filtered averages the window of recent transforms of toolID
func (st *StateTracker) Filtered(toolID string) (registration.RigidTransform, error) {
	st.mu.RLock()
	window := append([]registration.RigidTransform(nil), st.recent[toolID]...)
	policy := st.policy
	st.mu.RUnlock()

	t, err := registration.Average(window, policy)
	if err != nil {
		return registration.RigidTransform{}, fmt.Errorf("filtering %s: %w", toolID, err)
	}
	return t, nil
}

func (st *StateTracker) copyLatestLocked() map[string]*Registration {
	result := make(map[string]*Registration, len(st.latest))
	for k, v := range st.latest {
		r := *v
		result[k] = &r
	}
	return result
}

func saveStateCache(path string, regs map[string]*Registration) error {
	data, err := json.MarshalIndent(regs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state cache: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating state cache dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing state cache: %w", err)
	}
	return os.Rename(tmp, path)
}
