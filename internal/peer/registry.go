package peer

import (
	"sort"
	"sync"
	"time"
)

// Status is a peer's last-known connection state.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Info is everything the Registry knows about one peer.
type Info struct {
	ID            ID
	Addr          string
	Capabilities  []string
	Status        Status
	Latency       time.Duration
	QueueDepth    int
	Groups        map[string]struct{}
	LastSeen      time.Time
}

// Registry tracks known peers. Its single-RWMutex, name-keyed-map shape
// follows the same pattern used for the backend registry, applied to
// network peers instead of backends.
type Registry struct {
	mu    sync.RWMutex
	peers map[ID]*Info
}

// NewRegistry returns an empty peer Registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[ID]*Info)}
}

// Upsert registers or updates a peer's static info (address, capabilities).
func (r *Registry) Upsert(id ID, addr string, capabilities []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.peers[id]
	if !ok {
		info = &Info{ID: id, Groups: make(map[string]struct{})}
		r.peers[id] = info
	}
	info.Addr = addr
	info.Capabilities = capabilities
	info.Status = StatusConnected
	info.LastSeen = time.Now()
}

// Remove drops a peer entirely (on connection teardown).
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

// Get returns a copy of a peer's Info.
func (r *Registry) Get(id ID) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.peers[id]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// UpdateStatus marks a peer connected or disconnected and bumps LastSeen.
func (r *Registry) UpdateStatus(id ID, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.peers[id]; ok {
		info.Status = status
		info.LastSeen = time.Now()
	}
}

// UpdateLoad records a peer's self-reported queue depth, used for
// best-peer selection.
func (r *Registry) UpdateLoad(id ID, queueDepth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.peers[id]; ok {
		info.QueueDepth = queueDepth
		info.LastSeen = time.Now()
	}
}

// UpdateLatency records a round-trip ping measurement.
func (r *Registry) UpdateLatency(id ID, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.peers[id]; ok {
		info.Latency = latency
		info.LastSeen = time.Now()
	}
}

// Touch refreshes LastSeen without changing other fields, e.g. on any
// received frame.
func (r *Registry) Touch(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.peers[id]; ok {
		info.LastSeen = time.Now()
	}
}

// AddToGroup records that a peer participates in a work group.
func (r *Registry) AddToGroup(id ID, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.peers[id]; ok {
		info.Groups[groupID] = struct{}{}
	}
}

// RemoveFromGroup drops a peer's membership in a work group.
func (r *Registry) RemoveFromGroup(id ID, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.peers[id]; ok {
		delete(info.Groups, groupID)
	}
}

// WithCapability returns connected peers advertising capability.
func (r *Registry) WithCapability(capability string) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Info
	for _, info := range r.peers {
		if info.Status != StatusConnected {
			continue
		}
		for _, c := range info.Capabilities {
			if c == capability {
				out = append(out, *info)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InGroup returns connected peers that belong to groupID.
func (r *Registry) InGroup(groupID string) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Info
	for _, info := range r.peers {
		if info.Status != StatusConnected {
			continue
		}
		if _, ok := info.Groups[groupID]; ok {
			out = append(out, *info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BestFor picks the lowest-queue-depth connected peer supporting
// capability, tie-broken by lowest latency then by ID for determinism
//.
func (r *Registry) BestFor(capability string) (Info, bool) {
	candidates := r.WithCapability(capability)
	if len(candidates) == 0 {
		return Info{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].QueueDepth != candidates[j].QueueDepth {
			return candidates[i].QueueDepth < candidates[j].QueueDepth
		}
		if candidates[i].Latency != candidates[j].Latency {
			return candidates[i].Latency < candidates[j].Latency
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

// PruneStale removes peers whose LastSeen exceeds maxAge, returning the
// count removed; invoked from the Supervisor's periodic tick.
// PruneStale(0) removes every peer, matching a deliberate "drop mesh
// state" admin action.
func (r *Registry) PruneStale(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, info := range r.peers {
		if info.LastSeen.Before(cutoff) || info.LastSeen.Equal(cutoff) {
			delete(r.peers, id)
			removed++
		}
	}
	return removed
}

// All returns every known peer, sorted by ID.
func (r *Registry) All() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.peers))
	for _, info := range r.peers {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
