// Package selector implements the Selector (component C3): it picks one
// endpoint from an eligibility-filtered pool using weight-descending sticky
// selection or round-robin, falling back to a more permissive eligibility
// level when a stricter one is empty so the proxy always serves something.
//
// Structurally grounded on internal/provider/chain.go's candidates/failover
// walk (direct matches first, then progressively looser fallbacks),
// generalized here from role-based fallback to threshold-based fallback
// and extended with the weighted sticky bucket-rotation algorithm the
// chain package does not need.
package selector

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/relaymesh/paf/internal/health"
	"github.com/relaymesh/paf/internal/profile"
)

// Selector holds per-family selection state: the sticky "current" name,
// the round-robin cursor, and per-weight-bucket rotation cursors.
type Selector struct {
	mu    sync.Mutex
	state map[profile.Family]*familyState

	// rng is injectable for deterministic tests of the weighted-random
	// fallback path.
	rng func() float64
}

type familyState struct {
	stickyName   string
	rrCursor     int
	bucketCursor map[float64]int
}

// New creates a Selector with no prior selection state.
func New() *Selector {
	return &Selector{
		state: make(map[profile.Family]*familyState),
		rng:   rand.Float64,
	}
}

func (s *Selector) familyState(family profile.Family) *familyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.state[family]
	if !ok {
		fs = &familyState{bucketCursor: make(map[float64]int)}
		s.state[family] = fs
	}
	return fs
}

// CurrentServerName returns the most recent sticky selection for family, or
// "" if none. Used by the dashboard. It becomes empty once the referenced
// profile leaves the family or crosses the failure threshold, enforced
// lazily the next time Select runs (see validateSticky).
func (s *Selector) CurrentServerName(family profile.Family) string {
	fs := s.familyState(family)
	s.mu.Lock()
	defer s.mu.Unlock()
	return fs.stickyName
}

// Select picks one endpoint from pool (the result of
// configstore.Store.EligiblePool, i.e. already filtered by enabled/mode),
// consulting tracker and now for the freeze- and failure-aware eligibility
// cascade, and returns false if every level of the cascade is empty.
func (s *Selector) Select(
	family profile.Family,
	pool []profile.Endpoint,
	tracker *health.Tracker,
	lb profile.LoadBalancerSettings,
	now time.Time,
) (profile.Endpoint, bool) {
	if len(pool) == 0 {
		s.clearSticky(family)
		return profile.Endpoint{}, false
	}

	unfrozen := filterUnfrozen(pool, now)
	underThreshold := filterUnderThreshold(unfrozen, tracker, family, lb.HealthCheck.FailureThreshold)

	fs := s.familyState(family)

	s.mu.Lock()
	validateSticky(fs, underThreshold)
	s.mu.Unlock()

	switch {
	case len(underThreshold) > 0:
		return s.selectFromLevel(family, fs, underThreshold, lb.Strategy, true)
	case len(unfrozen) > 0:
		return s.selectFromLevel(family, fs, unfrozen, lb.Strategy, false)
	default:
		return s.selectFromLevel(family, fs, pool, lb.Strategy, false)
	}
}

// clearSticky resets the sticky name for family, used when the pool is
// empty (no upstream available at all).
func (s *Selector) clearSticky(family profile.Family) {
	fs := s.familyState(family)
	s.mu.Lock()
	fs.stickyName = ""
	s.mu.Unlock()
}

// selectFromLevel dispatches to the configured strategy against the
// chosen cascade level's pool. canStick is true only for the strictest
// (fully-eligible) level; under the weighted strategy a fallback level
// never marks its selection sticky. Round-robin ignores canStick and always
// records its pick as the current name.
func (s *Selector) selectFromLevel(
	family profile.Family,
	fs *familyState,
	pool []profile.Endpoint,
	strategy profile.Strategy,
	canStick bool,
) (profile.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strategy == profile.StrategyRoundRobin {
		e := roundRobinPick(fs, pool)
		fs.stickyName = e.Name
		return e, true
	}

	// StrategyWeighted (the default).
	if canStick && fs.stickyName != "" {
		if e, ok := findByName(pool, fs.stickyName); ok {
			return e, true
		}
	}

	if !canStick {
		// Every bucket member is above threshold or frozen: fall back to
		// proportional-random weighted choice and do not mark it sticky.
		e := weightedRandomPick(pool, s.rng)
		return e, true
	}

	e := bucketRotatePick(fs, pool)
	fs.stickyName = e.Name
	return e, true
}

func filterUnfrozen(pool []profile.Endpoint, now time.Time) []profile.Endpoint {
	out := make([]profile.Endpoint, 0, len(pool))
	for _, e := range pool {
		if !e.IsFrozen(now) {
			out = append(out, e)
		}
	}
	return out
}

func filterUnderThreshold(pool []profile.Endpoint, tracker *health.Tracker, family profile.Family, threshold int) []profile.Endpoint {
	out := make([]profile.Endpoint, 0, len(pool))
	for _, e := range pool {
		key := health.Key{Family: string(family), Name: e.Name}
		if !tracker.ExceededFailureThreshold(key, threshold) {
			out = append(out, e)
		}
	}
	return out
}

// validateSticky clears fs.stickyName if it no longer refers to a profile
// present in the fully-eligible set — per the observability contract,
// current-server-name becomes empty when the profile leaves the family or
// crosses the failure threshold.
func validateSticky(fs *familyState, fullyEligible []profile.Endpoint) {
	if fs.stickyName == "" {
		return
	}
	if _, ok := findByName(fullyEligible, fs.stickyName); !ok {
		fs.stickyName = ""
	}
}

func findByName(pool []profile.Endpoint, name string) (profile.Endpoint, bool) {
	for _, e := range pool {
		if e.Name == name {
			return e, true
		}
	}
	return profile.Endpoint{}, false
}

func roundRobinPick(fs *familyState, pool []profile.Endpoint) profile.Endpoint {
	idx := fs.rrCursor % len(pool)
	fs.rrCursor = (fs.rrCursor + 1) % len(pool)
	return pool[idx]
}

// bucketRotatePick groups pool by exact weight, descending, picks the
// highest-weight bucket, sorts it by name ascending, and rotates through it
// using a per-bucket cursor so ties distribute round-robin across calls.
func bucketRotatePick(fs *familyState, pool []profile.Endpoint) profile.Endpoint {
	buckets := make(map[float64][]profile.Endpoint)
	weights := make([]float64, 0)
	for _, e := range pool {
		if _, ok := buckets[e.Weight]; !ok {
			weights = append(weights, e.Weight)
		}
		buckets[e.Weight] = append(buckets[e.Weight], e)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(weights)))

	top := weights[0]
	members := buckets[top]
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })

	cursor := fs.bucketCursor[top] % len(members)
	fs.bucketCursor[top] = (fs.bucketCursor[top] + 1) % len(members)
	return members[cursor]
}

// weightedRandomPick performs proportional-random weighted choice over
// pool. A pool where every weight is zero degenerates to uniform choice.
func weightedRandomPick(pool []profile.Endpoint, rng func() float64) profile.Endpoint {
	var total float64
	for _, e := range pool {
		total += e.Weight
	}
	if total <= 0 {
		return pool[int(rng()*float64(len(pool)))%len(pool)]
	}

	target := rng() * total
	var acc float64
	for _, e := range pool {
		acc += e.Weight
		if target < acc {
			return e
		}
	}
	return pool[len(pool)-1]
}
