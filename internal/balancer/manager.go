// Package balancer implements the outgoing interface manager: it catalogues the source
// addresses configured on the command line, each tagged with a metric (capacity weight),
// and answers "give me the best source for address family F" while keeping an in_use
// reference count that always equals the number of live sessions holding that interface.
//
// Interfaces are held in an ordered slice per family bucket, and selection picks the
// candidate minimizing the fractional load ratio in_use/metric.
package balancer

import (
	"sync"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
)

// Interface is one outgoing source address the dispatcher may bind an outbound socket
// to. Port is always 0 — the kernel picks an ephemeral port at bind time.
type Interface struct {
	addr    address.HostAddress
	family  address.Family
	metric  uint32
	inUse   uint32
	ordinal int // insertion order, used to break selection ties
}

// Addr returns the interface's source HostAddress.
func (i *Interface) Addr() address.HostAddress { return i.addr }

// Family returns the interface's address family.
func (i *Interface) Family() address.Family { return i.family }

// Metric returns the interface's configured capacity weight.
func (i *Interface) Metric() uint32 { return i.metric }

// InUse returns the interface's live reference count. Safe to read only from the
// reactor goroutine, like every other field on Interface — see Manager's doc comment.
func (i *Interface) InUse() uint32 { return i.inUse }

// Manager holds interfaces partitioned by family. Every acquire/release call in this
// codebase happens on the single reactor goroutine, so the mutex below exists purely so
// that callers outside the reactor (a metrics scraper reading InUse for export) can call
// Snapshot concurrently without racing it.
type Manager struct {
	mu   sync.Mutex
	nxt  int
	byFy map[address.Family][]*Interface
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{byFy: make(map[address.Family][]*Interface, 2)}
}

// Add appends source to the bucket for its family with the given capacity metric. metric
// must be > 0 (enforced by the CLI argument parser, address.ParseInterfaceArg).
func (m *Manager) Add(source address.HostAddress, metric uint32) *Interface {
	m.mu.Lock()
	defer m.mu.Unlock()

	iface := &Interface{
		addr:    source,
		family:  source.Family(),
		metric:  metric,
		ordinal: m.nxt,
	}
	m.nxt++
	m.byFy[iface.family] = append(m.byFy[iface.family], iface)
	return iface
}

// Count returns the number of configured interfaces across both families.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byFy[address.FamilyInet]) + len(m.byFy[address.FamilyInet6])
}

// Acquire selects the best interface matching familyMask (bit 0 = INET, bit 1 = INET6) —
// the candidate minimizing the load ratio in_use/metric, compared by cross-multiplication
// to avoid floating point, ties broken by first-inserted. On success it atomically
// increments in_use and returns the interface; it returns nil only when no interface
// matches familyMask, which the caller must treat as a network-unreachable failure.
func (m *Manager) Acquire(familyMask uint8) *Interface {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Interface
	for _, fam := range [...]address.Family{address.FamilyInet, address.FamilyInet6} {
		if fam.FamilyMask()&familyMask == 0 {
			continue
		}
		for _, iface := range m.byFy[fam] {
			if best == nil || lessLoaded(iface, best) {
				best = iface
			}
		}
	}

	if best == nil {
		return nil
	}

	best.inUse++
	return best
}

// lessLoaded reports whether a is the better (less loaded) pick than b: a strictly lower
// in_use/metric ratio wins outright; an equal ratio falls back to ordinal, the candidate's
// insertion order, so selection doesn't depend on map/slice iteration order elsewhere.
func lessLoaded(a, b *Interface) bool {
	// a.inUse/a.metric < b.inUse/b.metric  <=>  a.inUse*b.metric < b.inUse*a.metric
	left, right := uint64(a.inUse)*uint64(b.metric), uint64(b.inUse)*uint64(a.metric)
	if left != right {
		return left < right
	}
	return a.ordinal < b.ordinal
}

// Release decrements iface's in_use count. Must be called exactly once per successful
// Acquire that returned iface.
func (m *Manager) Release(iface *Interface) {
	if iface == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if iface.inUse > 0 {
		iface.inUse--
	}
}

// Snapshot returns a read-only copy of every configured interface's current counters,
// for diagnostics and metrics export.
func (m *Manager) Snapshot() []Interface {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Interface, 0, len(m.byFy[address.FamilyInet])+len(m.byFy[address.FamilyInet6]))
	for _, fam := range [...]address.Family{address.FamilyInet, address.FamilyInet6} {
		for _, iface := range m.byFy[fam] {
			out = append(out, *iface)
		}
	}
	return out
}
