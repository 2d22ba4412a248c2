package balancer

import (
	"testing"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
)

func mustHost(t *testing.T, s string) address.HostAddress {
	t.Helper()
	h, err := address.HostFromString(s)
	if err != nil {
		t.Fatalf("HostFromString(%q): %v", s, err)
	}
	return h
}

func TestAcquire_NoMatchingFamily(t *testing.T) {
	m := NewManager()
	m.Add(mustHost(t, "[::1]"), 1)

	if got := m.Acquire(address.FamilyInet.FamilyMask()); got != nil {
		t.Errorf("expected nil for unmatched family, got %+v", got)
	}
}

func TestAcquire_EqualMetrics_Spread(t *testing.T) {
	// Two IPv4 interfaces with equal metric 1/1: 10 acquires should split 5/5.
	m := NewManager()
	m.Add(mustHost(t, "10.0.0.1"), 1)
	m.Add(mustHost(t, "10.0.0.2"), 1)

	mask := address.FamilyInet.FamilyMask()
	held := make([]*Interface, 0, 10)
	for i := 0; i < 10; i++ {
		iface := m.Acquire(mask)
		if iface == nil {
			t.Fatalf("acquire %d: expected interface", i)
		}
		held = append(held, iface)
	}

	for _, iface := range m.Snapshot() {
		if iface.InUse() != 5 {
			t.Errorf("interface %s: in_use = %d, want 5", address.HostToString(iface.Addr()), iface.InUse())
		}
	}

	for _, iface := range held {
		m.Release(iface)
	}
	for _, iface := range m.Snapshot() {
		if iface.InUse() != 0 {
			t.Errorf("after release, in_use = %d, want 0", iface.InUse())
		}
	}
}

func TestAcquire_WeightedMetrics(t *testing.T) {
	// Interfaces weighted 1 and 3: 8 acquires should split 2/6 in proportion to metric.
	m := NewManager()
	m.Add(mustHost(t, "10.0.0.1"), 1)
	m.Add(mustHost(t, "10.0.0.2"), 3)

	mask := address.FamilyInet.FamilyMask()
	for i := 0; i < 8; i++ {
		if m.Acquire(mask) == nil {
			t.Fatalf("acquire %d: expected interface", i)
		}
	}

	snap := m.Snapshot()
	if snap[0].InUse() != 2 || snap[1].InUse() != 6 {
		t.Errorf("got in_use = {%d,%d}, want {2,6}", snap[0].InUse(), snap[1].InUse())
	}
}

func TestAcquire_TieBreaksFirstInserted(t *testing.T) {
	m := NewManager()
	first := m.Add(mustHost(t, "10.0.0.1"), 1)
	m.Add(mustHost(t, "10.0.0.2"), 1)

	got := m.Acquire(address.FamilyInet.FamilyMask())
	if got != first {
		t.Errorf("expected first-inserted interface to win the tie")
	}
}

func TestRelease_Nil(t *testing.T) {
	m := NewManager()
	m.Release(nil) // must not panic
}

func TestRelease_NeverGoesNegative(t *testing.T) {
	m := NewManager()
	iface := m.Add(mustHost(t, "10.0.0.1"), 1)
	m.Release(iface)
	if iface.InUse() != 0 {
		t.Errorf("in_use = %d, want 0 (release without matching acquire must not underflow)", iface.InUse())
	}
}
