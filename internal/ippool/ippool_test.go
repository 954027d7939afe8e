package ippool

import (
	"errors"
	"net/netip"
	"testing"
)

func mustPool(t *testing.T, start string, size int) Pool {
	t.Helper()
	pool, err := New(start, size)
	if err != nil {
		t.Fatalf("New(%q, %d) failed: %v", start, size, err)
	}
	return pool
}

func TestNew_RejectsBadInput(t *testing.T) {
	if _, err := New("not-an-ip", 10); err == nil {
		t.Error("expected error for invalid start address")
	}
	if _, err := New("2001:db8::1", 10); err == nil {
		t.Error("expected error for IPv6 start address")
	}
	if _, err := New("10.0.0.1", 0); err == nil {
		t.Error("expected error for zero size")
	}
}

func TestAllocate_LowestFirst(t *testing.T) {
	pool := mustPool(t, "10.0.0.1", 4)

	addr, err := Allocate(pool, nil)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if addr.String() != "10.0.0.1" {
		t.Errorf("expected lowest address 10.0.0.1, got %s", addr)
	}

	// Lowest free, not just lowest: skip assigned holes.
	assigned := []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.3"),
	}
	addr, err = Allocate(pool, assigned)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if addr.String() != "10.0.0.2" {
		t.Errorf("expected 10.0.0.2, got %s", addr)
	}
}

func TestAllocate_Deterministic(t *testing.T) {
	pool := mustPool(t, "192.168.1.10", 8)
	assigned := []netip.Addr{netip.MustParseAddr("192.168.1.10")}

	first, err := Allocate(pool, assigned)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Allocate(pool, assigned)
		if err != nil {
			t.Fatalf("Allocate failed: %v", err)
		}
		if again != first {
			t.Fatalf("allocation not deterministic: got %s then %s", first, again)
		}
	}
}

func TestAllocate_Exhausted(t *testing.T) {
	pool := mustPool(t, "10.0.0.1", 2)
	assigned := []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
	}

	_, err := Allocate(pool, assigned)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestAllocate_IgnoresAddressesOutsidePool(t *testing.T) {
	pool := mustPool(t, "10.0.0.1", 1)
	assigned := []netip.Addr{netip.MustParseAddr("172.16.0.1")}

	addr, err := Allocate(pool, assigned)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if addr.String() != "10.0.0.1" {
		t.Errorf("expected 10.0.0.1, got %s", addr)
	}
}

func TestContains(t *testing.T) {
	pool := mustPool(t, "10.0.0.10", 3)

	for _, in := range []string{"10.0.0.10", "10.0.0.11", "10.0.0.12"} {
		if !pool.Contains(netip.MustParseAddr(in)) {
			t.Errorf("pool should contain %s", in)
		}
	}
	for _, out := range []string{"10.0.0.9", "10.0.0.13", "192.168.0.1"} {
		if pool.Contains(netip.MustParseAddr(out)) {
			t.Errorf("pool should not contain %s", out)
		}
	}
	if pool.Contains(netip.Addr{}) {
		t.Error("pool should not contain the zero address")
	}
}

func TestAddrs(t *testing.T) {
	pool := mustPool(t, "10.0.0.1", 3)
	addrs := pool.Addrs()
	want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	if len(addrs) != len(want) {
		t.Fatalf("expected %d addresses, got %d", len(want), len(addrs))
	}
	for i, w := range want {
		if addrs[i].String() != w {
			t.Errorf("addrs[%d] = %s, want %s", i, addrs[i], w)
		}
	}
}
