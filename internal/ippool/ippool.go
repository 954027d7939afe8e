// Package ippool hands out exclusive IPv4 addresses from a fixed pool.
//
// Allocation is deterministic: the lowest free address wins. Addresses are
// never reclaimed here; the caller decides what counts as assigned.
package ippool

import (
	"errors"
	"fmt"
	"net/netip"
)

var ErrPoolExhausted = errors.New("no free addresses left in pool")

// Pool is the immutable universe of allocatable addresses: Size consecutive
// IPv4 addresses starting at Start.
type Pool struct {
	Start netip.Addr
	Size  int
}

func New(start string, size int) (Pool, error) {
	addr, err := netip.ParseAddr(start)
	if err != nil {
		return Pool{}, fmt.Errorf("invalid pool start address %q: %w", start, err)
	}
	if !addr.Is4() {
		return Pool{}, fmt.Errorf("pool start %q is not an IPv4 address", start)
	}
	if size < 1 {
		return Pool{}, fmt.Errorf("pool size must be positive, got %d", size)
	}
	return Pool{Start: addr, Size: size}, nil
}

// Addrs returns every address in the pool, in ascending order.
func (p Pool) Addrs() []netip.Addr {
	addrs := make([]netip.Addr, 0, p.Size)
	addr := p.Start
	for i := 0; i < p.Size; i++ {
		addrs = append(addrs, addr)
		addr = addr.Next()
	}
	return addrs
}

func (p Pool) Contains(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	return p.Start.Compare(addr) <= 0 && addr.Less(p.end())
}

// end is the first address past the pool.
func (p Pool) end() netip.Addr {
	addr := p.Start
	for i := 0; i < p.Size; i++ {
		addr = addr.Next()
	}
	return addr
}

// Allocate picks the lowest pool address not present in assigned.
func Allocate(p Pool, assigned []netip.Addr) (netip.Addr, error) {
	taken := make(map[netip.Addr]struct{}, len(assigned))
	for _, a := range assigned {
		taken[a] = struct{}{}
	}
	addr := p.Start
	for i := 0; i < p.Size; i++ {
		if _, ok := taken[addr]; !ok {
			return addr, nil
		}
		addr = addr.Next()
	}
	return netip.Addr{}, ErrPoolExhausted
}
