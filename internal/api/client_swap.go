package api //nolint:revive // package name is intentional

import (
	"sync/atomic"

	"github.com/blueberrycongee/embedcache"
)

// clientSwap holds the live embedding client. Requests already holding the
// previous client finish on it; clients own no resources beyond the shared
// store, so nothing is closed on swap.
type clientSwap struct {
	current atomic.Pointer[embedcache.Client]
	swaps   atomic.Int64
}

func newClientSwap(client *embedcache.Client) *clientSwap {
	s := &clientSwap{}
	s.current.Store(client)
	return s
}

func (s *clientSwap) acquire() *embedcache.Client {
	return s.current.Load()
}

func (s *clientSwap) swap(next *embedcache.Client) {
	if next == nil {
		return
	}
	s.current.Store(next)
	s.swaps.Add(1)
}
