package router

import (
	"math/rand"
	"sync/atomic"
)

// balancer picks one entry index from candidates. Candidates are indexes
// into the router's provider list; weights are positionally aligned.
type balancer interface {
	pick(candidates []int, weights []int) int
}

type roundRobin struct {
	next atomic.Uint64
}

func (b *roundRobin) pick(candidates []int, _ []int) int {
	n := b.next.Add(1) - 1
	return candidates[int(n%uint64(len(candidates)))]
}

type random struct{}

func (random) pick(candidates []int, _ []int) int {
	return candidates[rand.Intn(len(candidates))] // #nosec G404 -- load spreading needs no crypto randomness
}

type weighted struct{}

func (weighted) pick(candidates []int, weights []int) int {
	total := 0
	for _, i := range candidates {
		w := weights[i]
		if w <= 0 {
			w = 1
		}
		total += w
	}
	n := rand.Intn(total) // #nosec G404
	for _, i := range candidates {
		w := weights[i]
		if w <= 0 {
			w = 1
		}
		if n < w {
			return i
		}
		n -= w
	}
	return candidates[len(candidates)-1]
}

func newBalancer(strategy string) balancer {
	switch strategy {
	case "random":
		return random{}
	case "weighted":
		return weighted{}
	default:
		return &roundRobin{}
	}
}
