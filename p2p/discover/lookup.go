package discover

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eth2030/discovery/p2p/enode"
)

// lookupAlpha is the lookup concurrency parameter (the Kademlia "alpha"):
// at most this many FINDNODE calls are outstanding at once during a lookup.
const lookupAlpha = 3

// lookupBucketSize bounds how many candidates the lookup keeps track of,
// matching the routing table's own per-bucket size so a lookup never holds
// more candidates than a single bucket could ever hold anyway.
const lookupBucketSize = bucketSize

// queryFunc performs one FINDNODE-equivalent round trip against n, in
// pursuit of the lookup's target, and returns whatever nodes it learned.
type queryFunc func(n *enode.Node) ([]*enode.Node, error)

// lookup drives an iterative, alpha-parallel search for the nodes closest
// to a target ID: repeatedly ask the closest not-yet-asked candidates,
// merge their answers into the candidate set, and stop once every
// candidate in the closest set has been asked.
type lookup struct {
	ctx       context.Context
	tab       *table
	query     queryFunc
	target    enode.NodeID
	asked     map[enode.NodeID]bool
	seen      map[enode.NodeID]bool
	result    nodesByDistance
}

func newLookup(ctx context.Context, tab *table, target enode.NodeID, query queryFunc) *lookup {
	it := &lookup{
		ctx:    ctx,
		tab:    tab,
		query:  query,
		target: target,
		asked:  make(map[enode.NodeID]bool),
		seen:   make(map[enode.NodeID]bool),
		result: nodesByDistance{target: target},
	}
	it.asked[tab.self] = true
	for _, n := range tab.closest(target, lookupBucketSize, nil) {
		it.result.push(n, lookupBucketSize)
		it.seen[n.ID] = true
	}
	return it
}

// run executes rounds until no unasked candidate remains (or ctx is done),
// then returns the closest nodes found.
func (it *lookup) run() []*enode.Node {
	for it.advance() {
		select {
		case <-it.ctx.Done():
			return it.result.entries
		default:
		}
	}
	return it.result.entries
}

// advance runs one round of up to lookupAlpha parallel queries against the
// closest unqueried candidates, merging their results. It reports whether
// a round was run; it returns false once no unasked candidate remains.
func (it *lookup) advance() bool {
	targets := it.unaskedClosest(lookupAlpha)
	if len(targets) == 0 {
		return false
	}

	var (
		mu     sync.Mutex
		merged []*enode.Node
		g      errgroup.Group
	)
	g.SetLimit(lookupAlpha)
	for _, n := range targets {
		it.asked[n.ID] = true
		n := n
		g.Go(func() error {
			found, err := it.query(n)
			if err != nil {
				return nil // a failed query just yields nothing; lookup continues
			}
			mu.Lock()
			merged = append(merged, found...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for _, n := range merged {
		if n.ID == it.tab.self || it.seen[n.ID] {
			continue
		}
		it.seen[n.ID] = true
		it.result.push(n, lookupBucketSize)
	}
	return true
}

// unaskedClosest returns up to n of the closest known candidates that
// haven't been queried yet.
func (it *lookup) unaskedClosest(n int) []*enode.Node {
	var out []*enode.Node
	for _, c := range it.result.entries {
		if it.asked[c.ID] {
			continue
		}
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}

// nodesByDistance is a bounded list of nodes kept sorted by XOR distance to
// target, closest first.
type nodesByDistance struct {
	entries []*enode.Node
	target  enode.NodeID
}

// push inserts n into the list in sorted position, trimming to maxElems.
func (h *nodesByDistance) push(n *enode.Node, maxElems int) {
	ix := sort.Search(len(h.entries), func(i int) bool {
		return enode.DistCmp(h.target, h.entries[i].ID, n.ID) > 0
	})
	if len(h.entries) < maxElems {
		h.entries = append(h.entries, nil)
	}
	if ix < len(h.entries) {
		copy(h.entries[ix+1:], h.entries[ix:])
		h.entries[ix] = n
	}
}
