package discover

import (
	"crypto/rand"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/eth2030/discovery/common/mclock"
	"github.com/eth2030/discovery/common/netutil"
	"github.com/eth2030/discovery/log"
	"github.com/eth2030/discovery/p2p/enode"
)

const (
	bucketSize        = 16 // K
	nBuckets          = 256 // one per possible log-distance
	replacementCap    = 10
	seedMinTableTime  = 5 * time.Second
	revalidateInterval = 10 * time.Second
)

// table is the Kademlia routing table: nBuckets buckets indexed by XOR
// log-distance from the local node, each holding up to bucketSize live
// entries plus a small replacement cache of not-yet-verified candidates.
type table struct {
	mutex   sync.Mutex
	buckets [nBuckets]*bucket
	self    enode.NodeID

	ips *netutil.DistinctNetSet

	db       NodeDatabase
	net      transport
	cfg      Config
	log      *log.Logger
	clock    mclock.Clock

	refreshReq chan struct{}
	closeOnce  sync.Once
	closeCh    chan struct{}
	wg         sync.WaitGroup
}

// bucket holds the live entries and replacement candidates at one
// log-distance from the local node.
type bucket struct {
	entries      []*node
	replacements []*node
	ips          *netutil.DistinctNetSet
}

// node augments enode.Node with revalidation bookkeeping.
type node struct {
	*enode.Node
	addedAt  time.Time
	livenessChecks uint
}

// transport is the subset of the UDP protocol layer the table needs to
// revalidate and refresh entries, kept narrow so table.go can be tested
// without a real socket.
type transport interface {
	pingTable(n *enode.Node) (seq uint64, err error)
	lookupRandom() []*enode.Node
	lookupSelf() []*enode.Node
}

// NodeDatabase records known nodes and their liveness for seeding and
// revalidation. enode.DB, the implementation used here, keeps them in
// memory for the lifetime of the process only.
type NodeDatabase interface {
	UpdateNode(n *enode.Node)
	LastPingReceived(id enode.NodeID, ip net.IP) time.Time
	UpdateLastPingReceived(id enode.NodeID, ip net.IP, t time.Time)
	QuerySeeds(n int, maxAge time.Duration) []*enode.Node
}

func newTable(net transport, db NodeDatabase, self enode.NodeID, cfg Config) *table {
	tab := &table{
		self:       self,
		net:        net,
		db:         db,
		cfg:        cfg,
		log:        cfg.Log,
		clock:      cfg.Clock,
		refreshReq: make(chan struct{}),
		closeCh:    make(chan struct{}),
		ips: &netutil.DistinctNetSet{
			SubnetMaskV4: 24,
			SubnetMaskV6: 64,
			LimitPerSub:  cfg.TableIPLimit,
		},
	}
	for i := range tab.buckets {
		tab.buckets[i] = &bucket{
			ips: &netutil.DistinctNetSet{
				SubnetMaskV4: 24,
				SubnetMaskV6: 64,
				LimitPerSub:  cfg.BucketIPLimit,
			},
		}
	}
	return tab
}

func (tab *table) bucketAt(id enode.NodeID) *bucket {
	d := enode.Distance(tab.self, id)
	if d == 0 {
		d = 1
	}
	return tab.buckets[d-1]
}

// loop drives periodic revalidation and table refresh; it is the table's
// only background goroutine.
func (tab *table) loop() {
	defer tab.wg.Done()

	revalidate := time.NewTicker(revalidateInterval)
	refresh := time.NewTicker(tab.cfg.RefreshInterval)
	defer revalidate.Stop()
	defer refresh.Stop()

	tab.doRefresh()

	for {
		select {
		case <-revalidate.C:
			tab.doRevalidate()
		case <-refresh.C:
			tab.doRefresh()
		case <-tab.refreshReq:
			tab.doRefresh()
		case <-tab.closeCh:
			return
		}
	}
}

func (tab *table) close() {
	tab.closeOnce.Do(func() {
		close(tab.closeCh)
	})
	tab.wg.Wait()
}

// start launches the background loop; split from newTable so tests can
// construct a table without its goroutine running.
func (tab *table) start() {
	tab.wg.Add(1)
	go tab.loop()
}

func (tab *table) len() int {
	tab.mutex.Lock()
	defer tab.mutex.Unlock()
	n := 0
	for _, b := range tab.buckets {
		n += len(b.entries)
	}
	return n
}

// getNode returns the live entry for id, or nil.
func (tab *table) getNode(id enode.NodeID) *enode.Node {
	tab.mutex.Lock()
	defer tab.mutex.Unlock()
	b := tab.bucketAt(id)
	for _, n := range b.entries {
		if n.ID == id {
			return n.Node
		}
	}
	return nil
}

// nodes returns every node currently in the table, for Resolve/AllNodes.
func (tab *table) nodes() []*enode.Node {
	tab.mutex.Lock()
	defer tab.mutex.Unlock()
	var out []*enode.Node
	for _, b := range tab.buckets {
		for _, n := range b.entries {
			out = append(out, n.Node)
		}
	}
	return out
}

// addFoundNode inserts a node learned from a verified NODES reply, the seed
// database or a bootstrap list. It enters the live bucket if there is room
// and the IP limits allow it, and the replacement cache otherwise.
func (tab *table) addFoundNode(n *enode.Node) {
	tab.add(n, true)
}

// addInboundNode inserts a node that has just proven liveness by completing
// a handshake with us, so it may enter the live bucket directly if there is
// room.
func (tab *table) addInboundNode(n *enode.Node) {
	tab.add(n, true)
}

func (tab *table) add(n *enode.Node, live bool) {
	if n.ID == tab.self || !n.ValidAddr() {
		return
	}
	tab.db.UpdateNode(n)

	tab.mutex.Lock()
	defer tab.mutex.Unlock()

	b := tab.bucketAt(n.ID)
	for _, e := range b.entries {
		if e.ID == n.ID {
			e.Node = n // refresh address/record
			return
		}
	}

	entry := &node{Node: n, addedAt: time.Now()}

	if live && len(b.entries) < bucketSize {
		if tab.addIP(b, n.IP) {
			b.entries = append(b.entries, entry)
			return
		}
	}
	tab.addReplacement(b, entry)
}

func (tab *table) addIP(b *bucket, ip net.IP) bool {
	if ip == nil {
		return true
	}
	if !tab.ips.Add(ip) {
		return false
	}
	if !b.ips.Add(ip) {
		tab.ips.Remove(ip)
		return false
	}
	return true
}

func (tab *table) addReplacement(b *bucket, n *node) {
	for i, e := range b.replacements {
		if e.ID == n.ID {
			b.replacements[i] = n
			return
		}
	}
	if len(b.replacements) >= replacementCap {
		b.replacements = b.replacements[1:]
	}
	b.replacements = append(b.replacements, n)
}

// deleteNode removes id from both the live bucket and the replacement cache.
func (tab *table) deleteNode(id enode.NodeID) {
	tab.mutex.Lock()
	defer tab.mutex.Unlock()
	b := tab.bucketAt(id)
	b.entries = deleteNodeFrom(b.entries, id, tab, b)
	b.replacements = deleteNodeFrom(b.replacements, id, nil, nil)
}

func deleteNodeFrom(list []*node, id enode.NodeID, tab *table, b *bucket) []*node {
	for i, e := range list {
		if e.ID == id {
			if tab != nil && e.IP != nil {
				tab.ips.Remove(e.IP)
				b.ips.Remove(e.IP)
			}
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// replaceNode swaps a dead live entry for its bucket's best replacement
// candidate, called when revalidation finds a node unresponsive.
func (tab *table) replaceNode(dead *node) {
	tab.mutex.Lock()
	defer tab.mutex.Unlock()
	b := tab.bucketAt(dead.ID)
	b.entries = deleteNodeFrom(b.entries, dead.ID, tab, b)
	if len(b.replacements) == 0 {
		return
	}
	r := b.replacements[len(b.replacements)-1]
	b.replacements = b.replacements[:len(b.replacements)-1]
	if tab.addIP(b, r.IP) {
		b.entries = append(b.entries, r)
	}
}

// setJustSeen bumps a live entry so the revalidation loop does not re-probe
// it immediately after a successful unsolicited exchange (e.g. answering
// our own FINDNODE).
func (tab *table) setJustSeen(n *node) {
	tab.mutex.Lock()
	defer tab.mutex.Unlock()
	b := tab.bucketAt(n.ID)
	for i, e := range b.entries {
		if e.ID == n.ID {
			e.livenessChecks = 0
			e.addedAt = time.Now()
			b.entries = append(append(b.entries[:i], b.entries[i+1:]...), e)
			return
		}
	}
}

// nodeToRevalidate returns the least-recently-seen entry across all
// non-empty buckets, or nil if the table is empty.
func (tab *table) nodeToRevalidate() *node {
	tab.mutex.Lock()
	defer tab.mutex.Unlock()
	var oldest *node
	for _, b := range tab.buckets {
		if len(b.entries) == 0 {
			continue
		}
		n := b.entries[0]
		if oldest == nil || n.addedAt.Before(oldest.addedAt) {
			oldest = n
		}
	}
	return oldest
}

func (tab *table) doRevalidate() {
	n := tab.nodeToRevalidate()
	if n == nil {
		return
	}
	if _, err := tab.net.pingTable(n.Node); err != nil {
		n.livenessChecks++
		if n.livenessChecks >= 3 {
			tab.log.Debug("dropping unresponsive node", "id", n.ID, "checks", n.livenessChecks)
			tab.replaceNode(n)
		}
		return
	}
	tab.setJustSeen(n)
}

// doRefresh performs a self-lookup followed by lookups for a few random
// targets, to populate buckets the local node hasn't heard from recently
// (Section 4's periodic refresh).
func (tab *table) doRefresh() {
	seeds := tab.db.QuerySeeds(seedCount, seedMaxAge)
	for _, seed := range seeds {
		tab.addFoundNode(seed)
	}
	for _, n := range tab.net.lookupSelf() {
		tab.addFoundNode(n)
	}
	for i := 0; i < 3; i++ {
		for _, n := range tab.net.lookupRandom() {
			tab.addFoundNode(n)
		}
	}
}

const (
	seedCount  = 30
	seedMaxAge = 5 * 24 * time.Hour
)

// requestFresh asks the loop to refresh immediately, used right after
// construction so a freshly started node doesn't wait out the first
// RefreshInterval before seeding its table.
func (tab *table) requestFresh() {
	select {
	case tab.refreshReq <- struct{}{}:
	case <-tab.closeCh:
	}
}

// closest returns the num nodes in the table closest to target, excluding
// ids in the given set.
func (tab *table) closest(target enode.NodeID, num int, exclude map[enode.NodeID]bool) []*enode.Node {
	tab.mutex.Lock()
	defer tab.mutex.Unlock()

	var cands []*enode.Node
	for _, b := range tab.buckets {
		for _, e := range b.entries {
			if exclude != nil && exclude[e.ID] {
				continue
			}
			cands = append(cands, e.Node)
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		return enode.DistCmp(target, cands[i].ID, cands[j].ID) < 0
	})
	if len(cands) > num {
		cands = cands[:num]
	}
	return cands
}

// appendBucketNodes appends every live entry at exactly the given
// log-distance to dst, used to answer FINDNODE requests (Section 5's
// distance-bucketed response).
func (tab *table) appendBucketNodes(dist uint, dst []*enode.Node) []*enode.Node {
	if dist == 0 || dist > nBuckets {
		return dst
	}
	tab.mutex.Lock()
	defer tab.mutex.Unlock()
	for _, e := range tab.buckets[dist-1].entries {
		dst = append(dst, e.Node)
	}
	return dst
}

// neighboursAtDistances collects up to limit live nodes at the given
// log-distances, deduplicating repeated distances. Used by the Portal
// overlay's FindNode handler (C10) through UDPv5.NeighboursAtDistances; the
// core FINDNODE handler (udp.go's collectTableNodes) runs its own loop over
// appendBucketNodes that additionally filters by the requester's IP.
func (tab *table) neighboursAtDistances(distances []uint16, limit int) []*enode.Node {
	var nodes []*enode.Node
	processed := make(map[uint16]struct{})
	for _, dist := range distances {
		if _, seen := processed[dist]; seen {
			continue
		}
		processed[dist] = struct{}{}
		nodes = tab.appendBucketNodes(uint(dist), nodes)
		if len(nodes) >= limit {
			return nodes[:limit]
		}
	}
	return nodes
}

// randomID returns a random target ID, used by lookupRandom.
func randomID() (id enode.NodeID) {
	rand.Read(id[:])
	return id
}
