package discover

import (
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/eth2030/discovery/common/mclock"
	"github.com/eth2030/discovery/log"
	"github.com/eth2030/discovery/p2p/enode"
)

type stubTransport struct{}

func (stubTransport) pingTable(n *enode.Node) (uint64, error) { return 0, nil }
func (stubTransport) lookupRandom() []*enode.Node             { return nil }
func (stubTransport) lookupSelf() []*enode.Node               { return nil }

func newTestTable(t *testing.T) (*table, enode.NodeID) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	ln := enode.NewLocalNode(key, net.ParseIP("127.0.0.1"), 30303, 30303)
	cfg := Config{
		BucketIPLimit:   2,
		TableIPLimit:    10,
		RefreshInterval: time.Hour,
		Log:             log.Default().Module("discover-test"),
		Clock:           mclock.System{},
	}
	tab := newTable(stubTransport{}, enode.NewDB(), ln.ID(), cfg)
	return tab, ln.ID()
}

func randomTestNode(ip net.IP) *enode.Node {
	key, _ := crypto.GenerateKey()
	ln := enode.NewLocalNode(key, ip, 30303, 30303)
	return ln.Node()
}

func TestTableAddAndGetNode(t *testing.T) {
	tab, _ := newTestTable(t)
	n := randomTestNode(net.ParseIP("10.0.0.1"))
	tab.addInboundNode(n)
	if got := tab.getNode(n.ID); got == nil {
		t.Fatal("expected node to be present after addInboundNode")
	}
	if tab.len() != 1 {
		t.Fatalf("len = %d, want 1", tab.len())
	}
}

func TestTableDeleteNode(t *testing.T) {
	tab, _ := newTestTable(t)
	n := randomTestNode(net.ParseIP("10.0.0.2"))
	tab.addInboundNode(n)
	tab.deleteNode(n.ID)
	if got := tab.getNode(n.ID); got != nil {
		t.Fatal("expected node to be gone after deleteNode")
	}
}

func TestTableBucketIPLimit(t *testing.T) {
	tab, _ := newTestTable(t)
	// Same /24 subnet repeated past BucketIPLimit within one bucket should
	// fall back to the replacement cache instead of growing the live bucket
	// without bound. Only nodes landing in the farthest bucket are added.
	b := tab.buckets[nBuckets-1]
	for added := 0; added < 5; {
		n := randomTestNode(net.ParseIP("10.0.0.1"))
		if tab.bucketAt(n.ID) != b {
			continue
		}
		tab.addInboundNode(n)
		added++
	}
	if tab.len() > tab.cfg.BucketIPLimit {
		t.Fatalf("table grew past BucketIPLimit: len=%d", tab.len())
	}
}

func TestTableClosestSorted(t *testing.T) {
	tab, self := newTestTable(t)
	for i := 0; i < 8; i++ {
		n := randomTestNode(net.ParseIP("10.0.1.1"))
		tab.addInboundNode(n)
	}
	closest := tab.closest(self, 4, nil)
	if len(closest) == 0 {
		t.Fatal("expected some closest nodes")
	}
	for i := 1; i < len(closest); i++ {
		if enode.DistCmp(self, closest[i-1].ID, closest[i].ID) > 0 {
			t.Fatal("closest() result not sorted by distance")
		}
	}
}
