package discover

import (
	"context"
	"net"
	"testing"

	"github.com/eth2030/discovery/p2p/enode"
)

func TestLookupConvergesWithoutFurtherAnswers(t *testing.T) {
	tab, self := newTestTable(t)
	for i := 0; i < 4; i++ {
		tab.addInboundNode(randomTestNode(net.ParseIP("10.0.2.1")))
	}

	query := func(n *enode.Node) ([]*enode.Node, error) {
		return nil, nil // no further nodes learned; lookup should terminate
	}
	l := newLookup(context.Background(), tab, self, query)
	result := l.run()
	if len(result) == 0 {
		t.Fatal("expected seed nodes from the table in the result")
	}
}

func TestLookupMergesDiscoveredNodes(t *testing.T) {
	tab, self := newTestTable(t)
	seed := randomTestNode(net.ParseIP("10.0.3.1"))
	tab.addInboundNode(seed)

	extra := randomTestNode(net.ParseIP("10.0.3.2"))
	asked := make(map[enode.NodeID]bool)
	query := func(n *enode.Node) ([]*enode.Node, error) {
		if asked[n.ID] {
			return nil, nil
		}
		asked[n.ID] = true
		return []*enode.Node{extra}, nil
	}

	l := newLookup(context.Background(), tab, self, query)
	result := l.run()

	var found bool
	for _, n := range result {
		if n.ID == extra.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected lookup to merge in the node discovered via query")
	}
}
