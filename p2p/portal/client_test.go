package portal

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/eth2030/discovery/p2p/enode"
)

// loopbackTalker routes TalkRequest calls straight into a peer Client's
// HandleTalkRequest, simulating a direct in-process round trip.
type loopbackTalker struct {
	peer   *Client
	peerID [32]byte
}

func (lt *loopbackTalker) TalkRequest(ctx context.Context, n *enode.Node, protocol string, request []byte) ([]byte, error) {
	return lt.peer.HandleTalkRequest(lt.peerID, request)
}

// fakeTable is a RoutingTable stub returning a fixed node set regardless of
// the requested distances, used to verify Client delegates rather than
// answering FindNode itself.
type fakeTable struct {
	nodes    []*enode.Node
	requests [][]uint16
}

func (f *fakeTable) NeighboursAtDistances(distances []uint16) []*enode.Node {
	f.requests = append(f.requests, distances)
	return f.nodes
}

func newTestClient(t *testing.T) (*Client, *enode.LocalNode, *ecdsa.PrivateKey) {
	t.Helper()
	return newTestClientWithTable(t, nil)
}

func newTestClientWithTable(t *testing.T, table RoutingTable) (*Client, *enode.LocalNode, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	local := enode.NewLocalNode(key, nil, 0, 30303)
	store, err := NewStore(DefaultStoreConfig([32]byte(local.ID())))
	if err != nil {
		t.Fatal(err)
	}
	return NewClient(nil, store, local, table), local, key
}

func TestClientPingPong(t *testing.T) {
	peerClient, peerLocal, _ := newTestClient(t)
	callerClient, _, _ := newTestClient(t)
	callerClient.talk = &loopbackTalker{peer: peerClient, peerID: peerLocal.ID()}

	pong, err := callerClient.Ping(context.Background(), peerLocal.Node())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if pong.ENRSeq != peerLocal.Seq() {
		t.Fatalf("ENRSeq = %d, want %d", pong.ENRSeq, peerLocal.Seq())
	}
}

func TestClientFindContentHit(t *testing.T) {
	peerClient, peerLocal, _ := newTestClient(t)
	callerClient, _, _ := newTestClient(t)
	callerClient.talk = &loopbackTalker{peer: peerClient, peerID: peerLocal.ID()}

	key := []byte("some-content-key")
	data := []byte("some-content-bytes")
	if err := peerClient.store.StoreContentByKey(key, data); err != nil {
		t.Fatalf("StoreContentByKey: %v", err)
	}

	payload, nodes, err := callerClient.FindContent(context.Background(), peerLocal.Node(), key)
	if err != nil {
		t.Fatalf("FindContent: %v", err)
	}
	if nodes != nil {
		t.Fatalf("expected no nodes on a content hit, got %d", len(nodes))
	}
	if string(payload) != string(data) {
		t.Fatalf("payload = %q, want %q", payload, data)
	}
}

func TestClientFindContentMiss(t *testing.T) {
	peerClient, peerLocal, _ := newTestClient(t)
	callerClient, _, _ := newTestClient(t)
	callerClient.talk = &loopbackTalker{peer: peerClient, peerID: peerLocal.ID()}

	payload, nodes, err := callerClient.FindContent(context.Background(), peerLocal.Node(), []byte("missing-key"))
	if err != nil {
		t.Fatalf("FindContent: %v", err)
	}
	if payload != nil {
		t.Fatal("expected nil payload on miss")
	}
	if len(nodes) != 0 {
		t.Fatalf("expected no nodes, got %d", len(nodes))
	}
}

func TestClientAdvertiseRequestsUnknownKeys(t *testing.T) {
	peerClient, peerLocal, _ := newTestClient(t)
	callerClient, _, _ := newTestClient(t)
	callerClient.talk = &loopbackTalker{peer: peerClient, peerID: peerLocal.ID()}

	known := []byte("already-have-this")
	peerClient.store.StoreContentByKey(known, []byte("data"))

	unknown := []byte("dont-have-this")
	_, wanted, err := callerClient.Advertise(context.Background(), peerLocal.Node(), [][]byte{known, unknown})
	if err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	if len(wanted) != 1 || string(wanted[0]) != string(unknown) {
		t.Fatalf("wanted = %v, want [%q]", wanted, unknown)
	}
}

func TestClientFindNodeEmptyDistances(t *testing.T) {
	peerClient, peerLocal, _ := newTestClient(t)
	callerClient, _, _ := newTestClient(t)
	callerClient.talk = &loopbackTalker{peer: peerClient, peerID: peerLocal.ID()}

	nodes, err := callerClient.FindNode(context.Background(), peerLocal.Node(), nil)
	if err != nil {
		t.Fatalf("FindNode: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("expected no nodes for an empty distance list, got %d", len(nodes))
	}
}

func TestClientFindNodeDistanceZeroReturnsLocalRecord(t *testing.T) {
	peerClient, peerLocal, _ := newTestClient(t)
	callerClient, _, _ := newTestClient(t)
	callerClient.talk = &loopbackTalker{peer: peerClient, peerID: peerLocal.ID()}

	nodes, err := callerClient.FindNode(context.Background(), peerLocal.Node(), []uint16{0})
	if err != nil {
		t.Fatalf("FindNode: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != peerLocal.ID() {
		t.Fatalf("nodes = %v, want [%v]", nodes, peerLocal.ID())
	}
}

func TestClientFindNodeOtherDistancesDelegateToTable(t *testing.T) {
	table := &fakeTable{}
	peerClient, peerLocal, _ := newTestClientWithTable(t, table)
	callerClient, _, _ := newTestClient(t)
	callerClient.talk = &loopbackTalker{peer: peerClient, peerID: peerLocal.ID()}

	otherKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	other := enode.NewLocalNode(otherKey, nil, 0, 30304).Node()
	table.nodes = []*enode.Node{other}

	nodes, err := callerClient.FindNode(context.Background(), peerLocal.Node(), []uint16{250, 251})
	if err != nil {
		t.Fatalf("FindNode: %v", err)
	}
	if len(table.requests) != 1 {
		t.Fatalf("expected exactly one table lookup, got %d", len(table.requests))
	}
	if len(nodes) != 1 || nodes[0].ID != other.ID {
		t.Fatalf("nodes = %v, want [%v]", nodes, other.ID)
	}
}
