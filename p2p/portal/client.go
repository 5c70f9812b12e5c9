// client.go wraps the generic talk-request/response primitive (C6/C8) with
// the Portal overlay's typed message exchange, the concrete tenant C10
// names in its component list.
package portal

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eth2030/discovery/p2p/enode"
	"github.com/eth2030/discovery/p2p/enr"
)

// Talker is the subset of the discovery core's talk dispatcher (C8) that
// Client needs: a synchronous, round-tripped talk request addressed to a
// known node.
type Talker interface {
	TalkRequest(ctx context.Context, n *enode.Node, protocol string, request []byte) ([]byte, error)
}

// RoutingTable is the subset of the shared C4 routing table Client needs to
// answer FINDNODE-shaped requests for distances other than 0: the same
// table the core discv5 FINDNODE handler (udp.go's handleFindnode) draws
// its NODES responses from.
type RoutingTable interface {
	NeighboursAtDistances(distances []uint16) []*enode.Node
}

// Client issues Portal overlay requests over a Talker and answers
// incoming ones against a local Store.
type Client struct {
	talk  Talker
	store *Store
	local *enode.LocalNode
	table RoutingTable
}

// NewClient builds a Client that serves content out of store, reports the
// sequence number and record of local, and resolves FindNode requests
// against table.
func NewClient(talk Talker, store *Store, local *enode.LocalNode, table RoutingTable) *Client {
	return &Client{talk: talk, store: store, local: local, table: table}
}

func (c *Client) call(ctx context.Context, n *enode.Node, m Message) (Message, error) {
	req, err := Encode(m)
	if err != nil {
		return nil, err
	}
	resp, err := c.talk.TalkRequest(ctx, n, ProtocolID, req)
	if err != nil {
		return nil, err
	}
	return Decode(resp)
}

// Ping exchanges liveness and radius information with n.
func (c *Client) Ping(ctx context.Context, n *enode.Node) (*Pong, error) {
	resp, err := c.call(ctx, n, &Ping{
		ENRSeq:     c.local.Seq(),
		DataRadius: radiusToBytes(c.store.Radius()),
	})
	if err != nil {
		return nil, err
	}
	pong, ok := resp.(*Pong)
	if !ok {
		return nil, ErrKindMismatch
	}
	return pong, nil
}

// FindNode asks n for nodes at the given log-distances.
func (c *Client) FindNode(ctx context.Context, n *enode.Node, distances []uint16) ([]*enode.Node, error) {
	resp, err := c.call(ctx, n, &FindNode{Distances: distances})
	if err != nil {
		return nil, err
	}
	nodesMsg, ok := resp.(*Nodes)
	if !ok {
		return nil, ErrKindMismatch
	}
	return decodeNodeList(nodesMsg.Enrs)
}

// FindContent requests content (or the closer nodes that might have it)
// for contentKey from n.
func (c *Client) FindContent(ctx context.Context, n *enode.Node, contentKey []byte) ([]byte, []*enode.Node, error) {
	resp, err := c.call(ctx, n, &FindContent{ContentKey: contentKey})
	if err != nil {
		return nil, nil, err
	}
	fc, ok := resp.(*FoundContent)
	if !ok {
		return nil, nil, ErrKindMismatch
	}
	if len(fc.Payload) > 0 {
		return fc.Payload, nil, nil
	}
	nodes, err := decodeNodeList(fc.Enrs)
	return nil, nodes, err
}

// Advertise tells n that the local node holds contentKeys, returning the
// connection ID n assigns for the follow-up content transfer.
func (c *Client) Advertise(ctx context.Context, n *enode.Node, contentKeys [][]byte) ([]byte, [][]byte, error) {
	resp, err := c.call(ctx, n, &Advertise{ContentKeys: contentKeys})
	if err != nil {
		return nil, nil, err
	}
	rp, ok := resp.(*RequestProofs)
	if !ok {
		return nil, nil, ErrKindMismatch
	}
	return rp.ConnectionID, rp.ContentKeys, nil
}

// HandleTalkRequest answers an incoming Portal-protocol talk request,
// implementing the ingress side of the exchanges above. Registered with
// the discovery core's talk dispatcher (C8) under ProtocolID.
func (c *Client) HandleTalkRequest(fromID [32]byte, request []byte) ([]byte, error) {
	msg, err := Decode(request)
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case *Ping:
		return Encode(&Pong{
			ENRSeq:     c.local.Seq(),
			DataRadius: radiusToBytes(c.store.Radius()),
		})
	case *FindNode:
		return c.handleFindNode(m)
	case *FindContent:
		id := ComputeContentID(m.ContentKey)
		if data, err := c.store.Get(id); err == nil {
			return Encode(&FoundContent{Payload: data})
		}
		return Encode(&FoundContent{})
	case *Advertise:
		want := make([][]byte, 0, len(m.ContentKeys))
		for _, key := range m.ContentKeys {
			id := ComputeContentID(key)
			if !c.store.Has(id) && IsWithinRadius(c.local.ID(), id, c.store.Radius()) {
				want = append(want, key)
			}
		}
		return Encode(&RequestProofs{ContentKeys: want})
	default:
		return nil, fmt.Errorf("portal: unexpected request kind %T", msg)
	}
}

// handleFindNode answers a FindNode request per Section 4.10: an empty
// distance list gets an empty reply, a list containing 0 gets just the
// local record back, and anything else is resolved against the shared
// routing table via RoutingTable.NeighboursAtDistances.
func (c *Client) handleFindNode(m *FindNode) ([]byte, error) {
	if len(m.Distances) == 0 {
		return Encode(&Nodes{Total: 1})
	}
	for _, d := range m.Distances {
		if d != 0 {
			continue
		}
		rec := c.local.Record()
		if rec == nil {
			return Encode(&Nodes{Total: 1})
		}
		b, err := encodeENR(rec)
		if err != nil {
			return nil, err
		}
		return Encode(&Nodes{Total: 1, Enrs: [][]byte{b}})
	}
	if c.table == nil {
		return Encode(&Nodes{Total: 1})
	}
	neighbours := c.table.NeighboursAtDistances(m.Distances)
	enrs := make([][]byte, 0, len(neighbours))
	for _, n := range neighbours {
		if n.Record == nil {
			continue
		}
		b, err := encodeENR(n.Record)
		if err != nil {
			return nil, err
		}
		enrs = append(enrs, b)
		if len(enrs) >= maxENRs {
			break
		}
	}
	return Encode(&Nodes{Total: 1, Enrs: enrs})
}

func decodeNodeList(raw [][]byte) ([]*enode.Node, error) {
	nodes := make([]*enode.Node, 0, len(raw))
	for _, b := range raw {
		rec, err := decodeENR(b)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, enode.NodeFromRecord(rec))
	}
	return nodes, nil
}

// radiusFromNode reads the advertised radius out of a remote node's
// record, falling back to MaxRadius when absent.
func radiusFromNode(n *enode.Node) *uint256.Int {
	if n.Record == nil {
		return MaxRadius()
	}
	if b := enr.PortalRadius(n.Record); b != nil {
		return radiusFromBytes(b)
	}
	return MaxRadius()
}
