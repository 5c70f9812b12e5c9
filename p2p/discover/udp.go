package discover

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	crand "crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/eth2030/discovery/common/mclock"
	"github.com/eth2030/discovery/common/netutil"
	"github.com/eth2030/discovery/log"
	"github.com/eth2030/discovery/p2p/enode"
	"github.com/eth2030/discovery/p2p/v5wire"
)

const (
	lookupRequestLimit      = 3  // distances requested per FINDNODE during a lookup
	findnodeResultLimit     = 16 // nodes kept per lookupWorker call
	totalNodesResponseLimit = 5  // NODES reply packets accepted for one FINDNODE
	findnodeSizeLimit       = 1000
)

// codecV5 is the subset of *v5wire.Codec the protocol core depends on,
// narrowed so tests can substitute a fake codec.
type codecV5 interface {
	Encode(id enode.ID, addr string, p v5wire.Packet, challenge *v5wire.Whoareyou) ([]byte, v5wire.Nonce, error)
	Decode(b []byte, addr string) (enode.ID, *enode.Node, v5wire.Packet, error)
	CurrentChallenge(id enode.ID, addr string) *v5wire.Whoareyou
	StoreSentHandshake(id enode.ID, addr string, w *v5wire.Whoareyou)
}

// UDPv5 is the discovery protocol's transport and call-dispatch core: a
// single event loop serializes packet handling and in-flight call
// bookkeeping (Section 2's single-threaded cooperative scheduling model);
// the routing table and the talk-protocol registry each guard their own
// state with a mutex.
type UDPv5 struct {
	conn        UDPConn
	tab         *table
	netrestrict *netutil.Netlist
	priv        *ecdsa.PrivateKey
	localNode   *enode.LocalNode
	db          *enode.DB
	log         *log.Logger
	clock       mclock.Clock
	respTimeout time.Duration
	metrics     *metrics

	talk *talkSystem
	ipv  *ipVoter

	packetInCh    chan ReadPacket
	readNextCh    chan struct{}
	callCh        chan *callV5
	callDoneCh    chan *callV5
	respTimeoutCh chan *callTimeout
	sendCh        chan sendRequest
	unhandled     chan<- ReadPacket

	codec            codecV5
	activeCallByNode map[enode.ID]*callV5
	activeCallByAuth map[v5wire.Nonce]*callV5
	callQueue        map[enode.ID][]*callV5

	closeOnce      sync.Once
	closeCtx       context.Context
	cancelCloseCtx context.CancelFunc
	wg             sync.WaitGroup
}

type sendRequest struct {
	destID   enode.ID
	destAddr *net.UDPAddr
	msg      v5wire.Packet
}

// callV5 represents one outstanding RPC against a remote node.
type callV5 struct {
	id   enode.ID
	addr *net.UDPAddr
	node *enode.Node // needed to complete a handshake

	packet       v5wire.Packet
	responseType byte
	reqid        []byte
	ch           chan v5wire.Packet
	err          chan error

	nonce          v5wire.Nonce
	handshakeCount int
	challenge      *v5wire.Whoareyou
	timeout        mclock.Timer
}

type callTimeout struct {
	c     *callV5
	timer mclock.Timer
}

// ListenV5 starts listening on conn and returns a running protocol instance.
func ListenV5(conn UDPConn, ln *enode.LocalNode, cfg Config) (*UDPv5, error) {
	t, err := newUDPv5(conn, ln, cfg)
	if err != nil {
		return nil, err
	}
	t.tab.start()
	t.wg.Add(2)
	go t.readLoop()
	go t.dispatch()
	t.tab.requestFresh()
	return t, nil
}

func newUDPv5(conn UDPConn, ln *enode.LocalNode, cfg Config) (*UDPv5, error) {
	closeCtx, cancel := context.WithCancel(context.Background())
	cfg = cfg.withDefaults()
	t := &UDPv5{
		conn:        conn,
		localNode:   ln,
		db:          enode.NewDB(),
		netrestrict: cfg.NetRestrict,
		priv:        cfg.PrivateKey,
		log:         cfg.Log,
		clock:       cfg.Clock,
		respTimeout: cfg.RespTimeout,
		metrics:     newMetrics(),

		packetInCh:    make(chan ReadPacket, 1),
		readNextCh:    make(chan struct{}, 1),
		callCh:        make(chan *callV5),
		callDoneCh:    make(chan *callV5),
		sendCh:        make(chan sendRequest),
		respTimeoutCh: make(chan *callTimeout),
		unhandled:     cfg.Unhandled,

		codec:            v5wire.NewCodec(ln, cfg.PrivateKey, cfg.Clock),
		activeCallByNode: make(map[enode.ID]*callV5),
		activeCallByAuth: make(map[v5wire.Nonce]*callV5),
		callQueue:        make(map[enode.ID][]*callV5),

		closeCtx:       closeCtx,
		cancelCloseCtx: cancel,
	}
	t.talk = newTalkSystem()
	t.ipv = newIPVoter(ln)
	t.tab = newTable(t, t.db, ln.ID(), cfg)
	for _, b := range cfg.Bootnodes {
		if n, err := enode.ParseNode(b); err == nil {
			t.tab.addFoundNode(n)
		} else {
			t.log.Warn("invalid bootnode", "enode", b, "err", err)
		}
	}
	return t, nil
}

// Self returns the local node record.
func (t *UDPv5) Self() *enode.Node { return t.localNode.Node() }

// Close shuts down packet processing and the routing table.
func (t *UDPv5) Close() {
	t.closeOnce.Do(func() {
		t.cancelCloseCtx()
		t.conn.Close()
		t.wg.Wait()
		t.tab.close()
	})
}

// LocalNode returns the local node wrapper, for mutating the advertised
// record (e.g. Portal radius updates).
func (t *UDPv5) LocalNode() *enode.LocalNode { return t.localNode }

// AllNodes returns every node currently in the routing table.
func (t *UDPv5) AllNodes() []*enode.Node { return t.tab.nodes() }

// AddKnownNode seeds the routing table directly; intended for tests and
// static bootstrap lists.
func (t *UDPv5) AddKnownNode(n *enode.Node) { t.tab.addFoundNode(n) }

// DeleteNode removes a node from the routing table.
func (t *UDPv5) DeleteNode(id enode.NodeID) { t.tab.deleteNode(id) }

// NeighboursAtDistances returns up to findnodeResultLimit nodes from the
// routing table at the given log-distances, for talk-protocol tenants (C10's
// Portal overlay) that need to answer a FINDNODE-shaped request against the
// same table the core discv5 FINDNODE handler uses.
func (t *UDPv5) NeighboursAtDistances(distances []uint16) []*enode.Node {
	return t.tab.neighboursAtDistances(distances, findnodeResultLimit)
}

// GetNode returns the live routing-table entry for id, or nil.
func (t *UDPv5) GetNode(id enode.NodeID) *enode.Node {
	if n := t.tab.getNode(id); n != nil {
		return n
	}
	return nil
}

// RegisterTalkHandler installs h as the handler for TALKREQ messages
// carrying the given protocol tag (e.g. "portal").
func (t *UDPv5) RegisterTalkHandler(protocol string, h TalkRequestHandler) {
	t.talk.register(protocol, h)
}

// TalkRequest sends a talk request to n and waits for the response.
func (t *UDPv5) TalkRequest(n *enode.Node, protocol string, request []byte) ([]byte, error) {
	req := &v5wire.TalkRequest{Protocol: protocol, Message: request}
	c := t.callToNode(n, v5wire.TalkResponseMsg, req)
	defer t.callDone(c)
	select {
	case resp := <-c.ch:
		return resp.(*v5wire.TalkResponse).Message, nil
	case err := <-c.err:
		return nil, err
	}
}

// Resolve looks up the most recent record for n, returning n unchanged if
// no newer record could be found.
func (t *UDPv5) Resolve(n *enode.Node) *enode.Node {
	if intable := t.tab.getNode(n.ID); intable != nil && intable.Seq() > n.Seq() {
		n = intable
	}
	if resp, err := t.RequestENR(n); err == nil {
		return resp
	}
	for _, rn := range t.Lookup(n.ID) {
		if rn.ID == n.ID && rn.Seq() > n.Seq() {
			return rn
		}
	}
	return n
}

// Lookup performs a recursive lookup for target and returns the closest
// nodes found.
func (t *UDPv5) Lookup(target enode.NodeID) []*enode.Node {
	return t.newLookup(t.closeCtx, target).run()
}

func (t *UDPv5) lookupRandom() []*enode.Node { return t.newRandomLookup(t.closeCtx).run() }
func (t *UDPv5) lookupSelf() []*enode.Node   { return t.newLookup(t.closeCtx, t.Self().ID).run() }

func (t *UDPv5) newRandomLookup(ctx context.Context) *lookup {
	var target enode.NodeID
	crand.Read(target[:])
	return t.newLookup(ctx, target)
}

func (t *UDPv5) newLookup(ctx context.Context, target enode.NodeID) *lookup {
	return newLookup(ctx, t.tab, target, func(n *enode.Node) ([]*enode.Node, error) {
		return t.lookupWorker(n, target)
	})
}

func (t *UDPv5) lookupWorker(dest *enode.Node, target enode.NodeID) ([]*enode.Node, error) {
	dists := lookupDistances(target, dest.ID)
	var nodes nodesByDistance
	nodes.target = target

	r, err := t.Findnode(dest, dists)
	if errors.Is(err, errClosed) {
		return nil, err
	}
	for _, n := range r {
		if n.ID != t.Self().ID {
			nodes.push(n, findnodeResultLimit)
		}
	}
	return nodes.entries, err
}

// lookupDistances picks the distances adjacent to logdist(target, dest),
// e.g. logdist==255 yields [255, 256, 254].
func lookupDistances(target, dest enode.NodeID) (dists []uint) {
	td := enode.Distance(target, dest)
	dists = append(dists, uint(td))
	for i := 1; len(dists) < lookupRequestLimit; i++ {
		if td+i <= 256 {
			dists = append(dists, uint(td+i))
		}
		if td-i > 0 {
			dists = append(dists, uint(td-i))
		}
	}
	return dists
}

// pingTable calls PING and returns the peer's ENR sequence number, used by
// the table's revalidation loop (satisfies the table's transport interface).
func (t *UDPv5) pingTable(n *enode.Node) (uint64, error) {
	pong, err := t.Ping(n)
	if err != nil {
		return 0, err
	}
	return pong.ENRSeq, nil
}

// Ping calls PING on n and waits for the PONG.
func (t *UDPv5) Ping(n *enode.Node) (*v5wire.Pong, error) {
	req := &v5wire.Ping{ENRSeq: t.localNode.Seq()}
	c := t.callToNode(n, v5wire.PongMsg, req)
	defer t.callDone(c)
	select {
	case p := <-c.ch:
		return p.(*v5wire.Pong), nil
	case err := <-c.err:
		return nil, err
	}
}

// RequestENR asks n directly for its current record.
func (t *UDPv5) RequestENR(n *enode.Node) (*enode.Node, error) {
	nodes, err := t.Findnode(n, []uint{0})
	if err != nil {
		return nil, err
	}
	if len(nodes) != 1 {
		return nil, fmt.Errorf("discover: %d nodes in response for distance zero", len(nodes))
	}
	return nodes[0], nil
}

// Findnode calls FINDNODE on n for the given distances and waits for the
// NODES response(s).
func (t *UDPv5) Findnode(n *enode.Node, distances []uint) ([]*enode.Node, error) {
	c := t.callToNode(n, v5wire.NodesMsg, &v5wire.Findnode{Distances: distances})
	return t.waitForNodes(c, distances)
}

func (t *UDPv5) waitForNodes(c *callV5, distances []uint) ([]*enode.Node, error) {
	defer t.callDone(c)
	var (
		nodes           []*enode.Node
		seen            = make(map[enode.NodeID]struct{})
		received, total = 0, -1
	)
	for {
		select {
		case respP := <-c.ch:
			resp := respP.(*v5wire.Nodes)
			recs, err := v5wire.NodesFromRecords(resp.Records)
			if err != nil {
				t.log.Debug("bad NODES record", "id", c.node, "err", err)
			} else {
				for _, n := range recs {
					vn, err := t.verifyResponseNode(c, n, distances, seen)
					if err != nil {
						t.log.Debug("invalid NODES entry", "err", err)
						continue
					}
					nodes = append(nodes, vn)
				}
			}
			if total == -1 {
				total = int(resp.RespCount)
				if total > totalNodesResponseLimit {
					total = totalNodesResponseLimit
				}
				if total == 0 {
					total = 1
				}
			}
			if received++; received >= total {
				return nodes, nil
			}
		case err := <-c.err:
			if received > 0 && errors.Is(err, errTimeout) {
				return nodes, nil
			}
			return nodes, err
		}
	}
}

func (t *UDPv5) verifyResponseNode(c *callV5, n *enode.Node, distances []uint, seen map[enode.NodeID]struct{}) (*enode.Node, error) {
	if n.IP != nil {
		if err := netutil.CheckRelayIP(c.addr.IP, n.IP); err != nil {
			return nil, err
		}
		if t.netrestrict != nil && !t.netrestrict.Contains(n.IP) {
			return nil, errors.New("discover: not contained in netrestrict list")
		}
	}
	if n.UDP != 0 && n.UDP <= 1024 {
		return nil, errLowPort
	}
	if distances != nil {
		nd := uint(enode.Distance(c.id, n.ID))
		if !containsUint(nd, distances) {
			return nil, errors.New("discover: distance does not match any requested distance")
		}
	}
	if _, ok := seen[n.ID]; ok {
		return nil, errors.New("discover: duplicate record")
	}
	seen[n.ID] = struct{}{}
	return n, nil
}

func containsUint(x uint, xs []uint) bool {
	for _, v := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func (t *UDPv5) callToNode(n *enode.Node, responseType byte, req v5wire.Packet) *callV5 {
	addr := &net.UDPAddr{IP: n.IP, Port: int(n.UDP)}
	c := &callV5{id: n.ID, addr: addr, node: n}
	t.initCall(c, responseType, req)
	return c
}

func (t *UDPv5) callToID(id enode.ID, addr *net.UDPAddr, responseType byte, req v5wire.Packet) *callV5 {
	c := &callV5{id: id, addr: addr}
	t.initCall(c, responseType, req)
	return c
}

func (t *UDPv5) initCall(c *callV5, responseType byte, packet v5wire.Packet) {
	c.packet = packet
	c.responseType = responseType
	c.reqid = make([]byte, 8)
	c.ch = make(chan v5wire.Packet, 1)
	c.err = make(chan error, 1)
	crand.Read(c.reqid)
	packet.SetRequestID(c.reqid)
	select {
	case t.callCh <- c:
	case <-t.closeCtx.Done():
		c.err <- errClosed
	}
}

func (t *UDPv5) callDone(c *callV5) {
	for {
		select {
		case <-c.ch:
		case <-c.err:
		case t.callDoneCh <- c:
			return
		case <-t.closeCtx.Done():
			return
		}
	}
}

// dispatch is the protocol's single event loop: every mutation of call
// bookkeeping and every decoded packet passes through here.
func (t *UDPv5) dispatch() {
	defer t.wg.Done()
	t.readNextCh <- struct{}{}

	for {
		select {
		case c := <-t.callCh:
			t.callQueue[c.id] = append(t.callQueue[c.id], c)
			t.sendNextCall(c.id)

		case ct := <-t.respTimeoutCh:
			active := t.activeCallByNode[ct.c.id]
			if ct.c == active && ct.timer == active.timeout {
				t.metrics.requestsOutgoing.WithLabelValues("timeout").Inc()
				ct.c.err <- errTimeout
			}

		case c := <-t.callDoneCh:
			active := t.activeCallByNode[c.id]
			if active != c {
				continue // already superseded, e.g. by a duplicate callDone
			}
			if c.timeout != nil {
				c.timeout.Stop()
			}
			delete(t.activeCallByAuth, c.nonce)
			delete(t.activeCallByNode, c.id)
			t.sendNextCall(c.id)

		case r := <-t.sendCh:
			t.send(r.destID, r.destAddr, r.msg, nil)

		case p := <-t.packetInCh:
			t.handlePacket(p.Data, p.Addr)
			t.readNextCh <- struct{}{}

		case <-t.closeCtx.Done():
			close(t.readNextCh)
			for id, queue := range t.callQueue {
				for _, c := range queue {
					c.err <- errClosed
				}
				delete(t.callQueue, id)
			}
			for id, c := range t.activeCallByNode {
				c.err <- errClosed
				delete(t.activeCallByNode, id)
				delete(t.activeCallByAuth, c.nonce)
			}
			return
		}
	}
}

func (t *UDPv5) startResponseTimeout(c *callV5) {
	if c.timeout != nil {
		c.timeout.Stop()
	}
	var timer mclock.Timer
	timer = t.clock.AfterFunc(t.respTimeout, func() {
		select {
		case t.respTimeoutCh <- &callTimeout{c, timer}:
		case <-t.closeCtx.Done():
		}
	})
	c.timeout = timer
}

func (t *UDPv5) sendNextCall(id enode.ID) {
	queue := t.callQueue[id]
	if len(queue) == 0 || t.activeCallByNode[id] != nil {
		return
	}
	t.activeCallByNode[id] = queue[0]
	t.sendCall(t.activeCallByNode[id])
	if len(queue) == 1 {
		delete(t.callQueue, id)
	} else {
		copy(queue, queue[1:])
		t.callQueue[id] = queue[:len(queue)-1]
	}
}

func (t *UDPv5) sendCall(c *callV5) {
	if c.nonce != (v5wire.Nonce{}) {
		delete(t.activeCallByAuth, c.nonce)
	}
	newNonce, _ := t.send(c.id, c.addr, c.packet, c.challenge)
	c.nonce = newNonce
	t.activeCallByAuth[newNonce] = c
	t.startResponseTimeout(c)
}

func (t *UDPv5) sendResponse(toID enode.ID, toAddr *net.UDPAddr, packet v5wire.Packet) error {
	_, err := t.send(toID, toAddr, packet, nil)
	return err
}

func (t *UDPv5) send(toID enode.ID, toAddr *net.UDPAddr, packet v5wire.Packet, c *v5wire.Whoareyou) (v5wire.Nonce, error) {
	addr := toAddr.String()
	enc, nonce, err := t.codec.Encode(toID, addr, packet, c)
	if err != nil {
		t.log.Warn(">> "+packet.Name(), "id", toID, "addr", addr, "err", err)
		return nonce, err
	}
	_, err = t.conn.WriteToUDP(enc, toAddr)
	return nonce, err
}

func (t *UDPv5) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, maxPacketSize)
	for range t.readNextCh {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.log.Debug("UDP read error", "err", err)
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case t.packetInCh <- ReadPacket{Data: data, Addr: from}:
		case <-t.closeCtx.Done():
			return
		}
	}
}

func (t *UDPv5) handlePacket(raw []byte, from *net.UDPAddr) {
	addr := from.String()
	fromID, fromNode, packet, err := t.codec.Decode(raw, addr)
	if err != nil {
		if t.unhandled != nil && v5wire.IsInvalidHeader(err) {
			up := ReadPacket{Data: append([]byte(nil), raw...), Addr: from}
			select {
			case t.unhandled <- up:
			default:
			}
			return
		}
		t.log.Debug("bad discv5 packet", "id", fromID, "addr", addr, "err", err)
		return
	}
	if fromNode != nil {
		t.tab.addInboundNode(fromNode)
	}
	t.handle(packet, fromID, from)
}

func (t *UDPv5) handle(p v5wire.Packet, fromID enode.ID, fromAddr *net.UDPAddr) {
	switch p := p.(type) {
	case *v5wire.Unknown:
		t.handleUnknown(p, fromID, fromAddr)
	case *v5wire.Whoareyou:
		t.handleWhoareyou(p, fromID, fromAddr)
	case *v5wire.Ping:
		t.handlePing(p, fromID, fromAddr)
	case *v5wire.Pong:
		t.handleCallResponse(fromID, fromAddr, p)
	case *v5wire.Findnode:
		t.handleFindnode(p, fromID, fromAddr)
	case *v5wire.Nodes:
		t.handleCallResponse(fromID, fromAddr, p)
	case *v5wire.TalkRequest:
		t.handleTalkRequest(p, fromID, fromAddr)
	case *v5wire.TalkResponse:
		t.handleCallResponse(fromID, fromAddr, p)
	}
}

func (t *UDPv5) handleCallResponse(fromID enode.ID, fromAddr *net.UDPAddr, p v5wire.Packet) bool {
	ac := t.activeCallByNode[fromID]
	if ac == nil || !bytes.Equal(p.RequestID(), ac.reqid) {
		t.metrics.unsolicited.Inc()
		t.log.Debug(fmt.Sprintf("unsolicited/late %s response", p.Name()), "id", fromID, "addr", fromAddr)
		return false
	}
	if ac.addr.String() != fromAddr.String() {
		t.log.Debug(fmt.Sprintf("%s from wrong endpoint", p.Name()), "id", fromID, "addr", fromAddr)
		return false
	}
	if p.Kind() != ac.responseType {
		t.log.Debug(fmt.Sprintf("wrong discv5 response type %s", p.Name()), "id", fromID, "addr", fromAddr)
		return false
	}
	t.metrics.requestsOutgoing.WithLabelValues("ok").Inc()
	t.startResponseTimeout(ac)
	ac.ch <- p
	return true
}

func (t *UDPv5) handleUnknown(p *v5wire.Unknown, fromID enode.ID, fromAddr *net.UDPAddr) {
	addr := fromAddr.String()
	if current := t.codec.CurrentChallenge(fromID, addr); current != nil {
		t.log.Debug("repeating discv5 handshake challenge", "id", fromID, "addr", addr)
		t.sendResponse(fromID, fromAddr, current)
		return
	}
	challenge := &v5wire.Whoareyou{Nonce: p.Nonce}
	crand.Read(challenge.IDNonce[:])
	if n := t.GetNode(fromID); n != nil {
		challenge.Node = n
		challenge.RecordSeq = n.Seq()
	}
	t.codec.StoreSentHandshake(fromID, addr, challenge)
	t.sendResponse(fromID, fromAddr, challenge)
}

func (t *UDPv5) handleWhoareyou(p *v5wire.Whoareyou, fromID enode.ID, fromAddr *net.UDPAddr) {
	c, err := t.matchWithCall(fromID, p.Nonce)
	if err != nil {
		t.log.Debug("invalid WHOAREYOU", "addr", fromAddr, "err", err)
		return
	}
	if c.node == nil {
		c.err <- errors.New("discover: remote wants handshake, but call has no ENR")
		return
	}
	c.handshakeCount++
	c.challenge = p
	p.Node = c.node
	t.sendCall(c)
}

func (t *UDPv5) matchWithCall(fromID enode.ID, nonce v5wire.Nonce) (*callV5, error) {
	c := t.activeCallByAuth[nonce]
	if c == nil {
		return nil, errChallengeNoCall
	}
	if c.handshakeCount > 0 {
		return nil, errChallengeTwice
	}
	return c, nil
}

func (t *UDPv5) handlePing(p *v5wire.Ping, fromID enode.ID, fromAddr *net.UDPAddr) {
	t.metrics.requestsIncoming.Inc()
	t.ipv.vote(fromID, fromAddr.IP)
	t.sendResponse(fromID, fromAddr, &v5wire.Pong{
		ReqID:  p.ReqID,
		ENRSeq: t.localNode.Seq(),
	})
}

func (t *UDPv5) handleFindnode(p *v5wire.Findnode, fromID enode.ID, fromAddr *net.UDPAddr) {
	t.metrics.requestsIncoming.Inc()
	nodes := t.collectTableNodes(fromAddr.IP, p.Distances, findnodeResultLimit)
	for _, resp := range packNodes(p.ReqID, nodes) {
		t.sendResponse(fromID, fromAddr, resp)
	}
}

func (t *UDPv5) collectTableNodes(rip net.IP, distances []uint, limit int) []*enode.Node {
	var nodes []*enode.Node
	processed := make(map[uint]struct{})
	for _, dist := range distances {
		if _, seen := processed[dist]; seen || dist > nBuckets {
			continue
		}
		processed[dist] = struct{}{}
		var bn []*enode.Node
		bn = t.tab.appendBucketNodes(dist, bn)
		for _, n := range bn {
			if n.IP != nil && netutil.CheckRelayIP(rip, n.IP) != nil {
				continue
			}
			nodes = append(nodes, n)
			if len(nodes) >= limit {
				return nodes
			}
		}
	}
	return nodes
}

// packNodes splits nodes into one or more NODES response packets, each
// bounded so the resulting UDP datagram stays within maxPacketSize.
func packNodes(reqid []byte, nodes []*enode.Node) []*v5wire.Nodes {
	if len(nodes) == 0 {
		return []*v5wire.Nodes{{ReqID: reqid, RespCount: 1}}
	}
	var resp []*v5wire.Nodes
	for len(nodes) > 0 {
		p := &v5wire.Nodes{ReqID: reqid}
		size := 0
		for len(nodes) > 0 {
			recs, err := v5wire.RecordsFromNodes(nodes[:1])
			if err != nil || len(recs) == 0 {
				nodes = nodes[1:]
				continue
			}
			if size += len(recs[0]); size > findnodeSizeLimit && len(p.Records) > 0 {
				break
			}
			p.Records = append(p.Records, recs[0])
			nodes = nodes[1:]
		}
		resp = append(resp, p)
	}
	for _, msg := range resp {
		msg.RespCount = uint8(len(resp))
	}
	return resp
}

// handleTalkRequest dispatches an incoming TALKREQ to the registered
// handler for its protocol tag and answers with TALKRESP.
func (t *UDPv5) handleTalkRequest(p *v5wire.TalkRequest, fromID enode.ID, fromAddr *net.UDPAddr) {
	t.metrics.requestsIncoming.Inc()
	resp := t.talk.handle(fromID, fromAddr.String(), p.Protocol, p.Message)
	t.sendResponse(fromID, fromAddr, &v5wire.TalkResponse{ReqID: p.ReqID, Message: resp})
}
