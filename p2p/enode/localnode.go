package enode

import (
	"crypto/ecdsa"
	"net"
	"sync"

	"github.com/eth2030/discovery/p2p/enr"
)

// LocalNode wraps the local node's mutable record. Every mutation bumps the
// sequence number and re-signs, matching the donor's pattern of treating ENR
// signing as the "external collaborator" invoked only through Sign/Verify.
type LocalNode struct {
	mu  sync.Mutex
	key *ecdsa.PrivateKey
	rec *enr.Record
	id  NodeID
}

// NewLocalNode creates a LocalNode bound to key, with an initial record
// advertising ip/tcp/udp. The record is immediately signed.
func NewLocalNode(key *ecdsa.PrivateKey, ip net.IP, tcp, udp uint16) *LocalNode {
	r := &enr.Record{}
	if ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			enr.SetIP(r, ip4)
		} else {
			enr.SetIP6(r, ip)
		}
	}
	if tcp != 0 {
		enr.SetTCP(r, tcp)
	}
	if udp != 0 {
		enr.SetUDP(r, udp)
	}
	ln := &LocalNode{key: key, rec: r}
	ln.sign()
	return ln
}

func (ln *LocalNode) sign() {
	ln.rec.SetSeq(ln.rec.Seq + 1)
	if err := enr.Sign(ln.rec, ln.key); err != nil {
		panic("enode: local record signing failed: " + err.Error())
	}
	ln.id = NodeID(ln.rec.NodeID())
}

// ID returns the local node ID.
func (ln *LocalNode) ID() NodeID {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.id
}

// Node returns a snapshot Node built from the current record.
func (ln *LocalNode) Node() *Node {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return NodeFromRecord(ln.rec.Clone())
}

// Record returns a copy of the current signed record.
func (ln *LocalNode) Record() *enr.Record {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.rec.Clone()
}

// Seq returns the current sequence number.
func (ln *LocalNode) Seq() uint64 {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.rec.Seq
}

// SetIP updates the advertised IP address if it differs from the current
// value, bumping and re-signing the record. Called by the IP-vote
// accumulator (C9) whenever a vote reaches a majority.
func (ln *LocalNode) SetIP(ip net.IP) (changed bool) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	cur := enr.IP(ln.rec)
	if cur != nil && ip.Equal(cur) {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		enr.SetIP(ln.rec, ip4)
	} else {
		enr.SetIP6(ln.rec, ip)
	}
	ln.sign()
	return true
}

// SetUDP updates the advertised UDP port, bumping and re-signing the record.
func (ln *LocalNode) SetUDP(port uint16) (changed bool) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if enr.UDP(ln.rec) == port {
		return false
	}
	enr.SetUDP(ln.rec, port)
	ln.sign()
	return true
}

// SetPortalRadius advertises the Portal (C10) content radius in the local
// record, bumping and re-signing.
func (ln *LocalNode) SetPortalRadius(radius []byte) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	enr.SetPortalRadius(ln.rec, radius)
	ln.sign()
}

// PublicKey returns the local node's public key.
func (ln *LocalNode) PublicKey() *ecdsa.PublicKey {
	return &ln.key.PublicKey
}
