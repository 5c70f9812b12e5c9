// Package portal implements the concrete C10 talk-protocol tenant: a
// content-routing overlay riding on the discovery core's talk sub-protocol
// dispatcher (C8), identified by the ASCII protocol id "portal".
package portal

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/eth2030/discovery/p2p/enr"
)

// ProtocolID is the talk sub-protocol identifier this overlay registers
// under (Section 6: "the ASCII bytes `portal`").
const ProtocolID = "portal"

// Wire message kind tags (Section 6).
const (
	KindPing           byte = 1
	KindPong           byte = 2
	KindFindNode       byte = 3
	KindNodes          byte = 4
	KindFindContent    byte = 5
	KindFoundContent   byte = 6
	KindAdvertise      byte = 7
	KindRequestProofs  byte = 8
)

// Protocol limits (Section 4.10).
const (
	maxDistances = 256
	maxENRs      = 32
)

var (
	ErrUnknownKind     = errors.New("portal: unknown message kind")
	ErrKindMismatch    = errors.New("portal: response kind does not match call")
	ErrEmptyPayload    = errors.New("portal: empty payload")
	ErrContentNotFound = errors.New("portal: content not found")
	ErrTooManyEntries  = errors.New("portal: too many entries in message")
)

// ContentID is a 32-byte identifier derived from a content key. Content
// placement in the DHT key space is keyed by this identifier's XOR
// distance to a node id, exactly as node placement is (Section 4.10).
type ContentID [32]byte

func (c ContentID) Bytes() []byte { return c[:] }
func (c ContentID) IsZero() bool  { return c == ContentID{} }

// ComputeContentID derives the content ID from an opaque content key using
// the same keccak256 hash the rest of this module uses for node identity
// (Section 4.10).
func ComputeContentID(contentKey []byte) ContentID {
	h := crypto.Keccak256Hash(contentKey)
	var id ContentID
	copy(id[:], h[:])
	return id
}

// Distance computes the XOR distance between two 32-byte identifiers, the
// same metric the routing table (C4) uses for node ids.
func Distance(a, b [32]byte) *big.Int {
	var xored [32]byte
	for i := range a {
		xored[i] = a[i] ^ b[i]
	}
	return new(big.Int).SetBytes(xored[:])
}

// LogDistance returns the bit length of the XOR distance between a and b.
func LogDistance(a, b [32]byte) int {
	return Distance(a, b).BitLen()
}

// MaxRadius returns the radius that covers the entire key space
// (Section 4.10: "Local dataRadius defaults to u256::MAX").
func MaxRadius() *uint256.Int {
	return new(uint256.Int).Not(uint256.NewInt(0))
}

// ZeroRadius returns the radius that covers nothing.
func ZeroRadius() *uint256.Int {
	return uint256.NewInt(0)
}

// WithinRadius reports whether contentID falls within radius of nodeID.
func WithinRadius(nodeID [32]byte, contentID ContentID, radius *uint256.Int) bool {
	dist := Distance(nodeID, contentID)
	var distU256 uint256.Int
	distU256.SetFromBig(dist)
	return distU256.Cmp(radius) <= 0
}

// --- wire message bodies ---

type Ping struct {
	ReqID      []byte
	ENRSeq     uint64
	DataRadius []byte // 32-byte big-endian uint256
}

type Pong struct {
	ReqID      []byte
	ENRSeq     uint64
	DataRadius []byte
}

type FindNode struct {
	ReqID     []byte
	Distances []uint16
}

type Nodes struct {
	ReqID []byte
	Total uint8
	Enrs  [][]byte // each element is an enr.Encode'd record
}

type FindContent struct {
	ReqID      []byte
	ContentKey []byte
}

type FoundContent struct {
	ReqID   []byte
	Enrs    [][]byte
	Payload []byte
}

type Advertise struct {
	ReqID       []byte
	ContentKeys [][]byte
}

type RequestProofs struct {
	ReqID        []byte
	ConnectionID []byte // 4 bytes
	ContentKeys  [][]byte
}

// Message is implemented by every wire message body.
type Message interface {
	Kind() byte
}

func (*Ping) Kind() byte          { return KindPing }
func (*Pong) Kind() byte          { return KindPong }
func (*FindNode) Kind() byte      { return KindFindNode }
func (*Nodes) Kind() byte         { return KindNodes }
func (*FindContent) Kind() byte   { return KindFindContent }
func (*FoundContent) Kind() byte  { return KindFoundContent }
func (*Advertise) Kind() byte     { return KindAdvertise }
func (*RequestProofs) Kind() byte { return KindRequestProofs }

// Encode serializes a message body as one byte kind tag followed by its
// RLP structural encoding (Section 6).
func Encode(m Message) ([]byte, error) {
	body, err := rlp.EncodeToBytes(m)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(body))
	out[0] = m.Kind()
	copy(out[1:], body)
	return out, nil
}

// Decode parses a one-byte kind tag followed by its RLP body.
func Decode(data []byte) (Message, error) {
	if len(data) < 1 {
		return nil, ErrEmptyPayload
	}
	kind, body := data[0], data[1:]
	var m Message
	switch kind {
	case KindPing:
		m = new(Ping)
	case KindPong:
		m = new(Pong)
	case KindFindNode:
		m = new(FindNode)
	case KindNodes:
		m = new(Nodes)
	case KindFindContent:
		m = new(FindContent)
	case KindFoundContent:
		m = new(FoundContent)
	case KindAdvertise:
		m = new(Advertise)
	case KindRequestProofs:
		m = new(RequestProofs)
	default:
		return nil, ErrUnknownKind
	}
	if err := rlp.DecodeBytes(body, m); err != nil {
		return nil, err
	}
	if n, ok := numEntries(m); ok && n > maxENRs {
		return nil, ErrTooManyEntries
	}
	return m, nil
}

func numEntries(m Message) (int, bool) {
	switch v := m.(type) {
	case *Nodes:
		return len(v.Enrs), true
	case *FoundContent:
		return len(v.Enrs), true
	}
	return 0, false
}

// radiusToBytes encodes a uint256 radius as a fixed 32-byte big-endian value.
func radiusToBytes(r *uint256.Int) []byte {
	b := r.Bytes32()
	return b[:]
}

func radiusFromBytes(b []byte) *uint256.Int {
	var r uint256.Int
	r.SetBytes(b)
	return &r
}

func encodeENR(r *enr.Record) ([]byte, error) { return enr.Encode(r) }
func decodeENR(b []byte) (*enr.Record, error) { return enr.Decode(b) }

func encodeUint16s(vs []uint16) [][]byte {
	out := make([][]byte, len(vs))
	for i, v := range vs {
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, v)
		out[i] = b
	}
	return out
}
