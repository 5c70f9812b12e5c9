// Package v5wire implements the wire encoding, session key management, and
// handshake for the UDP discovery protocol: the Ordinary/WhoAreYou/Handshake
// packet flavors, their masked headers, and the AES-128-GCM authenticated
// payload they carry.
package v5wire

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/eth2030/discovery/common/mclock"
	"github.com/eth2030/discovery/p2p/enode"
	"github.com/eth2030/discovery/p2p/enr"
)

// Packet is implemented by all message types carried in an authenticated
// payload.
type Packet interface {
	Name() string
	Kind() byte
	RequestID() []byte
	SetRequestID([]byte)
}

// Message type tags, carried as the first byte of the decrypted payload.
const (
	PingMsg byte = iota + 1
	PongMsg
	FindnodeMsg
	NodesMsg
	TalkRequestMsg
	TalkResponseMsg

	UnknownPacket   = byte(255)
	WhoareyouPacket = byte(254)
)

type (
	// Unknown represents a packet that failed to decrypt: the recipient has
	// no session for the sender and must answer with WHOAREYOU.
	Unknown struct {
		Nonce Nonce
	}

	// Whoareyou is the handshake challenge.
	Whoareyou struct {
		ChallengeData []byte
		Nonce         Nonce
		IDNonce       [16]byte
		RecordSeq     uint64

		// Node is the locally known record of the recipient. Must be set by
		// the caller before Encode.
		Node *enode.Node

		sent mclock.AbsTime
	}

	Ping struct {
		ReqID  []byte
		ENRSeq uint64
	}

	Pong struct {
		ReqID  []byte
		ENRSeq uint64
	}

	Findnode struct {
		ReqID     []byte
		Distances []uint
	}

	Nodes struct {
		ReqID     []byte
		RespCount uint8
		Records   [][]byte // each is an enr.Encode'd record
	}

	TalkRequest struct {
		ReqID    []byte
		Protocol string
		Message  []byte
	}

	TalkResponse struct {
		ReqID   []byte
		Message []byte
	}
)

// DecodeMessage decodes the message body of a packet given its type tag.
func DecodeMessage(ptype byte, body []byte) (Packet, error) {
	var dec Packet
	switch ptype {
	case PingMsg:
		dec = new(Ping)
	case PongMsg:
		dec = new(Pong)
	case FindnodeMsg:
		dec = new(Findnode)
	case NodesMsg:
		dec = new(Nodes)
	case TalkRequestMsg:
		dec = new(TalkRequest)
	case TalkResponseMsg:
		dec = new(TalkResponse)
	default:
		return nil, fmt.Errorf("v5wire: unknown packet type %d", ptype)
	}
	if err := rlp.DecodeBytes(body, dec); err != nil {
		return nil, err
	}
	if len(dec.RequestID()) > 8 {
		return nil, ErrInvalidReqID
	}
	return dec, nil
}

// EncodeMessage serializes a packet's type tag and RLP body.
func EncodeMessage(p Packet) ([]byte, error) {
	body, err := rlp.EncodeToBytes(p)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(body))
	out[0] = p.Kind()
	copy(out[1:], body)
	return out, nil
}

// NodesFromRecords decodes a NODES message's raw ENR bytes into Node values.
func NodesFromRecords(raw [][]byte) ([]*enode.Node, error) {
	out := make([]*enode.Node, 0, len(raw))
	for _, b := range raw {
		rec, err := enr.Decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, enode.NodeFromRecord(rec))
	}
	return out, nil
}

// RecordsFromNodes encodes a set of nodes' records for a NODES message.
func RecordsFromNodes(nodes []*enode.Node) ([][]byte, error) {
	out := make([][]byte, 0, len(nodes))
	for _, n := range nodes {
		if n.Record == nil {
			continue
		}
		b, err := enr.Encode(n.Record)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (*Whoareyou) Name() string        { return "WHOAREYOU/v5" }
func (*Whoareyou) Kind() byte          { return WhoareyouPacket }
func (*Whoareyou) RequestID() []byte   { return nil }
func (*Whoareyou) SetRequestID([]byte) {}

func (*Unknown) Name() string        { return "UNKNOWN/v5" }
func (*Unknown) Kind() byte          { return UnknownPacket }
func (*Unknown) RequestID() []byte   { return nil }
func (*Unknown) SetRequestID([]byte) {}

func (*Ping) Name() string             { return "PING/v5" }
func (*Ping) Kind() byte               { return PingMsg }
func (p *Ping) RequestID() []byte      { return p.ReqID }
func (p *Ping) SetRequestID(id []byte) { p.ReqID = id }

func (*Pong) Name() string             { return "PONG/v5" }
func (*Pong) Kind() byte               { return PongMsg }
func (p *Pong) RequestID() []byte      { return p.ReqID }
func (p *Pong) SetRequestID(id []byte) { p.ReqID = id }

func (*Findnode) Name() string             { return "FINDNODE/v5" }
func (*Findnode) Kind() byte               { return FindnodeMsg }
func (p *Findnode) RequestID() []byte      { return p.ReqID }
func (p *Findnode) SetRequestID(id []byte) { p.ReqID = id }

func (*Nodes) Name() string             { return "NODES/v5" }
func (*Nodes) Kind() byte               { return NodesMsg }
func (p *Nodes) RequestID() []byte      { return p.ReqID }
func (p *Nodes) SetRequestID(id []byte) { p.ReqID = id }

func (*TalkRequest) Name() string             { return "TALKREQ/v5" }
func (*TalkRequest) Kind() byte               { return TalkRequestMsg }
func (p *TalkRequest) RequestID() []byte      { return p.ReqID }
func (p *TalkRequest) SetRequestID(id []byte) { p.ReqID = id }

func (*TalkResponse) Name() string             { return "TALKRESP/v5" }
func (*TalkResponse) Kind() byte               { return TalkResponseMsg }
func (p *TalkResponse) RequestID() []byte      { return p.ReqID }
func (p *TalkResponse) SetRequestID(id []byte) { p.ReqID = id }
