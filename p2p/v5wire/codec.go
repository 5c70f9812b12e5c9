// codec.go implements the UDP packet codec: the masked header, the three
// packet flavors (ordinary, WHOAREYOU, handshake), and the AES-128-GCM
// authenticated payload.
package v5wire

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/eth2030/discovery/common/mclock"
	"github.com/eth2030/discovery/p2p/enode"
	"github.com/eth2030/discovery/p2p/enr"
)

const (
	protocolID   = "discv5"
	versionTag   = uint16(1)
	minVersion   = uint16(1)
	sizeofMaskingIV = 16

	flagMessage   = 0
	flagWhoareyou = 1
	flagHandshake = 2
)

var (
	errInvalidFlag = errors.New("v5wire: invalid packet flag")
)

// Codec encodes and decodes discovery-v5 packets for one local node.
type Codec struct {
	sc        *SessionCache
	records   *recordCache
	localnode *enode.LocalNode
	privkey   *ecdsa.PrivateKey
	protocol  string // protocol name, normally equal to protocolID; deriveKeys ignores it

	// encoder buffers, reused across calls
	buf bytes.Buffer
}

// NewCodec creates a codec for ln, keyed by priv, driven by clock for GC.
func NewCodec(ln *enode.LocalNode, priv *ecdsa.PrivateKey, clock mclock.Clock) *Codec {
	return &Codec{
		sc:        NewSessionCache(256, clock),
		records:   newRecordCache(),
		localnode: ln,
		privkey:   priv,
		protocol:  protocolID,
	}
}

// Encode encodes a packet addressed to id/addr. If challenge is non-nil the
// packet is encoded as a handshake message (the caller is completing a
// handshake started by a previous WHOAREYOU). If p is a *Whoareyou, a
// WHOAREYOU challenge is encoded instead, ignoring challenge.
func (c *Codec) Encode(id enode.ID, addr string, p Packet, challenge *Whoareyou) ([]byte, Nonce, error) {
	if w, ok := p.(*Whoareyou); ok {
		return c.encodeWhoareyou(id, w)
	}
	if challenge != nil {
		return c.encodeHandshake(id, addr, p, challenge)
	}
	return c.encodeOrdinary(id, addr, p)
}

func maskingKey(destID enode.ID) []byte {
	return destID[:16]
}

func maskHeader(maskingIV []byte, destID enode.ID, plainHeader []byte) ([]byte, error) {
	block, err := aes.NewCipher(maskingKey(destID))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plainHeader))
	cipher.NewCTR(block, maskingIV).XORKeyStream(out, plainHeader)
	return out, nil
}

func encodeHeader(flag byte, nonce Nonce, authdata []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(protocolID)
	var v [2]byte
	binary.BigEndian.PutUint16(v[:], versionTag)
	buf.Write(v[:])
	buf.WriteByte(flag)
	buf.Write(nonce[:])
	var sz [2]byte
	binary.BigEndian.PutUint16(sz[:], uint16(len(authdata)))
	buf.Write(sz[:])
	buf.Write(authdata)
	return buf.Bytes()
}

// encodeOrdinary encodes a regular message packet, establishing a fresh
// session if needed by returning a packet that will provoke WHOAREYOU.
func (c *Codec) encodeOrdinary(toID enode.ID, addr string, p Packet) ([]byte, Nonce, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, Nonce{}, err
	}
	authdata := c.localnode.ID()
	header := encodeHeader(flagMessage, nonce, authdata[:])

	maskingIV := make([]byte, sizeofMaskingIV)
	if err := generateMaskingIV(maskingIV); err != nil {
		return nil, nonce, err
	}
	maskedHeader, err := maskHeader(maskingIV, toID, header)
	if err != nil {
		return nil, nonce, err
	}

	s := c.sc.session(toID, addr)
	if s == nil {
		// No session: send an encrypted-with-nothing-useful ordinary packet.
		// The recipient will fail to decrypt and answer with WHOAREYOU.
		filler := make([]byte, 16)
		return appendAll(maskingIV, maskedHeader, filler), nonce, nil
	}

	body, err := EncodeMessage(p)
	if err != nil {
		return nil, nonce, err
	}
	ct, err := encryptGCM(s.writeKey, nonce, body, appendAll(maskingIV, header))
	if err != nil {
		return nil, nonce, err
	}
	return appendAll(maskingIV, maskedHeader, ct), nonce, nil
}

// encodeWhoareyou encodes a WHOAREYOU challenge.
func (c *Codec) encodeWhoareyou(toID enode.ID, w *Whoareyou) ([]byte, Nonce, error) {
	authdata := make([]byte, 0, 16+8)
	authdata = append(authdata, w.IDNonce[:]...)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], w.RecordSeq)
	authdata = append(authdata, seq[:]...)

	header := encodeHeader(flagWhoareyou, w.Nonce, authdata)
	w.ChallengeData = append([]byte(nil), header...)

	maskingIV := make([]byte, sizeofMaskingIV)
	if err := generateMaskingIV(maskingIV); err != nil {
		return nil, w.Nonce, err
	}
	maskedHeader, err := maskHeader(maskingIV, toID, header)
	if err != nil {
		return nil, w.Nonce, err
	}
	return appendAll(maskingIV, maskedHeader), w.Nonce, nil
}

// encodeHandshake encodes a handshake message packet: an ordinary message
// whose authdata additionally proves the sender's identity via a signature
// over the WHOAREYOU challenge, deriving fresh session keys in the process.
func (c *Codec) encodeHandshake(toID enode.ID, addr string, p Packet, challenge *Whoareyou) ([]byte, Nonce, error) {
	ephKey, err := c.sc.ephemeralKeyGen()
	if err != nil {
		return nil, Nonce{}, err
	}
	ephPub := crypto.CompressPubkey(&ephKey.PublicKey)

	if challenge.Node == nil {
		return nil, Nonce{}, errNoRecord
	}
	remotePub := enr.Secp256k1(challenge.Node.Record)
	secret, err := ecdhSecret(ephKey, remotePub)
	if err != nil {
		return nil, Nonce{}, err
	}

	localID := c.localnode.ID()
	remoteID := challenge.Node.ID
	writeKey, readKey := deriveKeys(secret, challenge.ChallengeData, localID, remoteID, c.protocol)

	sig, err := signIDNonce(c.privkey, challenge.IDNonce, ephPub)
	if err != nil {
		return nil, Nonce{}, err
	}

	var recordBytes []byte
	if challenge.RecordSeq < c.localnode.Seq() {
		recordBytes, err = enr.Encode(c.localnode.Record())
		if err != nil {
			return nil, Nonce{}, err
		}
	}

	authdata := buildHandshakeAuthdata(localID, sig, ephPub, recordBytes)
	nonce, err := generateNonce()
	if err != nil {
		return nil, Nonce{}, err
	}
	header := encodeHeader(flagHandshake, nonce, authdata)

	maskingIV := make([]byte, sizeofMaskingIV)
	if err := generateMaskingIV(maskingIV); err != nil {
		return nil, nonce, err
	}
	maskedHeader, err := maskHeader(maskingIV, toID, header)
	if err != nil {
		return nil, nonce, err
	}

	body, err := EncodeMessage(p)
	if err != nil {
		return nil, nonce, err
	}
	ct, err := encryptGCM(writeKey, nonce, body, appendAll(maskingIV, header))
	if err != nil {
		return nil, nonce, err
	}

	c.sc.storeNewSession(toID, addr, &session{writeKey: writeKey, readKey: readKey})
	return appendAll(maskingIV, maskedHeader, ct), nonce, nil
}

func buildHandshakeAuthdata(srcID enode.ID, sig, ephPub, record []byte) []byte {
	var buf bytes.Buffer
	buf.Write(srcID[:])
	buf.WriteByte(byte(len(sig)))
	buf.WriteByte(byte(len(ephPub)))
	buf.Write(sig)
	buf.Write(ephPub)
	buf.Write(record)
	return buf.Bytes()
}

// Decode decodes an incoming packet. It returns a *Unknown packet when
// decryption fails (no session established yet), and a non-nil *enode.Node
// when the packet completed a handshake, carrying the sender's fresh record.
func (c *Codec) Decode(input []byte, addr string) (enode.ID, *enode.Node, Packet, error) {
	if len(input) < sizeofMaskingIV+9+gcmNonceSize+2 {
		return enode.ID{}, nil, nil, errTooShort
	}
	maskingIV := input[:sizeofMaskingIV]
	masked := input[sizeofMaskingIV:]

	plainHeader, err := maskHeader(maskingIV, c.localnode.ID(), masked[:min(len(masked), 32)])
	if err != nil {
		return enode.ID{}, nil, nil, ErrInvalidHeader
	}
	if !bytes.Equal(plainHeader[:6], []byte(protocolID)) {
		return enode.ID{}, nil, nil, ErrInvalidHeader
	}
	version := binary.BigEndian.Uint16(plainHeader[6:8])
	if version < minVersion {
		return enode.ID{}, nil, nil, ErrInvalidHeader
	}
	flag := plainHeader[8]
	var nonce Nonce
	copy(nonce[:], plainHeader[9:9+gcmNonceSize])
	authSize := int(binary.BigEndian.Uint16(plainHeader[9+gcmNonceSize : 9+gcmNonceSize+2]))

	headerLen := 9 + gcmNonceSize + 2 + authSize
	if len(masked) < headerLen {
		return enode.ID{}, nil, nil, ErrInvalidHeader
	}
	fullPlainHeader, err := maskHeader(maskingIV, c.localnode.ID(), masked[:headerLen])
	if err != nil {
		return enode.ID{}, nil, nil, ErrInvalidHeader
	}
	authdata := fullPlainHeader[9+gcmNonceSize+2:]
	ciphertext := masked[headerLen:]

	switch flag {
	case flagWhoareyou:
		return c.decodeWhoareyou(nonce, authdata, fullPlainHeader)
	case flagMessage:
		return c.decodeMessage(nonce, authdata, appendAll(maskingIV, fullPlainHeader), ciphertext, addr)
	case flagHandshake:
		return c.decodeHandshake(nonce, authdata, appendAll(maskingIV, fullPlainHeader), ciphertext, addr)
	default:
		return enode.ID{}, nil, nil, errInvalidFlag
	}
}

func (c *Codec) decodeWhoareyou(nonce Nonce, authdata, header []byte) (enode.ID, *enode.Node, Packet, error) {
	if len(authdata) < 24 {
		return enode.ID{}, nil, nil, ErrInvalidHeader
	}
	w := &Whoareyou{Nonce: nonce, ChallengeData: append([]byte(nil), header...)}
	copy(w.IDNonce[:], authdata[:16])
	w.RecordSeq = binary.BigEndian.Uint64(authdata[16:24])
	return enode.ID{}, nil, w, nil
}

func (c *Codec) decodeMessage(nonce Nonce, authdata, headerForAD, ciphertext []byte, addr string) (enode.ID, *enode.Node, Packet, error) {
	if len(authdata) < 32 {
		return enode.ID{}, nil, nil, ErrInvalidHeader
	}
	var fromID enode.ID
	copy(fromID[:], authdata[:32])

	readKey := c.sc.readKey(fromID, addr)
	if readKey == nil {
		return fromID, nil, &Unknown{Nonce: nonce}, nil
	}
	plain, err := decryptGCM(readKey, nonce, ciphertext, headerForAD)
	if err != nil {
		return fromID, nil, &Unknown{Nonce: nonce}, nil
	}
	if len(plain) < 1 {
		return fromID, nil, nil, errMsgTooShort
	}
	p, err := DecodeMessage(plain[0], plain[1:])
	if err != nil {
		return fromID, nil, nil, err
	}
	return fromID, nil, p, nil
}

func (c *Codec) decodeHandshake(nonce Nonce, authdata, headerForAD, ciphertext []byte, addr string) (enode.ID, *enode.Node, Packet, error) {
	if len(authdata) < 34 {
		return enode.ID{}, nil, nil, ErrInvalidHeader
	}
	var fromID enode.ID
	copy(fromID[:], authdata[:32])
	sigSize := int(authdata[32])
	ephSize := int(authdata[33])
	rest := authdata[34:]
	if len(rest) < sigSize+ephSize {
		return enode.ID{}, nil, nil, ErrInvalidHeader
	}
	sig := rest[:sigSize]
	ephPub := rest[sigSize : sigSize+ephSize]
	recordBytes := rest[sigSize+ephSize:]

	challenge := c.sc.getHandshake(fromID, addr)
	if challenge == nil {
		return fromID, nil, nil, errUnexpectedHandshake
	}
	c.sc.deleteHandshake(fromID, addr)

	var node *enode.Node
	var pubkey []byte
	switch {
	case len(recordBytes) > 0:
		rec, err := enr.Decode(recordBytes)
		if err != nil {
			return fromID, nil, nil, err
		}
		node = enode.NodeFromRecord(rec)
		pubkey = enr.Secp256k1(rec)
		c.records.store(fromID, rec)
	case challenge.Node != nil:
		node = challenge.Node
		pubkey = enr.Secp256k1(node.Record)
	default:
		rec := c.records.get(fromID)
		if rec == nil {
			return fromID, nil, nil, errNoRecord
		}
		node = enode.NodeFromRecord(rec)
		pubkey = enr.Secp256k1(rec)
	}

	if !verifyIDNonce(pubkey, challenge.IDNonce, ephPub, sig) {
		return fromID, nil, nil, errHandshakeNonce
	}

	secret, err := ecdhSecret(c.privkey, ephPub)
	if err != nil {
		return fromID, nil, nil, err
	}
	readKey, writeKey := deriveKeys(secret, challenge.ChallengeData, fromID, c.localnode.ID(), c.protocol)
	c.sc.storeNewSession(fromID, addr, &session{writeKey: writeKey, readKey: readKey})

	plain, err := decryptGCM(readKey, nonce, ciphertext, headerForAD)
	if err != nil {
		return fromID, node, nil, errMsgDecrypt
	}
	if len(plain) < 1 {
		return fromID, node, nil, errMsgTooShort
	}
	p, err := DecodeMessage(plain[0], plain[1:])
	if err != nil {
		return fromID, node, nil, err
	}
	return fromID, node, p, nil
}

// CurrentChallenge returns the outstanding WHOAREYOU challenge sent to id/addr.
func (c *Codec) CurrentChallenge(id enode.ID, addr string) *Whoareyou {
	return c.sc.getHandshake(id, addr)
}

// StoreSentHandshake records a WHOAREYOU challenge we just sent, so a later
// handshake message from the same peer can be matched against it.
func (c *Codec) StoreSentHandshake(id enode.ID, addr string, w *Whoareyou) {
	c.sc.storeSentHandshake(id, addr, w)
}

func encryptGCM(key []byte, nonce Nonce, plaintext, ad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce[:], plaintext, ad), nil
}

func decryptGCM(key []byte, nonce Nonce, ciphertext, ad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce[:], ciphertext, ad)
}

func appendAll(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
