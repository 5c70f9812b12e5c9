package v5wire

import (
	"crypto/ecdsa"
	"encoding/binary"
	"time"

	"github.com/eth2030/discovery/common/lru"
	"github.com/eth2030/discovery/common/mclock"
	"github.com/eth2030/discovery/p2p/enode"
)

const handshakeTimeout = 2 * time.Second

// SessionCache keeps negotiated encryption keys and in-progress handshake
// state, matching the donor's session.go split between established sessions
// (an LRU, since peers come and go) and pending handshakes (a map, since
// there can only be one in flight per peer at a time).
type SessionCache struct {
	sessions   lru.BasicLRU[sessionID, *session]
	handshakes map[sessionID]*Whoareyou
	clock      mclock.Clock

	nonceGen        func() (Nonce, error)
	maskingIVGen    func([]byte) error
	ephemeralKeyGen func() (*ecdsa.PrivateKey, error)
}

type sessionID struct {
	id   enode.ID
	addr string
}

type session struct {
	writeKey     []byte
	readKey      []byte
	nonceCounter uint32
}

func (s *session) keysFlipped() *session {
	return &session{s.readKey, s.writeKey, s.nonceCounter}
}

// NewSessionCache creates a session cache bounded to maxItems established
// sessions, driven by clock for handshake GC.
func NewSessionCache(maxItems int, clock mclock.Clock) *SessionCache {
	return &SessionCache{
		sessions:        lru.NewBasicLRU[sessionID, *session](maxItems),
		handshakes:      make(map[sessionID]*Whoareyou),
		clock:           clock,
		nonceGen:        generateNonce,
		maskingIVGen:    generateMaskingIV,
		ephemeralKeyGen: generateEphemeralKey,
	}
}

// nextNonce creates a nonce for encrypting a message under s.
func (sc *SessionCache) nextNonce(s *session) (Nonce, error) {
	s.nonceCounter++
	n, err := sc.nonceGen()
	if err != nil {
		return n, err
	}
	binary.BigEndian.PutUint32(n[:4], s.nonceCounter)
	return n, nil
}

func (sc *SessionCache) session(id enode.ID, addr string) *session {
	item, _ := sc.sessions.Get(sessionID{id, addr})
	return item
}

func (sc *SessionCache) readKey(id enode.ID, addr string) []byte {
	if s := sc.session(id, addr); s != nil {
		return s.readKey
	}
	return nil
}

func (sc *SessionCache) storeNewSession(id enode.ID, addr string, s *session) {
	sc.sessions.Add(sessionID{id, addr}, s)
}

func (sc *SessionCache) getHandshake(id enode.ID, addr string) *Whoareyou {
	sc.handshakeGC()
	return sc.handshakes[sessionID{id, addr}]
}

func (sc *SessionCache) storeSentHandshake(id enode.ID, addr string, challenge *Whoareyou) {
	challenge.sent = sc.clock.Now()
	sc.handshakes[sessionID{id, addr}] = challenge
}

func (sc *SessionCache) deleteHandshake(id enode.ID, addr string) {
	delete(sc.handshakes, sessionID{id, addr})
}

// handshakeGC deletes timed-out handshake challenges.
func (sc *SessionCache) handshakeGC() {
	deadline := sc.clock.Now().Add(-handshakeTimeout)
	for key, challenge := range sc.handshakes {
		if challenge.sent < deadline {
			delete(sc.handshakes, key)
		}
	}
}
