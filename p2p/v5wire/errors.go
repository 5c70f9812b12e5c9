package v5wire

import "errors"

var (
	ErrInvalidReqID     = errors.New("v5wire: invalid request ID")
	ErrInvalidHeader    = errors.New("v5wire: invalid packet header")
	errTooShort         = errors.New("v5wire: packet too short")
	errInvalidAuthKey   = errors.New("v5wire: invalid ephemeral pubkey")
	errUnexpectedHandshake = errors.New("v5wire: unexpected auth response, not in handshake")
	errHandshakeNonce   = errors.New("v5wire: wrong nonce in handshake")
	errInvalidNonceSize = errors.New("v5wire: invalid nonce size")
	errMsgTooShort      = errors.New("v5wire: message too short")
	errMsgDecrypt       = errors.New("v5wire: cannot decrypt message")
	errNoRecord         = errors.New("v5wire: expected ENR in handshake but none sent")
)

// IsInvalidHeader reports whether err indicates the packet is not a
// discovery-protocol packet at all (as opposed to a decryptable-but-bad one),
// so callers can forward it to another protocol multiplexed on the same port.
func IsInvalidHeader(err error) bool {
	return err == ErrInvalidHeader || err == errTooShort
}
