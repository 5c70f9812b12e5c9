package v5wire

import (
	"crypto/ecdsa"
	crand "crypto/rand"
	"crypto/sha256"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/ethereum/go-ethereum/crypto"
)

func sha256New() hash.Hash { return sha256.New() }

func sha256Sum(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

// Nonce is a AES-GCM nonce used in packet encryption/decryption.
type Nonce [gcmNonceSize]byte

const (
	gcmNonceSize = 12
	keySize      = 16 // AES-128
)

// sessionKeys holds the read/write keys negotiated for a peer.
type sessionKeys struct {
	writeKey []byte
	readKey  []byte
}

// deriveKeys runs HKDF-SHA256 over the ECDH shared secret to derive the
// initiator/recipient read and write keys, matching discv5's handshake key
// schedule: info = "discovery v5 key agreement" || initiator-id || recipient-id.
func deriveKeys(secret, challengeData []byte, initiator, recipient [32]byte, protocolID string) (initiatorKey, recipientKey []byte) {
	const infoPrefix = "discovery v5 key agreement"
	info := make([]byte, 0, len(infoPrefix)+64)
	info = append(info, infoPrefix...)
	info = append(info, initiator[:]...)
	info = append(info, recipient[:]...)

	kdf := hkdf.New(sha256New, secret, challengeData, info)
	var ksInit, ksResp [keySize]byte
	io.ReadFull(kdf, ksInit[:])
	io.ReadFull(kdf, ksResp[:])
	return ksInit[:], ksResp[:]
}

// ecdhSecret computes the X coordinate of the ECDH shared point between a
// local private key and a remote compressed secp256k1 public key.
func ecdhSecret(priv *ecdsa.PrivateKey, remotePub []byte) ([]byte, error) {
	pub, err := crypto.DecompressPubkey(remotePub)
	if err != nil {
		return nil, errInvalidAuthKey
	}
	x, _ := crypto.S256().ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	return x.Bytes(), nil
}

// idSignatureInput builds the data signed by idNonce signatures: the
// sha256("discovery v5 identity proof") tag, the challenge's idNonce, and
// the ephemeral public key.
func idSignatureInput(idNonce [16]byte, ephemeralPubkey []byte) []byte {
	data := make([]byte, 0, 32+16+len(ephemeralPubkey))
	data = append(data, sha256Sum([]byte("discovery v5 identity proof"))...)
	data = append(data, idNonce[:]...)
	data = append(data, ephemeralPubkey...)
	return data
}

// signIDNonce produces the initiator's signature proving possession of the
// node's private key over the handshake challenge.
func signIDNonce(key *ecdsa.PrivateKey, idNonce [16]byte, ephemeralPubkey []byte) ([]byte, error) {
	input := idSignatureInput(idNonce, ephemeralPubkey)
	sig, err := crypto.Sign(sha256Sum(input), key)
	if err != nil {
		return nil, err
	}
	return sig[:64], nil
}

// verifyIDNonce checks a handshake signature against the sender's public key.
func verifyIDNonce(pubkey []byte, idNonce [16]byte, ephemeralPubkey, sig []byte) bool {
	input := idSignatureInput(idNonce, ephemeralPubkey)
	return crypto.VerifySignature(pubkey, sha256Sum(input), sig)
}

func generateNonce() (n Nonce, err error) {
	_, err = crand.Read(n[:])
	return n, err
}

func generateMaskingIV(buf []byte) error {
	_, err := crand.Read(buf)
	return err
}

func generateEphemeralKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}
