package discover

import (
	"net"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/eth2030/discovery/p2p/enode"
)

func newTestLocalNode(t *testing.T) *enode.LocalNode {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return enode.NewLocalNode(key, net.ParseIP("192.168.1.1"), 30303, 30303)
}

func TestIPVoteMajorityUpdatesRecord(t *testing.T) {
	ln := newTestLocalNode(t)
	v := newIPVoter(ln)
	claimed := net.ParseIP("203.0.113.5")

	for i := 0; i < ipVoteMinVotes; i++ {
		var peer enode.NodeID
		peer[0] = byte(i + 1)
		v.vote(peer, claimed)
	}

	got := ln.Node().IP
	if got == nil || !got.Equal(claimed) {
		t.Fatalf("local IP = %v, want %v", got, claimed)
	}
}

func TestIPVoteBelowMinVotesDoesNotUpdate(t *testing.T) {
	ln := newTestLocalNode(t)
	v := newIPVoter(ln)
	original := ln.Node().IP
	claimed := net.ParseIP("203.0.113.5")

	for i := 0; i < ipVoteMinVotes-1; i++ {
		var peer enode.NodeID
		peer[0] = byte(i + 1)
		v.vote(peer, claimed)
	}

	got := ln.Node().IP
	if !got.Equal(original) {
		t.Fatalf("local IP changed with fewer than ipVoteMinVotes votes: %v -> %v", original, got)
	}
}

func TestIPVoteIgnoresUnroutable(t *testing.T) {
	ln := newTestLocalNode(t)
	v := newIPVoter(ln)
	for i := 0; i < ipVoteMinVotes+5; i++ {
		var peer enode.NodeID
		peer[0] = byte(i + 1)
		v.vote(peer, net.IPv4zero)
	}
	if len(v.votes) != 0 {
		t.Fatalf("expected unroutable votes to be dropped, got %d", len(v.votes))
	}
}
