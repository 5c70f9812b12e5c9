package enode

import (
	"net"
	"testing"
	"time"
)

func TestDBUpdateAndQuerySeeds(t *testing.T) {
	db := NewDB()
	id := HexID("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	n := NewNode(id, net.ParseIP("10.0.0.1"), 30303, 30303)

	db.UpdateNode(n)

	seeds := db.QuerySeeds(10, time.Hour)
	if len(seeds) != 1 || seeds[0].ID != id {
		t.Fatalf("QuerySeeds = %v, want [%v]", seeds, id)
	}
}

func TestDBQuerySeedsExcludesStale(t *testing.T) {
	db := NewDB()
	id := HexID("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	db.UpdateNode(NewNode(id, net.ParseIP("10.0.0.1"), 30303, 30303))

	seeds := db.QuerySeeds(10, -time.Hour)
	if len(seeds) != 0 {
		t.Fatalf("expected no seeds older than a negative window, got %d", len(seeds))
	}
}

func TestDBQuerySeedsLimit(t *testing.T) {
	db := NewDB()
	for i := 0; i < 5; i++ {
		var raw [32]byte
		raw[0] = byte(i)
		db.UpdateNode(NewNode(NodeID(raw), net.ParseIP("10.0.0.1"), 30303, 30303))
	}

	seeds := db.QuerySeeds(3, time.Hour)
	if len(seeds) != 3 {
		t.Fatalf("QuerySeeds(3, ...) returned %d seeds, want 3", len(seeds))
	}
}

func TestDBLastPingReceived(t *testing.T) {
	db := NewDB()
	id := HexID("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	ip := net.ParseIP("10.0.0.1")

	if !db.LastPingReceived(id, ip).IsZero() {
		t.Fatal("expected zero time before any ping recorded")
	}

	now := time.Now()
	db.UpdateLastPingReceived(id, ip, now)
	if got := db.LastPingReceived(id, ip); !got.Equal(now) {
		t.Fatalf("LastPingReceived = %v, want %v", got, now)
	}
}
