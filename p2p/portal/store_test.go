package portal

import (
	"sync"
	"testing"

	"github.com/holiman/uint256"
)

func TestNewStore(t *testing.T) {
	var nodeID [32]byte
	nodeID[0] = 0x01
	cfg := DefaultStoreConfig(nodeID)
	s, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.ItemCount() != 0 {
		t.Fatalf("ItemCount = %d, want 0", s.ItemCount())
	}
	if s.CapacityBytes() != cfg.MaxCapacity {
		t.Fatalf("CapacityBytes = %d, want %d", s.CapacityBytes(), cfg.MaxCapacity)
	}
}

func TestStorePutAndGet(t *testing.T) {
	var nodeID [32]byte
	s, _ := NewStore(DefaultStoreConfig(nodeID))

	var id ContentID
	id[0] = 0xAA
	data := []byte("test content data")

	if err := s.Put(id, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if s.ItemCount() != 1 {
		t.Fatalf("ItemCount = %d, want 1", s.ItemCount())
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	var nodeID [32]byte
	s, _ := NewStore(DefaultStoreConfig(nodeID))

	var id ContentID
	id[0] = 0xFF
	if _, err := s.Get(id); err != ErrContentNotFound {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
}

func TestStorePutEmptyData(t *testing.T) {
	var nodeID [32]byte
	s, _ := NewStore(DefaultStoreConfig(nodeID))

	var id ContentID
	if err := s.Put(id, nil); err != ErrEmptyPayload {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	var nodeID [32]byte
	s, _ := NewStore(DefaultStoreConfig(nodeID))

	var id ContentID
	id[0] = 0x42
	s.Put(id, []byte("to delete"))

	if err := s.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Has(id) {
		t.Fatal("Has should be false after Delete")
	}
}

func TestStoreClosed(t *testing.T) {
	var nodeID [32]byte
	s, _ := NewStore(DefaultStoreConfig(nodeID))
	s.Close()

	var id ContentID
	if err := s.Put(id, []byte("data")); err != ErrStoreClosed {
		t.Fatalf("Put on closed: got %v, want ErrStoreClosed", err)
	}
	if _, err := s.Get(id); err != ErrStoreClosed {
		t.Fatalf("Get on closed: got %v, want ErrStoreClosed", err)
	}
}

func TestStoreLRUEviction(t *testing.T) {
	var nodeID [32]byte
	cfg := StoreConfig{MaxCapacity: 100, EvictBatchSize: 1, NodeID: nodeID}
	s, _ := NewStore(cfg)

	for i := 0; i < 10; i++ {
		var id ContentID
		id[0] = byte(i)
		if err := s.Put(id, make([]byte, 10)); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	var newID ContentID
	newID[0] = 0xFF
	if err := s.Put(newID, make([]byte, 10)); err != nil {
		t.Fatalf("Put overflow: %v", err)
	}

	var firstID ContentID
	if s.Has(firstID) {
		t.Fatal("first item should have been evicted")
	}
	if !s.Has(newID) {
		t.Fatal("new item should be present")
	}
}

func TestStoreLRUAccessReorder(t *testing.T) {
	var nodeID [32]byte
	cfg := StoreConfig{MaxCapacity: 30, EvictBatchSize: 1, NodeID: nodeID}
	s, _ := NewStore(cfg)

	var id0, id1, id2 ContentID
	id0[0], id1[0], id2[0] = 0, 1, 2
	s.Put(id0, make([]byte, 10))
	s.Put(id1, make([]byte, 10))
	s.Put(id2, make([]byte, 10))

	s.Get(id0) // id0 now most recently used

	var id3 ContentID
	id3[0] = 3
	s.Put(id3, make([]byte, 10))

	if s.Has(id1) {
		t.Fatal("id1 should have been evicted (LRU)")
	}
	if !s.Has(id0) {
		t.Fatal("id0 should still be present (recently accessed)")
	}
}

func TestStoreRadius(t *testing.T) {
	var nodeID [32]byte
	s, _ := NewStore(DefaultStoreConfig(nodeID))

	if s.Radius().Cmp(MaxRadius()) != 0 {
		t.Fatal("initial radius should be MaxRadius")
	}

	half := new(uint256.Int).Div(MaxRadius(), uint256.NewInt(2))
	s.SetRadius(half)
	if s.Radius().Cmp(half) != 0 {
		t.Fatalf("radius = %v, want %v", s.Radius(), half)
	}
}

func TestStoreAutoUpdateRadius(t *testing.T) {
	var nodeID [32]byte
	cfg := StoreConfig{MaxCapacity: 100, EvictBatchSize: 1, NodeID: nodeID}
	s, _ := NewStore(cfg)

	s.AutoUpdateRadius()
	if s.Radius().Cmp(MaxRadius()) != 0 {
		t.Fatal("empty store should have max radius")
	}

	var id ContentID
	id[0] = 0x01
	s.Put(id, make([]byte, 50))
	s.AutoUpdateRadius()

	expectedHalf := new(uint256.Int).Div(MaxRadius(), uint256.NewInt(2))
	if s.Radius().Cmp(expectedHalf) != 0 {
		t.Fatalf("half-full radius = %v, want %v", s.Radius(), expectedHalf)
	}
}

func TestStoreFindAndStoreContentByKey(t *testing.T) {
	var nodeID [32]byte
	s, _ := NewStore(DefaultStoreConfig(nodeID))

	key := []byte("store-key")
	data := []byte("store-data")
	if err := s.StoreContentByKey(key, data); err != nil {
		t.Fatalf("StoreContentByKey: %v", err)
	}
	got, err := s.FindContentByKey(key)
	if err != nil {
		t.Fatalf("FindContentByKey: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestStoreContentByKeyOutOfRadius(t *testing.T) {
	var nodeID [32]byte
	s, _ := NewStore(DefaultStoreConfig(nodeID))
	s.SetRadius(ZeroRadius())

	err := s.StoreContentByKey([]byte("far-away-key"), []byte("data"))
	if err != ErrContentOutOfRadius {
		t.Fatalf("expected ErrContentOutOfRadius, got %v", err)
	}
}

func TestStoreEntriesWithinRadius(t *testing.T) {
	var nodeID [32]byte
	s, _ := NewStore(DefaultStoreConfig(nodeID))

	for i := 0; i < 5; i++ {
		var id ContentID
		id[0] = byte(i + 1)
		s.Put(id, []byte{byte(i)})
	}

	entries := s.EntriesWithinRadius(nodeID, MaxRadius())
	if len(entries) != 5 {
		t.Fatalf("entries within max radius = %d, want 5", len(entries))
	}
	entries = s.EntriesWithinRadius(nodeID, ZeroRadius())
	if len(entries) != 0 {
		t.Fatalf("entries within zero radius = %d, want 0", len(entries))
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	var nodeID [32]byte
	s, _ := NewStore(DefaultStoreConfig(nodeID))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			var id ContentID
			id[0] = byte(idx)
			s.Put(id, []byte{byte(idx)})
			s.Get(id)
			s.Has(id)
		}(i)
	}
	wg.Wait()

	if s.ItemCount() != 50 {
		t.Fatalf("ItemCount = %d, want 50", s.ItemCount())
	}
}
