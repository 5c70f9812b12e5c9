// store.go implements the local content store backing the Portal (C10)
// overlay: an LRU-bounded byte-addressed cache keyed by content ID, with
// radius tracking so the node can decide what it is responsible for.
package portal

import (
	"container/list"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
	"github.com/syndtr/goleveldb/leveldb"
)

var (
	ErrStoreClosed        = errors.New("portal/store: database is closed")
	ErrStoreFull          = errors.New("portal/store: database is full, eviction failed")
	ErrContentOutOfRadius = errors.New("portal/store: content outside node radius")
	ErrContentKeyEmpty    = errors.New("portal/store: empty content key")
)

// StoreConfig configures the content store.
type StoreConfig struct {
	// MaxCapacity is the maximum in-memory storage capacity in bytes.
	MaxCapacity uint64

	// MaxItems is the maximum number of items (0 = unlimited).
	MaxItems int

	// EvictBatchSize is the number of items to evict when the store is full.
	EvictBatchSize int

	// NodeID is the local node's 32-byte identifier, used to compute
	// distances for radius accounting.
	NodeID [32]byte

	// PersistPath, if non-empty, backs the store with an on-disk leveldb
	// instance so content survives restarts (Section 8's durability note).
	PersistPath string
}

// DefaultStoreConfig returns a default store configuration.
func DefaultStoreConfig(nodeID [32]byte) StoreConfig {
	return StoreConfig{
		MaxCapacity:    256 << 20, // 256 MiB
		MaxItems:       0,
		EvictBatchSize: 16,
		NodeID:         nodeID,
	}
}

// ContentEntry is a single content item stored in memory.
type ContentEntry struct {
	ContentID ContentID
	Data      []byte
	Size      uint64
	StoredAt  time.Time
}

// StoreMetrics tracks content store statistics.
type StoreMetrics struct {
	Puts      atomic.Int64
	Gets      atomic.Int64
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	UsedBytes atomic.Int64
	ItemCount atomic.Int64
}

// Store is the content database for the Portal overlay: an in-memory
// LRU cache with an optional leveldb-backed persistence tier, plus
// XOR-distance radius accounting (Section 4.10).
type Store struct {
	mu      sync.Mutex
	config  StoreConfig
	items   map[ContentID]*list.Element
	lruList *list.List
	closed  bool
	radius  *uint256.Int

	disk *leveldb.DB // nil when PersistPath is unset

	Metrics StoreMetrics
}

// NewStore creates a content store with the given configuration. If
// config.PersistPath is set, content puts are mirrored to an on-disk
// leveldb instance and reads fall back to disk on an in-memory miss.
func NewStore(config StoreConfig) (*Store, error) {
	if config.EvictBatchSize <= 0 {
		config.EvictBatchSize = 1
	}
	s := &Store{
		config:  config,
		items:   make(map[ContentID]*list.Element),
		lruList: list.New(),
		radius:  MaxRadius(),
	}
	if config.PersistPath != "" {
		db, err := leveldb.OpenFile(config.PersistPath, nil)
		if err != nil {
			return nil, err
		}
		s.disk = db
	}
	return s, nil
}

// Get retrieves content by its content ID, updating LRU ordering on a
// memory hit and falling through to disk (if configured) on a miss.
func (s *Store) Get(id ContentID) ([]byte, error) {
	s.Metrics.Gets.Add(1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	if elem, ok := s.items[id]; ok {
		s.lruList.MoveToFront(elem)
		entry := elem.Value.(*ContentEntry)
		s.mu.Unlock()
		s.Metrics.Hits.Add(1)
		out := make([]byte, len(entry.Data))
		copy(out, entry.Data)
		return out, nil
	}
	disk := s.disk
	s.mu.Unlock()

	if disk != nil {
		data, err := disk.Get(id[:], nil)
		if err == nil {
			s.Metrics.Hits.Add(1)
			return data, nil
		}
	}
	s.Metrics.Misses.Add(1)
	return nil, ErrContentNotFound
}

// Put stores content by its content ID, evicting LRU entries from memory
// as needed and mirroring to disk when persistence is configured.
func (s *Store) Put(id ContentID, data []byte) error {
	s.Metrics.Puts.Add(1)
	if len(data) == 0 {
		return ErrEmptyPayload
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	dataSize := uint64(len(data))

	if elem, exists := s.items[id]; exists {
		old := elem.Value.(*ContentEntry)
		s.Metrics.UsedBytes.Add(-int64(old.Size))
		cp := make([]byte, len(data))
		copy(cp, data)
		old.Data = cp
		old.Size = dataSize
		old.StoredAt = time.Now()
		s.Metrics.UsedBytes.Add(int64(dataSize))
		s.lruList.MoveToFront(elem)
	} else {
		if err := s.evictLocked(dataSize); err != nil {
			s.mu.Unlock()
			return err
		}
		entry := &ContentEntry{ContentID: id, Data: append([]byte(nil), data...), Size: dataSize, StoredAt: time.Now()}
		elem := s.lruList.PushFront(entry)
		s.items[id] = elem
		s.Metrics.UsedBytes.Add(int64(dataSize))
		s.Metrics.ItemCount.Add(1)
	}
	disk := s.disk
	s.mu.Unlock()

	if disk != nil {
		return disk.Put(id[:], data, nil)
	}
	return nil
}

// Delete removes content by its content ID from memory and disk.
func (s *Store) Delete(id ContentID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if elem, ok := s.items[id]; ok {
		entry := elem.Value.(*ContentEntry)
		s.lruList.Remove(elem)
		delete(s.items, id)
		s.Metrics.UsedBytes.Add(-int64(entry.Size))
		s.Metrics.ItemCount.Add(-1)
	}
	disk := s.disk
	s.mu.Unlock()

	if disk != nil {
		return disk.Delete(id[:], nil)
	}
	return nil
}

// Has reports whether content exists in memory (disk-only entries are not
// probed, matching the in-memory LRU's role as the fast-path index).
func (s *Store) Has(id ContentID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	_, ok := s.items[id]
	return ok
}

func (s *Store) UsedBytes() uint64 {
	v := s.Metrics.UsedBytes.Load()
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func (s *Store) CapacityBytes() uint64 { return s.config.MaxCapacity }

func (s *Store) ItemCount() int { return int(s.Metrics.ItemCount.Load()) }

// Close marks the store closed and releases the disk handle, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	disk := s.disk
	s.mu.Unlock()
	if disk != nil {
		return disk.Close()
	}
	return nil
}

func (s *Store) Radius() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.radius.Clone()
}

func (s *Store) SetRadius(r *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.radius = r.Clone()
}

// evictLocked removes entries from the LRU tail until enough space is
// free for a new item of the given size. Caller must hold s.mu.
func (s *Store) evictLocked(size uint64) error {
	for s.UsedBytes()+size > s.config.MaxCapacity || (s.config.MaxItems > 0 && s.lruList.Len() >= s.config.MaxItems) {
		if s.lruList.Len() == 0 {
			return ErrStoreFull
		}
		evicted := 0
		for evicted < s.config.EvictBatchSize && s.lruList.Len() > 0 {
			back := s.lruList.Back()
			if back == nil {
				break
			}
			entry := back.Value.(*ContentEntry)
			s.lruList.Remove(back)
			delete(s.items, entry.ContentID)
			s.Metrics.UsedBytes.Add(-int64(entry.Size))
			s.Metrics.ItemCount.Add(-1)
			s.Metrics.Evictions.Add(1)
			evicted++
		}
	}
	return nil
}

// IsWithinRadius checks whether a content ID falls within radius of nodeID.
func IsWithinRadius(nodeID [32]byte, contentID ContentID, radius *uint256.Int) bool {
	return WithinRadius(nodeID, contentID, radius)
}

// UpdateRadiusFromUsage shrinks the radius as storage fills, proportional
// to remaining headroom (Section 4.10's "radius narrows under pressure").
func UpdateRadiusFromUsage(usedBytes, capacityBytes uint64) *uint256.Int {
	if capacityBytes == 0 || usedBytes >= capacityBytes {
		return ZeroRadius()
	}
	if usedBytes == 0 {
		return MaxRadius()
	}
	remaining := capacityBytes - usedBytes
	max := MaxRadius()
	// MulDivOverflow keeps the 512-bit product, so max*remaining cannot wrap.
	num, _ := new(uint256.Int).MulDivOverflow(max, uint256.NewInt(remaining), uint256.NewInt(capacityBytes))
	return num
}

// AutoUpdateRadius recomputes and applies the store's radius from current
// memory usage.
func (s *Store) AutoUpdateRadius() {
	s.SetRadius(UpdateRadiusFromUsage(s.UsedBytes(), s.CapacityBytes()))
}

// FindContentByKey looks up content by its opaque content key.
func (s *Store) FindContentByKey(contentKey []byte) ([]byte, error) {
	if len(contentKey) == 0 {
		return nil, ErrContentKeyEmpty
	}
	return s.Get(ComputeContentID(contentKey))
}

// StoreContentByKey stores content by its opaque content key, rejecting
// content that falls outside the node's current radius.
func (s *Store) StoreContentByKey(contentKey, content []byte) error {
	if len(contentKey) == 0 {
		return ErrContentKeyEmpty
	}
	if len(content) == 0 {
		return ErrEmptyPayload
	}
	id := ComputeContentID(contentKey)

	s.mu.Lock()
	radius := s.radius
	nodeID := s.config.NodeID
	s.mu.Unlock()

	if !IsWithinRadius(nodeID, id, radius) {
		return ErrContentOutOfRadius
	}
	return s.Put(id, content)
}

// EntriesWithinRadius returns the in-memory content IDs within radius of
// nodeID.
func (s *Store) EntriesWithinRadius(nodeID [32]byte, radius *uint256.Int) []ContentID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ContentID
	for id := range s.items {
		if IsWithinRadius(nodeID, id, radius) {
			out = append(out, id)
		}
	}
	return out
}
