package v5wire

import (
	"github.com/VictoriaMetrics/fastcache"

	"github.com/eth2030/discovery/p2p/enode"
	"github.com/eth2030/discovery/p2p/enr"
)

// recordCacheSize bounds the fixed-memory cache of externally-learned
// records, keyed by the advertising node's ID.
const recordCacheSize = 1 << 20 // 1 MiB

// recordCache remembers the most recent record seen from each peer, so a
// handshake message that omits its attached record (RecordSeq tells the
// sender we already have the latest one) can still be completed without
// the caller needing to track records itself.
type recordCache struct {
	c *fastcache.Cache
}

func newRecordCache() *recordCache {
	return &recordCache{c: fastcache.New(recordCacheSize)}
}

func (rc *recordCache) store(id enode.ID, rec *enr.Record) {
	b, err := enr.Encode(rec)
	if err != nil {
		return
	}
	rc.c.Set(id[:], b)
}

func (rc *recordCache) get(id enode.ID) *enr.Record {
	b := rc.c.Get(nil, id[:])
	if len(b) == 0 {
		return nil
	}
	rec, err := enr.Decode(b)
	if err != nil {
		return nil
	}
	return rec
}
