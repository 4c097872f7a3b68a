package core

import (
	"container/list"
	"context"

	"StableLedger/internal/observability"
)

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface, may be nil)
	dbChecker DBIdempotencyChecker

	metrics     *observability.Metrics
	tier2Errors int64
}

// DBIdempotencyChecker is the interface for the durable dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, instructionType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	lru := NewIdempotencyLRU(capacity)
	if metrics != nil {
		lru.onEvict = metrics.DedupLRUEvictions.Inc
	}
	return &IdempotencyChecker{
		lru:       lru,
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// CompositeKey is the dedup key stored in the LRU and in snapshots.
func CompositeKey(instructionType, idempotencyKey string) string {
	return instructionType + ":" + idempotencyKey
}

// IsDuplicate checks if an instruction has been applied (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, instructionType string, idempotencyKey string) bool {
	key := CompositeKey(instructionType, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(key) {
		ic.recordDuplicate(instructionType, "lru")
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(ctx, instructionType, idempotencyKey)
		if err != nil {
			// Conservative: a DB outage must not block the core. The unique
			// index on the event log still rejects a true duplicate at write.
			ic.tier2Errors++
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return false
		}

		if isDup {
			ic.recordDuplicate(instructionType, "postgres")
			ic.lru.Add(key)
			return true
		}
	}

	return false
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(instructionType string, idempotencyKey string) {
	ic.lru.Add(CompositeKey(instructionType, idempotencyKey))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

// SetDBChecker swaps the tier-2 lookup. Replay runs without it because every
// replayed instruction is already in the event log.
func (ic *IdempotencyChecker) SetDBChecker(dbChecker DBIdempotencyChecker) {
	ic.dbChecker = dbChecker
}

// Tier2Errors returns how many durable lookups failed.
func (ic *IdempotencyChecker) Tier2Errors() int64 {
	return ic.tier2Errors
}

func (ic *IdempotencyChecker) recordDuplicate(instructionType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(instructionType, tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe; only accessed from the single-threaded core.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
	onEvict   func()
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, min(capacity, 1<<16)),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(key)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem == nil {
		return
	}
	lru.lruList.Remove(elem)
	delete(lru.cache, elem.Value.(string))
	lru.evictions++
	if lru.onEvict != nil {
		lru.onEvict()
	}
}

// WarmFromKeys loads composite keys (oldest first) into the LRU on restart,
// so recently applied instructions skip the Postgres lookup.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// GetAllKeys returns keys from least to most recently used, the order
// WarmFromKeys expects.
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
