package cardcache

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/cardcache/internal/util"
	"github.com/unkn0wn-root/cardcache/internal/wire"
	pr "github.com/unkn0wn-root/cardcache/provider"
	"github.com/unkn0wn-root/cardcache/store"
)

const memoKeyPrefix = "card"

// memoCache memoizes exact point-value cardinalities in a bounded
// provider. Non-exact keys read straight through to the store: their
// value space is unbounded and their result is a cheap aggregate, so
// caching them would either blow the budget or serve stale sums.
//
// The reader is bound at construction; one memo serves one backing
// store for its whole lifetime.
type memoCache struct {
	provider pr.Provider
	reader   store.Reader
	ttl      time.Duration
	log      Logger
	hooks    Hooks

	// at most one in-flight store load per key; a batch claims every
	// missing key it owns and completes each waiter individually
	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	done chan struct{}
	val  int64
	err  error
}

func newMemoCache(p pr.Provider, r store.Reader, ttl time.Duration, log Logger, hooks Hooks) *memoCache {
	return &memoCache{
		provider: p,
		reader:   r,
		ttl:      ttl,
		log:      log,
		hooks:    hooks,
		inflight: make(map[string]*flight),
	}
}

func storageKey(key store.CacheKey) string {
	return util.EntryKey(memoKeyPrefix, key.String())
}

// cached returns a memoized count. Provider errors and corrupt frames
// degrade to misses; corrupt entries are deleted (self-heal).
func (m *memoCache) cached(ctx context.Context, sk string) (int64, bool) {
	raw, ok, err := m.provider.Get(ctx, sk)
	if err != nil {
		m.log.Warn("memo get failed", Fields{"key": sk, "err": err})
		return 0, false
	}
	if !ok {
		return 0, false
	}
	n, err := wire.DecodeCount(raw)
	if err != nil {
		_ = m.provider.Del(ctx, sk)
		m.hooks.MemoSelfHeal(sk, "corrupt")
		return 0, false
	}
	return n, true
}

func (m *memoCache) put(ctx context.Context, sk string, n int64) {
	ok, err := m.provider.Set(ctx, sk, wire.EncodeCount(n), 1, m.ttl)
	if err != nil {
		m.log.Warn("memo set failed", Fields{"key": sk, "err": err})
		return
	}
	if !ok {
		m.hooks.MemoSetRejected(sk)
		m.log.Debug("memo set rejected (pressure)", Fields{"key": sk})
	}
}

// Load resolves one key, memoizing it when exact.
func (m *memoCache) Load(ctx context.Context, key store.CacheKey) (int64, error) {
	if !key.IsExact() {
		return m.reader.GetCardinality(ctx, key)
	}
	sk := storageKey(key)
	if n, ok := m.cached(ctx, sk); ok {
		return n, nil
	}

	m.mu.Lock()
	if f, ok := m.inflight[sk]; ok {
		m.mu.Unlock()
		select {
		case <-f.done:
			return f.val, f.err
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	m.inflight[sk] = f
	m.mu.Unlock()

	f.val, f.err = m.reader.GetCardinality(ctx, key)
	if f.err == nil {
		m.put(ctx, sk, f.val)
	}
	m.mu.Lock()
	delete(m.inflight, sk)
	m.mu.Unlock()
	close(f.done)

	return f.val, f.err
}

// LoadAll resolves a batch of exact keys with one store round trip for
// the keys this call owns, joining in-flight loads for the rest.
func (m *memoCache) LoadAll(ctx context.Context, keys []store.CacheKey) (map[store.CacheKey]int64, error) {
	out := make(map[store.CacheKey]int64, len(keys))
	seen := make(map[store.CacheKey]struct{}, len(keys))
	var missing []store.CacheKey
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if n, ok := m.cached(ctx, storageKey(key)); ok {
			out[key] = n
		} else {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	var owned []store.CacheKey
	var ownedFlights []*flight
	joins := make(map[store.CacheKey]*flight)
	m.mu.Lock()
	for _, key := range missing {
		sk := storageKey(key)
		if f, ok := m.inflight[sk]; ok {
			joins[key] = f
			continue
		}
		f := &flight{done: make(chan struct{})}
		m.inflight[sk] = f
		owned = append(owned, key)
		ownedFlights = append(ownedFlights, f)
	}
	m.mu.Unlock()

	var batchErr error
	if len(owned) > 0 {
		counts, err := m.reader.GetCardinalities(ctx, owned)
		batchErr = err
		for i, key := range owned {
			f := ownedFlights[i]
			if err != nil {
				f.err = err
				continue
			}
			f.val = counts[key]
			m.put(ctx, storageKey(key), f.val)
		}
		m.mu.Lock()
		for _, key := range owned {
			delete(m.inflight, storageKey(key))
		}
		m.mu.Unlock()
		for _, f := range ownedFlights {
			close(f.done)
		}
		if batchErr != nil {
			return nil, batchErr
		}
		for i, key := range owned {
			out[key] = ownedFlights[i].val
		}
	}

	for key, f := range joins {
		select {
		case <-f.done:
			if f.err != nil {
				return nil, f.err
			}
			out[key] = f.val
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}
