package cardcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/cardcache/store"
)

// ============================================================
// shared fakes
// ============================================================

type memEntry struct {
	val []byte
	exp time.Time
}

// memProvider is an unbounded in-memory Provider honoring TTLs.
type memProvider struct {
	mu      sync.Mutex
	entries map[string]memEntry
	reject  bool
	closed  bool
}

func newMemProvider() *memProvider {
	return &memProvider{entries: make(map[string]memEntry)}
}

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.val...), true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	e := memEntry{val: append([]byte(nil), value...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	p.entries[key] = e
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
	return nil
}

func (p *memProvider) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *memProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// fakeReader serves cardinalities from a fixed map and counts store
// round trips. Delays and failures are injected per column family.
type fakeReader struct {
	mu         sync.Mutex
	counts     map[store.CacheKey]int64
	getCalls   int
	batchCalls int
	sumCalls   int
	batchSizes []int
	delays     map[string]time.Duration
	fails      map[string]error
}

func newFakeReader(counts map[store.CacheKey]int64) *fakeReader {
	return &fakeReader{
		counts: counts,
		delays: make(map[string]time.Duration),
		fails:  make(map[string]error),
	}
}

func (r *fakeReader) stall(family string) error {
	r.mu.Lock()
	d, err := r.delays[family], r.fails[family]
	r.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	return err
}

func (r *fakeReader) GetCardinality(_ context.Context, key store.CacheKey) (int64, error) {
	r.mu.Lock()
	r.getCalls++
	r.mu.Unlock()
	if err := r.stall(key.Family); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key], nil
}

func (r *fakeReader) SumCardinalities(_ context.Context, keys []store.CacheKey) (int64, error) {
	r.mu.Lock()
	r.sumCalls++
	r.mu.Unlock()
	var sum int64
	for _, key := range keys {
		if err := r.stall(key.Family); err != nil {
			return 0, err
		}
		r.mu.Lock()
		sum += r.counts[key]
		r.mu.Unlock()
	}
	return sum, nil
}

func (r *fakeReader) GetCardinalities(_ context.Context, keys []store.CacheKey) (map[store.CacheKey]int64, error) {
	r.mu.Lock()
	r.batchCalls++
	r.batchSizes = append(r.batchSizes, len(keys))
	r.mu.Unlock()
	out := make(map[store.CacheKey]int64, len(keys))
	for _, key := range keys {
		if err := r.stall(key.Family); err != nil {
			return nil, err
		}
		r.mu.Lock()
		out[key] = r.counts[key]
		r.mu.Unlock()
	}
	return out, nil
}

func (r *fakeReader) NumRows(context.Context, string, string) (int64, error) { return 0, nil }

func (r *fakeReader) gets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCalls
}

func (r *fakeReader) batches() (int, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batchCalls, append([]int(nil), r.batchSizes...)
}

// recordHooks captures hook invocations for assertions.
type recordHooks struct {
	mu           sync.Mutex
	earlyColumns []string
	bgFailures   []error
	selfHeals    []string
	setRejected  []string
}

func (h *recordHooks) EarlyReturn(column string, _, _ int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.earlyColumns = append(h.earlyColumns, column)
}

func (h *recordHooks) BackgroundFailure(_ string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bgFailures = append(h.bgFailures, err)
}

func (h *recordHooks) MemoSelfHeal(key, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.selfHeals = append(h.selfHeals, key)
}

func (h *recordHooks) MemoSetRejected(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setRejected = append(h.setRejected, key)
}

func ck(family, value string) store.CacheKey {
	return store.CacheKey{
		Schema: "default",
		Table:  "probe_test",
		Family: family,
		Auths:  store.NewAuthorizations(),
		Range:  store.Exact(value),
	}
}

func rk(family, begin, end string) store.CacheKey {
	return store.CacheKey{
		Schema: "default",
		Table:  "probe_test",
		Family: family,
		Auths:  store.NewAuthorizations(),
		Range:  store.Between(begin, end),
	}
}

// ============================================================
// memo
// ============================================================

func newTestMemo(p *memProvider, r *fakeReader, ttl time.Duration, hooks Hooks) *memoCache {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return newMemoCache(p, r, ttl, NopLogger{}, hooks)
}

func TestMemoLoadCachesExactKeys(t *testing.T) {
	ctx := context.Background()
	key := ck("cf_firstname", "abc")
	reader := newFakeReader(map[store.CacheKey]int64{key: 5})
	memo := newTestMemo(newMemProvider(), reader, time.Minute, nil)

	for i := 0; i < 3; i++ {
		n, err := memo.Load(ctx, key)
		if err != nil || n != 5 {
			t.Fatalf("Load #%d = %d, %v", i, n, err)
		}
	}
	if reader.gets() != 1 {
		t.Fatalf("store reads = %d, want 1", reader.gets())
	}
}

func TestMemoNonExactReadsThrough(t *testing.T) {
	ctx := context.Background()
	key := rk("cf_firstname", "a", "z")
	reader := newFakeReader(map[store.CacheKey]int64{key: 7})
	provider := newMemProvider()
	memo := newTestMemo(provider, reader, time.Minute, nil)

	for i := 0; i < 2; i++ {
		n, err := memo.Load(ctx, key)
		if err != nil || n != 7 {
			t.Fatalf("Load #%d = %d, %v", i, n, err)
		}
	}
	if reader.gets() != 2 {
		t.Fatalf("non-exact loads should never memoize: reads = %d", reader.gets())
	}
	if provider.len() != 0 {
		t.Fatalf("provider holds %d entries for non-exact keys", provider.len())
	}
}

func TestMemoLoadAllBatchesOnlyMissing(t *testing.T) {
	ctx := context.Background()
	k1, k2, k3 := ck("cf_a", "x"), ck("cf_a", "y"), ck("cf_b", "z")
	reader := newFakeReader(map[store.CacheKey]int64{k1: 1, k2: 2, k3: 3})
	memo := newTestMemo(newMemProvider(), reader, time.Minute, nil)

	// prime one key
	if _, err := memo.Load(ctx, k1); err != nil {
		t.Fatalf("Load: %v", err)
	}

	out, err := memo.LoadAll(ctx, []store.CacheKey{k1, k2, k3})
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if out[k1] != 1 || out[k2] != 2 || out[k3] != 3 {
		t.Fatalf("LoadAll = %v", out)
	}
	calls, sizes := reader.batches()
	if calls != 1 || sizes[0] != 2 {
		t.Fatalf("batch calls = %d sizes = %v, want one batch of the 2 missing keys", calls, sizes)
	}

	// fully cached now
	if _, err := memo.LoadAll(ctx, []store.CacheKey{k1, k2, k3}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if calls, _ := reader.batches(); calls != 1 {
		t.Fatalf("cached LoadAll still hit the store")
	}
}

func TestMemoLoadAllDedupes(t *testing.T) {
	ctx := context.Background()
	key := ck("cf_a", "x")
	reader := newFakeReader(map[store.CacheKey]int64{key: 4})
	memo := newTestMemo(newMemProvider(), reader, time.Minute, nil)

	out, err := memo.LoadAll(ctx, []store.CacheKey{key, key, key})
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(out) != 1 || out[key] != 4 {
		t.Fatalf("LoadAll = %v", out)
	}
	if _, sizes := reader.batches(); len(sizes) != 1 || sizes[0] != 1 {
		t.Fatalf("duplicate keys were not deduped: %v", sizes)
	}
}

func TestMemoConcurrentLoadsShareOneRead(t *testing.T) {
	ctx := context.Background()
	key := ck("cf_firstname", "abc")
	reader := newFakeReader(map[store.CacheKey]int64{key: 9})
	reader.delays["cf_firstname"] = 30 * time.Millisecond
	memo := newTestMemo(newMemProvider(), reader, time.Minute, nil)

	const goroutines = 8
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := memo.Load(ctx, key)
			if err != nil {
				errs <- err
				return
			}
			if n != 9 {
				errs <- errors.New("wrong cardinality")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Load: %v", err)
	}
	if reader.gets() != 1 {
		t.Fatalf("store reads = %d, want the %d loads coalesced into 1", reader.gets(), goroutines)
	}
}

func TestMemoCorruptEntrySelfHeals(t *testing.T) {
	ctx := context.Background()
	key := ck("cf_firstname", "abc")
	reader := newFakeReader(map[store.CacheKey]int64{key: 5})
	provider := newMemProvider()
	hooks := &recordHooks{}
	memo := newTestMemo(provider, reader, time.Minute, hooks)

	if _, err := memo.Load(ctx, key); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// stomp the cached frame
	if _, err := provider.Set(ctx, storageKey(key), []byte("junk"), 1, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	n, err := memo.Load(ctx, key)
	if err != nil || n != 5 {
		t.Fatalf("Load after corruption = %d, %v", n, err)
	}
	if reader.gets() != 2 {
		t.Fatalf("corrupt entry should force a reload: reads = %d", reader.gets())
	}
	if len(hooks.selfHeals) != 1 {
		t.Fatalf("self-heal hook fired %d times, want 1", len(hooks.selfHeals))
	}

	// healed entry serves hits again
	if _, err := memo.Load(ctx, key); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reader.gets() != 2 {
		t.Fatalf("healed entry missed: reads = %d", reader.gets())
	}
}

func TestMemoEntryExpires(t *testing.T) {
	ctx := context.Background()
	key := ck("cf_firstname", "abc")
	reader := newFakeReader(map[store.CacheKey]int64{key: 5})
	memo := newTestMemo(newMemProvider(), reader, 20*time.Millisecond, nil)

	if _, err := memo.Load(ctx, key); err != nil {
		t.Fatalf("Load: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := memo.Load(ctx, key); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reader.gets() != 2 {
		t.Fatalf("expired entry was served: reads = %d", reader.gets())
	}
}

func TestMemoSetRejectedDegradesToReadThrough(t *testing.T) {
	ctx := context.Background()
	key := ck("cf_firstname", "abc")
	reader := newFakeReader(map[store.CacheKey]int64{key: 5})
	provider := newMemProvider()
	provider.reject = true
	hooks := &recordHooks{}
	memo := newTestMemo(provider, reader, time.Minute, hooks)

	for i := 0; i < 2; i++ {
		n, err := memo.Load(ctx, key)
		if err != nil || n != 5 {
			t.Fatalf("Load #%d = %d, %v", i, n, err)
		}
	}
	if reader.gets() != 2 {
		t.Fatalf("rejected sets must not fake a cache: reads = %d", reader.gets())
	}
	if len(hooks.setRejected) == 0 {
		t.Fatalf("set-rejected hook never fired")
	}
}
