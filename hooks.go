package cardcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The aggregator calls them on hot paths.
type Hooks interface {
	// The call returned a partial ranking; column resolved to
	// cardinality <= threshold while other tasks kept running.
	EarlyReturn(column string, cardinality, threshold int64)

	// A task left running after an early return failed. Invisible to
	// any caller; this is the only record of it besides the log.
	BackgroundFailure(column string, err error)

	// A memo entry was deleted on read.
	// reason ∈ {"corrupt"}
	MemoSelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	MemoSetRejected(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) EarlyReturn(string, int64, int64) {}
func (NopHooks) BackgroundFailure(string, error)  {}
func (NopHooks) MemoSelfHeal(string, string)      {}
func (NopHooks) MemoSetRejected(string)           {}
