package persist

// Hooks are callbacks for events worth counting or alerting on.
// They run synchronously on the caller's goroutine and must be cheap.
type Hooks interface {
	// The snapshot blob was deleted on read. reason ∈ {"corrupt"}.
	SelfHeal(storageKey, reason string)

	// A record was left out of a save or a load.
	// reason ∈ {"gen_mismatch", "not_observed", "value_decode", "value_encode"}.
	RecordDropped(key, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// GenStore errors. count is the number of keys involved.
	GenSnapshotError(count int, err error)
	GenBumpError(key string, err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)      {}
func (NopHooks) RecordDropped(string, string) {}
func (NopHooks) ProviderSetRejected(string)   {}
func (NopHooks) GenSnapshotError(int, error)  {}
func (NopHooks) GenBumpError(string, error)   {}
