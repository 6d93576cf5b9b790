package hybridcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A provider call failed. Reads degrade to a miss; writes inside
	// GetOrCreate are swallowed after this call.
	TierReadError(tier Tier, storageKey string, err error)
	TierWriteError(tier Tier, storageKey string, err error)

	// A stored entry failed to decode and was deleted from tier.
	SelfHeal(tier Tier, storageKey, reason string)

	// A cached absence answered the lookup.
	NegativeHit(storageKey string)

	// The lock could not be taken; the factory may run concurrently elsewhere.
	LockUnavailable(storageKey string)
	LockReleaseError(storageKey string, err error)

	// The bloom filter could not be read and was treated as "maybe present".
	FilterUncertain(storageKey string, err error)

	// A remote hit was not copied to the local tier because the key was
	// evicted while the remote read was in flight.
	BackfillSkipped(storageKey string)

	// Queuing an invalidation broadcast failed (queue full or closed).
	PublishError(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

var _ Hooks = NopHooks{}

func (NopHooks) TierReadError(Tier, string, error)  {}
func (NopHooks) TierWriteError(Tier, string, error) {}
func (NopHooks) SelfHeal(Tier, string, string)      {}
func (NopHooks) NegativeHit(string)                 {}
func (NopHooks) LockUnavailable(string)             {}
func (NopHooks) LockReleaseError(string, error)     {}
func (NopHooks) FilterUncertain(string, error)      {}
func (NopHooks) BackfillSkipped(string)             {}
func (NopHooks) PublishError(string, error)         {}
