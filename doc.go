// Package hybridcache is a two-tier read-through cache: a process-local tier in
// front of a shared Redis tier, with stampede and penetration protection and
// cross-process invalidation of the local tier.
//
// Components:
//   - Local / Remote: byte stores implementing provider.Provider (ristretto or
//     bigcache locally, Redis remotely). Either may be absent.
//   - Codec[V]: (de)serializes V <-> []byte; JSON by default.
//   - Lock: quorum lock (redlock) so one caller per cluster runs the factory.
//   - Filter: bloom filter over produced keys; a definite "no" skips both tiers.
//   - Sync: pub/sub broadcaster (cachesync) that evicts local copies elsewhere.
//   - GenStore: per-key stamps guarding local backfills against concurrent
//     evictions.
//
// Keys:
//
//	<namespace>:<key>        - cached value or the absence marker
//	lock:<namespace>:<key>   - lock resource (stored as redlock:lock:...)
//
// Read-through:
//
//	u, found, err := cache.GetOrCreate(ctx, "user:42", func(ctx context.Context) (User, bool, error) {
//	    return db.FindUser(ctx, 42) // found=false caches the absence
//	}, nil)
//
// A value absent from the source is cached as an absence marker for
// NegativeTTL. String and Bytes codecs must never produce the marker bytes
// "__NULL__" as a real value; such a value reads back as absent.
package hybridcache
