package hybridcache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/hybridcache/bloom"
)

var (
	// ErrTierUnavailable matches every *TierError.
	ErrTierUnavailable = errors.New("hybridcache: tier unavailable")
	// ErrLockUnavailable is returned by GetOrCreate when the lock could not be
	// taken and Options.FailOnLockUnavailable is set.
	ErrLockUnavailable = errors.New("hybridcache: lock unavailable")
	// ErrFilterUncertain is reported to Hooks when the bloom filter could not
	// be read; the lookup proceeds as if the key may exist.
	ErrFilterUncertain = bloom.ErrUncertain
)

// TierError is a failed provider call.
type TierError struct {
	Tier Tier
	Op   string
	Key  string
	Err  error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("hybridcache: %s tier %s %q: %v", e.Tier, e.Op, e.Key, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }

func (e *TierError) Is(target error) bool { return target == ErrTierUnavailable }

// RemoveError reports which tiers failed a Remove or RemoveByPrefix. Key is the
// prefix for the latter.
type RemoveError struct {
	Key       string
	LocalErr  error
	RemoteErr error
}

func (e *RemoveError) Error() string {
	switch {
	case e.LocalErr != nil && e.RemoteErr != nil:
		return fmt.Sprintf("hybridcache: remove %q failed on both tiers: local=%v; remote=%v",
			e.Key, e.LocalErr, e.RemoteErr)
	case e.LocalErr != nil:
		return fmt.Sprintf("hybridcache: remove %q: local tier: %v", e.Key, e.LocalErr)
	case e.RemoteErr != nil:
		return fmt.Sprintf("hybridcache: remove %q: remote tier: %v", e.Key, e.RemoteErr)
	default:
		return fmt.Sprintf("hybridcache: remove %q: unknown error", e.Key)
	}
}

func (e *RemoveError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.LocalErr != nil {
		errs = append(errs, e.LocalErr)
	}
	if e.RemoteErr != nil {
		errs = append(errs, e.RemoteErr)
	}
	return errs
}
