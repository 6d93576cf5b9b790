package bloom

import "context"

// Filter is a membership test with no false negatives.
type Filter interface {
	Add(ctx context.Context, key string) error
	AddMany(ctx context.Context, keys []string) error
	// Contains reports false only when key was definitely never added. When the
	// backing store fails it returns (true, err) with err wrapping ErrUncertain.
	Contains(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	// Enabled is false for Nop; callers skip the filter path entirely.
	Enabled() bool
}

// Nop disables the filter.
type Nop struct{}

var _ Filter = Nop{}

func (Nop) Add(context.Context, string) error              { return nil }
func (Nop) AddMany(context.Context, []string) error        { return nil }
func (Nop) Contains(context.Context, string) (bool, error) { return false, nil }
func (Nop) Clear(context.Context) error                    { return nil }
func (Nop) Stats(context.Context) (Stats, error)           { return Stats{}, nil }
func (Nop) Enabled() bool                                  { return false }
