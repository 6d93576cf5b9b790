package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOROptions configure NewCBOR. The zero value gives unsorted preferred
// encoding with decoder limits suited to entries read back from a shared tier.
type CBOROptions struct {
	// Deterministic selects RFC 8949 Core Deterministic encoding, so equal
	// values written by different processes are byte-identical.
	Deterministic bool
	// MaxNestedLevels bounds decode depth; 0 => 32.
	MaxNestedLevels int
	// MaxPairs bounds map and array sizes on decode; 0 => 131072.
	MaxPairs int
}

// CBOR serializes values with fxamacker/cbor. Construct with NewCBOR or
// MustCBOR; the zero value has no modes and panics.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

// NewCBOR builds the encode and decode modes once. Times are RFC3339Nano and
// duplicate map keys are rejected on decode.
func NewCBOR[V any](o CBOROptions) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if o.Deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, fmt.Errorf("codec cbor: enc mode: %w", err)
	}

	do := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:  coalesceInt(o.MaxNestedLevels, 32),
		MaxArrayElements: coalesceInt(o.MaxPairs, 131072),
		MaxMapPairs:      coalesceInt(o.MaxPairs, 131072),
	}
	dm, err := do.DecMode()
	if err != nil {
		return CBOR[V]{}, fmt.Errorf("codec cbor: dec mode: %w", err)
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

// MustCBOR is NewCBOR for package-level vars; it panics on bad options.
func MustCBOR[V any](o CBOROptions) CBOR[V] {
	c, err := NewCBOR[V](o)
	if err != nil {
		panic(err)
	}
	return c
}

func (CBOR[V]) Name() string { return "cbor" }

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	if err := c.dec.Unmarshal(b, &v); err != nil {
		var zero V
		return zero, err
	}
	return v, nil
}

func coalesceInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
