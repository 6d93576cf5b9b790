package codec

import "fmt"

// SizeError reports a payload rejected by LimitCodec.
type SizeError struct {
	Codec string
	Op    string // "encode" or "decode"
	Size  int
	Limit int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("codec %s: %s payload too large: %d > %d", e.Codec, e.Op, e.Size, e.Limit)
}

// LimitCodec bounds payload sizes around Inner. Oversized encodes are refused
// before they reach a tier; oversized decodes before Inner allocates for them.
// A limit <= 0 disables that side.
type LimitCodec[V any] struct {
	Inner     Codec[V]
	MaxEncode int
	MaxDecode int
}

func (c LimitCodec[V]) Name() string { return "limit(" + c.Inner.Name() + ")" }

func (c LimitCodec[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, &SizeError{Codec: c.Inner.Name(), Op: "encode", Size: len(b), Limit: c.MaxEncode}
	}
	return b, nil
}

func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, &SizeError{Codec: c.Inner.Name(), Op: "decode", Size: len(b), Limit: c.MaxDecode}
	}
	return c.Inner.Decode(b)
}
