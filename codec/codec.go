// Package codec converts cached values to and from the bytes stored in each
// tier. JSON is the default; every other codec is opt-in.
package codec

// Codec encodes/decodes values V to []byte for storage.
// Name identifies the codec in logs.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
	Name() string
}
