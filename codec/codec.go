// Package codec serializes the generic value trees exchanged by the protocol layer.
//
// A value tree is built from nil, bool, string, json.Number (or any Go number),
// []any and map[string]any. Structs and other Go values are accepted by Encode as
// long as the wire format can represent them.
package codec

// Codec encodes and decodes value trees to and from the wire text format.
// Both directions fail with a rpcerror.KindParse error.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
	Name() string
}

// Default returns the codec used when none is configured.
func Default() Codec {
	return &JSONCodec{}
}
