package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"mini-jsonrpc/rpcerror"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Numbers are decoded as json.Number so integer arguments keep their exact value.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, rpcerror.Wrap(rpcerror.KindParse, err)
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, rpcerror.Wrap(rpcerror.KindParse, err)
	}
	// Trailing garbage after the first value is malformed input too.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, rpcerror.New(rpcerror.KindParse, "invalid character after top-level value")
	}
	return v, nil
}

func (c *JSONCodec) Name() string {
	return "json"
}
