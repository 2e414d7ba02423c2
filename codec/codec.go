// Package codec converts tuples to and from datagram payloads.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/tuple"
)

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

// Codec encodes one tuple per payload.
type Codec interface {
	Name() string
	Encode(t *tuple.Tuple) ([]byte, error)
	Decode(data []byte) (*tuple.Tuple, error)
}

// JSON encodes tuples in their typed JSON form.
type JSON struct {
	// MaxSize rejects larger payloads in both directions. Zero means MaxDatagramSize.
	MaxSize int
}

var _ Codec = JSON{}

// Name returns "json".
func (JSON) Name() string { return "json" }

func (c JSON) limit() int {
	if c.MaxSize > 0 {
		return c.MaxSize
	}
	return MaxDatagramSize
}

// Encode marshals t. Payloads over the size limit fail with ErrValidation.
func (c JSON) Encode(t *tuple.Tuple) ([]byte, error) {
	if t == nil {
		return nil, errors.Validationf("codec", "JSON.Encode", "nil tuple")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, errors.WrapInvalid(err, "codec", "JSON.Encode", "marshal tuple")
	}
	if len(data) > c.limit() {
		return nil, errors.Validationf("codec", "JSON.Encode", "encoded tuple is %d bytes, limit %d", len(data), c.limit())
	}
	return data, nil
}

// Decode unmarshals one tuple. Malformed payloads fail with ErrDecode.
func (c JSON) Decode(data []byte) (*tuple.Tuple, error) {
	if len(data) == 0 {
		return nil, decodeError(fmt.Errorf("empty payload"))
	}
	if len(data) > c.limit() {
		return nil, decodeError(fmt.Errorf("payload is %d bytes, limit %d", len(data), c.limit()))
	}
	var t tuple.Tuple
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, decodeError(err)
	}
	return &t, nil
}

func decodeError(err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrDecode, err), "codec", "JSON.Decode", "decode tuple")
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	default:
		return nil, errors.Validationf("codec", "ByName", "unknown codec %q", name)
	}
}
