package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Decoder turns raw object bytes into a typed event.
//
// Implementations must be deterministic and free of side effects: the same
// bytes may be decoded again on every redelivery of a message.
type Decoder[E any] interface {
	Decode(data []byte) (E, error)
}

// Func adapts a plain function to Decoder.
type Func[E any] func(data []byte) (E, error)

func (f Func[E]) Decode(data []byte) (E, error) { return f(data) }

// JSON decodes a single JSON document into E.
type JSON[E any] struct {
	// Strict rejects documents with fields E does not declare.
	Strict bool
}

func (d JSON[E]) Decode(data []byte) (E, error) {
	var out E
	if len(bytes.TrimSpace(data)) == 0 {
		return out, errors.New("empty json document")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if d.Strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return out, errors.New("decode json: trailing data after document")
	}
	return out, nil
}
