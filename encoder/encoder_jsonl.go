package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// JSONLinesEncoder writes one JSON document per line (NDJSON).
type JSONLinesEncoder[iType any] struct{}

var _ Encoder[struct{}] = JSONLinesEncoder[struct{}]{}

func (JSONLinesEncoder[iType]) FileExtension() string { return ".jsonl" }
func (JSONLinesEncoder[iType]) ContentType() string   { return "application/x-ndjson" }

func (JSONLinesEncoder[iType]) Encode(ctx context.Context, items []iType) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range items {
		// Encode appends the newline.
		if err := enc.Encode(items[i]); err != nil {
			return nil, fmt.Errorf("encode item %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
