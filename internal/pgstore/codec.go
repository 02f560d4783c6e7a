package pgstore

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hanpama/entityflow/internal/entity"
)

// Codec decodes the stored document column into a JSON-like value.
type Codec interface {
	Decode(data []byte) (any, error)
}

var (
	// JSON decodes json/jsonb columns.
	JSON Codec = jsonCodec{}
	// MessagePack decodes bytea columns holding MessagePack documents.
	MessagePack Codec = msgpackCodec{}
)

type jsonCodec struct{}

func (jsonCodec) Decode(data []byte) (any, error) {
	var v any
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "decode json document")
	}
	return v, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Decode(data []byte) (any, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "decode msgpack document")
	}
	return normalize(v), nil
}

// normalize rewrites maps with non-string keys, which MessagePack allows,
// into string-keyed maps.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[entity.KeyText(k)] = normalize(e)
		}
		return out
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	default:
		return v
	}
}
