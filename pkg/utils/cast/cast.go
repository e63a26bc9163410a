// Package cast narrows the any-typed values bencode.Unmarshal produces
// down to the two concrete shapes KRPC argument/result fields are ever
// pulled out as: a byte string or an integer. It has no reason to cover
// more than that, since decoded dict/list values are always used as
// map[string]any / []any directly rather than cast.
package cast

import (
	"fmt"
)

// ToBytes narrows a decoded field to a byte string. Decoded strings
// surface as Go string, but some callers (id/token/compact-peer fields)
// want the raw bytes, so []byte is accepted too.
func ToBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("not a byte string")
	}
}

// ToInt narrows a decoded field to an integer. bencode.Unmarshal only
// ever produces int64 for bencoded integers, so that's the only case
// handled.
func ToInt(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	default:
		return 0, fmt.Errorf("not an int")
	}
}
