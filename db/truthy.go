package db

import "encoding/json"

// truthy reports whether v counts as a present value under loose
// truthiness: null, false, zero and the empty string are all "missing".
// Objects and arrays are truthy even when empty.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return true
	}
}

// present reports whether key holds a value in doc. In strict mode any
// stored value counts, including falsy ones.
func (d *DB) present(doc map[string]any, key string) bool {
	v, ok := doc[key]
	if d.opts.StrictKeys {
		return ok
	}
	return ok && truthy(v)
}
