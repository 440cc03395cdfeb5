package edgedoc

import "github.com/flagmesh/flagmesh/internal/domain"

// Typed values travel as their raw scalar form (string/number/bool/null);
// the union kind is recovered on read. Integral float64s, the shape JSON
// and document deserializers produce for numbers, narrow back to int64.

func encodeValue(v domain.Value) any {
	return v.Raw()
}

func decodeValue(field string, raw any) (domain.Value, error) {
	v, err := domain.ValueFromAny(raw)
	if err != nil {
		return domain.Value{}, mappingErrorf(field, "%v", err)
	}
	return v, nil
}

// item readers. Every accessor tolerates absence; required fields are
// enforced by the per-document parse functions.

func getString(item map[string]any, key string) (string, bool) {
	s, ok := item[key].(string)
	return s, ok
}

func getBool(item map[string]any, key string) (bool, bool) {
	b, ok := item[key].(bool)
	return b, ok
}

func getInt(item map[string]any, key string) (int64, bool) {
	switch n := item[key].(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func getFloat(item map[string]any, key string) (float64, bool) {
	switch n := item[key].(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func getList(item map[string]any, key string) []any {
	l, _ := item[key].([]any)
	return l
}

func getMap(item map[string]any, key string) (map[string]any, bool) {
	m, ok := item[key].(map[string]any)
	return m, ok
}

// unknownFields collects every key not consumed by a parser so the bucket
// can be merged back verbatim on encode. Returns nil when nothing is left,
// keeping parsed documents comparable to freshly mapped ones.
func unknownFields(item map[string]any, known ...string) map[string]any {
	var out map[string]any
	for k, v := range item {
		if !contains(known, k) {
			if out == nil {
				out = make(map[string]any)
			}
			out[k] = v
		}
	}
	return out
}

func contains(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

// mergeUnknown lays the opaque bucket under the known fields; known keys
// always win on collision.
func mergeUnknown(item, unknown map[string]any) map[string]any {
	if len(unknown) == 0 {
		return item
	}
	out := make(map[string]any, len(item)+len(unknown))
	for k, v := range unknown {
		out[k] = v
	}
	for k, v := range item {
		out[k] = v
	}
	return out
}
