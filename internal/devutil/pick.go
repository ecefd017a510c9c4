// Package devutil trims JSON-shaped values down to the keys an operator asked
// for on the command line.
package devutil

import (
	"encoding/json"
	"strings"
)

// pick pasa v a map[string]any vía JSON y deja solo las keys pedidas.
// Una key con puntos ("by_status.Completed") baja por objetos anidados y se
// devuelve con la misma key plana.
func pick(v any, keys ...string) map[string]any {
	var m map[string]any
	if !decode(v, &m) {
		return map[string]any{}
	}

	out := make(map[string]any, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if val, ok := lookup(m, strings.Split(k, ".")); ok {
			out[k] = val
		}
	}
	return out
}

// decode avoids a second marshal when v is already JSON.
func decode(v any, dst *map[string]any) bool {
	var b []byte
	switch raw := v.(type) {
	case json.RawMessage:
		b = raw
	case []byte:
		b = raw
	default:
		var err error
		if b, err = json.Marshal(v); err != nil {
			return false
		}
	}
	return json.Unmarshal(b, dst) == nil && *dst != nil
}

func lookup(m map[string]any, path []string) (any, bool) {
	val, ok := m[path[0]]
	if !ok || len(path) == 1 {
		return val, ok
	}
	next, isObj := val.(map[string]any)
	if !isObj {
		return nil, false
	}
	return lookup(next, path[1:])
}

// Pick keeps only keys from the JSON form of v. Values that do not encode to
// a JSON object yield an empty map.
func Pick(v any, keys ...string) map[string]any {
	return pick(v, keys...)
}
