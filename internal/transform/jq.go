package transform

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/itchyny/gojq"
)

// ApplyJqFilter runs a jq expression over the data with the single-result
// contract: exactly one emitted value returns that value, anything else
// returns nil.
func ApplyJqFilter(data interface{}, expression string) (interface{}, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("error applying jq filter: %w", err)
	}

	var results []interface{}
	iter := query.Run(JSONSafe(data))
	for {
		value, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := value.(error); isErr {
			return nil, fmt.Errorf("error applying jq filter: %w", err)
		}
		results = append(results, value)
	}

	if len(results) == 1 {
		return results[0], nil
	}
	return nil, nil
}

// JSONSafe recursively converts a value into plain JSON types. Anything that
// does not survive a json round-trip falls back to its string form, and a
// value that contains itself is cut off with a placeholder instead of
// recursing forever.
func JSONSafe(value interface{}) interface{} {
	return jsonSafe(value, make(map[uintptr]bool))
}

const circularPlaceholder = "<circular reference>"

func jsonSafe(value interface{}, seen map[uintptr]bool) interface{} {
	switch v := value.(type) {
	case nil, bool, string, float64:
		return v
	case int:
		return v
	case int64:
		return int(v)
	case float32:
		return float64(v)
	case map[string]interface{}:
		ptr := reflect.ValueOf(v).Pointer()
		if seen[ptr] {
			return circularPlaceholder
		}
		seen[ptr] = true
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = jsonSafe(item, seen)
		}
		delete(seen, ptr)
		return out
	case []interface{}:
		ptr := reflect.ValueOf(v).Pointer()
		if seen[ptr] {
			return circularPlaceholder
		}
		seen[ptr] = true
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = jsonSafe(item, seen)
		}
		delete(seen, ptr)
		return out
	default:
		// Round-trip through JSON to normalize structs and odd map types
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		var decoded interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			return fmt.Sprintf("%v", v)
		}
		return decoded
	}
}
