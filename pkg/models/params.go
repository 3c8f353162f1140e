package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// TypedParams is a structured, string-keyed parameter bundle used for tool
// input, audit metadata, and LLM context. Values are restricted to string,
// float64, bool, []any, or map[string]any so the bundle round-trips through
// JSON without surprises.
type TypedParams map[string]any

// ParseTypedParams decodes raw JSON into a TypedParams bundle, rejecting
// values outside the allowed shapes.
func ParseTypedParams(raw json.RawMessage) (TypedParams, error) {
	if len(raw) == 0 {
		return TypedParams{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("params: invalid JSON: %w", err)
	}
	for k, v := range m {
		if err := checkParamValue(k, v); err != nil {
			return nil, err
		}
	}
	return TypedParams(m), nil
}

func checkParamValue(key string, v any) error {
	switch val := v.(type) {
	case nil, string, float64, bool:
		return nil
	case []any:
		for _, item := range val {
			if err := checkParamValue(key, item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for k, item := range val {
			if err := checkParamValue(key+"."+k, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("params: key %q has unsupported type %T", key, v)
	}
}

// String returns the string value for key, if present and a string.
func (p TypedParams) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// Strings returns every string-typed value in the bundle, including
// strings nested inside lists and objects. Used by security scanners.
func (p TypedParams) Strings() []string {
	var out []string
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = collectStrings(p[k], out)
	}
	return out
}

func collectStrings(v any, acc []string) []string {
	switch val := v.(type) {
	case string:
		return append(acc, val)
	case []any:
		for _, item := range val {
			acc = collectStrings(item, acc)
		}
		return acc
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			acc = collectStrings(val[k], acc)
		}
		return acc
	default:
		return acc
	}
}

// JSON encodes the bundle for wire transport or hashing.
func (p TypedParams) JSON() json.RawMessage {
	if p == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(map[string]any(p))
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
