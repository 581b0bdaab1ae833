// Package canonical produces the deterministic byte serialization used as
// the sole input to signing and verification.
//
// The rules: the top-level "signature" field is stripped, object keys are
// sorted byte-wise, numbers are rendered in the shortest form that
// round-trips as an IEEE-754 double, timestamps are UTC ISO 8601 with a
// literal Z suffix, strings are Unicode NFC, and no whitespace is emitted
// outside string literals. Canonicalization is pure and idempotent.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// SignatureField is stripped from the top level before serialization so a
// signature never signs over itself.
const SignatureField = "signature"

// Error reports a value with no defined canonical form.
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("canonical: %s at %s", e.Reason, e.Path)
}

// Canonicalize serializes v into its canonical byte form.
//
// v may be a generic JSON tree (map[string]any, []any, scalars, time.Time)
// or any struct serializable by encoding/json, which is first flattened into
// a generic tree. NaN and infinite floats are rejected, never coerced.
func Canonicalize(v any) ([]byte, error) {
	tree, err := toTree(v)
	if err != nil {
		return nil, err
	}

	// Strip the signature from a shallow copy; the caller's map is not ours
	// to mutate.
	if obj, ok := tree.(map[string]any); ok {
		if _, has := obj[SignatureField]; has {
			stripped := make(map[string]any, len(obj)-1)
			for k, val := range obj {
				if k != SignatureField {
					stripped[k] = val
				}
			}
			tree = stripped
		}
	}

	var buf bytes.Buffer
	if err := writeValue(&buf, tree, "$"); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toTree flattens arbitrary input into a generic JSON tree. Values already
// in tree form pass through; everything else goes through encoding/json so
// struct tags decide field names.
func toTree(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		json.Number, time.Time, map[string]any, []any:
		return v, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &Error{Path: "$", Reason: fmt.Sprintf("unsupported value: %v", err)}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, &Error{Path: "$", Reason: fmt.Sprintf("decode: %v", err)}
	}
	return tree, nil
}

func writeValue(buf *bytes.Buffer, v any, path string) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeString(buf, val)
	case time.Time:
		writeString(buf, FormatTimestamp(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return &Error{Path: path, Reason: fmt.Sprintf("bad number %q", val.String())}
		}
		return writeNumber(buf, f, path)
	case float64:
		return writeNumber(buf, val, path)
	case float32:
		return writeNumber(buf, float64(val), path)
	case int:
		return writeNumber(buf, float64(val), path)
	case int64:
		return writeNumber(buf, float64(val), path)
	case uint64:
		return writeNumber(buf, float64(val), path)
	case map[string]any:
		return writeObject(buf, val, path)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return &Error{Path: path, Reason: fmt.Sprintf("no canonical form for %T", v)}
	}
	return nil
}

func writeObject(buf *bytes.Buffer, obj map[string]any, path string) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// Byte-order sort on the UTF-8 key strings.
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		if err := writeValue(buf, obj[k], path+"."+k); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeNumber renders f in the shortest decimal form that round-trips
// exactly as an IEEE-754 double. Integral values within the exact-integer
// range of doubles render without a fraction or exponent.
func writeNumber(buf *bytes.Buffer, f float64, path string) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &Error{Path: path, Reason: "NaN/Infinity has no canonical form"}
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

// writeString emits a JSON string with the value normalized to NFC first.
// Timestamps that arrive as strings are normalized to UTC with a Z suffix.
func writeString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	if ts, ok := parseTimestamp(s); ok {
		s = FormatTimestamp(ts)
	}
	// encoding/json escapes <, > and & for HTML embedding; canonical form
	// keeps them literal.
	var raw bytes.Buffer
	enc := json.NewEncoder(&raw)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s) // encoding a plain string cannot fail
	buf.Write(bytes.TrimSuffix(raw.Bytes(), []byte("\n")))
}

// FormatTimestamp renders t as UTC ISO 8601 with a literal Z suffix.
// Sub-second precision is kept only when present, so re-parsing and
// re-formatting is stable.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp recognizes ISO 8601 string values so offset-carrying
// timestamps normalize to UTC. Anything else passes through untouched.
func parseTimestamp(s string) (time.Time, bool) {
	if len(s) < 20 || s[4] != '-' || s[10] != 'T' {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
