package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func mustCanonicalize(t *testing.T, v any) []byte {
	t.Helper()
	b, err := Canonicalize(v)
	if err != nil {
		t.Fatalf("Canonicalize(%v) error: %v", v, err)
	}
	return b
}

func TestCanonicalize_KeyOrdering(t *testing.T) {
	a := mustCanonicalize(t, map[string]any{"b": 1, "a": 2})
	b := mustCanonicalize(t, map[string]any{"a": 2, "b": 1})
	if !bytes.Equal(a, b) {
		t.Errorf("key order changed output: %s vs %s", a, b)
	}
	if string(a) != `{"a":2,"b":1}` {
		t.Errorf("unexpected canonical form: %s", a)
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	inputs := []map[string]any{
		{"b": 1.5, "a": "héllo", "nested": map[string]any{"z": []any{1, 2, 3}, "y": nil}},
		{"score": 0.123456789, "count": 100, "ok": true},
		{"ts": "2025-06-01T10:30:00+02:00", "name": "café"},
	}

	for _, in := range inputs {
		first := mustCanonicalize(t, in)

		var decoded any
		dec := json.NewDecoder(bytes.NewReader(first))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			t.Fatalf("canonical output is not valid JSON: %v", err)
		}

		second := mustCanonicalize(t, decoded)
		if !bytes.Equal(first, second) {
			t.Errorf("not idempotent:\n first: %s\nsecond: %s", first, second)
		}
	}
}

func TestCanonicalize_StripsSignature(t *testing.T) {
	with := mustCanonicalize(t, map[string]any{"a": 1, "signature": map[string]any{"alg": "Ed25519", "sig": "abc"}})
	without := mustCanonicalize(t, map[string]any{"a": 1})
	if !bytes.Equal(with, without) {
		t.Errorf("signature field not stripped: %s vs %s", with, without)
	}
}

func TestCanonicalize_NestedSignatureKept(t *testing.T) {
	// Only the top-level signature field is stripped.
	got := mustCanonicalize(t, map[string]any{"inner": map[string]any{"signature": "keep"}})
	if string(got) != `{"inner":{"signature":"keep"}}` {
		t.Errorf("nested signature must survive: %s", got)
	}
}

func TestCanonicalize_Timestamps(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	tests := []struct {
		name string
		in   any
		want string
	}{
		{
			"time.Time converted to UTC Z",
			map[string]any{"ts": time.Date(2025, 6, 1, 12, 0, 0, 0, loc)},
			`{"ts":"2025-06-01T11:00:00Z"}`,
		},
		{
			"offset string normalized to UTC",
			map[string]any{"ts": "2025-06-01T12:00:00+01:00"},
			`{"ts":"2025-06-01T11:00:00Z"}`,
		},
		{
			"already UTC unchanged",
			map[string]any{"ts": "2025-06-01T11:00:00Z"},
			`{"ts":"2025-06-01T11:00:00Z"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustCanonicalize(t, tt.in)
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanonicalize_Numbers(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"integral without fraction", map[string]any{"n": 42.0}, `{"n":42}`},
		{"no trailing zeros", map[string]any{"n": json.Number("1.500")}, `{"n":1.5}`},
		{"shortest round-trip", map[string]any{"n": 0.1}, `{"n":0.1}`},
		{"negative", map[string]any{"n": -3.25}, `{"n":-3.25}`},
		{"zero", map[string]any{"n": 0.0}, `{"n":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustCanonicalize(t, tt.in)
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanonicalize_RejectsNaNAndInf(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := Canonicalize(map[string]any{"v": bad})
		var ce *Error
		if !errors.As(err, &ce) {
			t.Errorf("Canonicalize with %v: expected canonical.Error, got %v", bad, err)
		}
	}
}

func TestCanonicalize_UnicodeNFC(t *testing.T) {
	// "é" as combining sequence (e + U+0301) vs precomposed U+00E9.
	combining := mustCanonicalize(t, map[string]any{"s": "é"})
	precomposed := mustCanonicalize(t, map[string]any{"s": "é"})
	if !bytes.Equal(combining, precomposed) {
		t.Errorf("NFC normalization missing: %s vs %s", combining, precomposed)
	}
}

func TestCanonicalize_NoWhitespace(t *testing.T) {
	got := mustCanonicalize(t, map[string]any{"a": []any{1, 2}, "b": map[string]any{"c": "x y"}})
	for i, c := range got {
		if c == ' ' || c == '\n' || c == '\t' {
			// Whitespace allowed only inside string literals.
			if !insideString(got, i) {
				t.Fatalf("whitespace outside string literal at byte %d: %s", i, got)
			}
		}
	}
}

func insideString(b []byte, pos int) bool {
	in := false
	for i := 0; i < pos; i++ {
		if b[i] == '"' && (i == 0 || b[i-1] != '\\') {
			in = !in
		}
	}
	return in
}

func TestCanonicalize_StructInput(t *testing.T) {
	type payload struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}
	got := mustCanonicalize(t, payload{Name: "uniqueness", Value: 0.82})
	if string(got) != `{"name":"uniqueness","value":0.82}` {
		t.Errorf("unexpected struct canonical form: %s", got)
	}
}

func TestCanonicalize_InputMapUntouched(t *testing.T) {
	in := map[string]any{"a": 1, "signature": map[string]any{"alg": "Ed25519", "sig": "abc"}}
	mustCanonicalize(t, in)
	if _, ok := in["signature"]; !ok {
		t.Error("caller's map lost its signature key")
	}
	if len(in) != 2 {
		t.Errorf("caller's map has %d keys, want 2", len(in))
	}
}

func TestCanonicalize_HTMLCharactersLiteral(t *testing.T) {
	got := mustCanonicalize(t, map[string]any{"s": "a<b&c>d"})
	if string(got) != `{"s":"a<b&c>d"}` {
		t.Errorf("HTML-significant characters must stay literal: %s", got)
	}
	if bytes.Contains(got, []byte(`\u003c`)) || bytes.Contains(got, []byte(`\u0026`)) {
		t.Errorf("output carries HTML escapes: %s", got)
	}
}
