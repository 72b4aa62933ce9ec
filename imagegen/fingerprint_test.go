package imagegen

import (
	"errors"
	"math"
	"testing"
)

func TestFingerprint_Deterministic(t *testing.T) {
	a, err := Fingerprint("a red fox", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := Fingerprint("a red fox", nil, map[string]any{})
	if a != b {
		t.Errorf("nil and empty params should hash equally: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestFingerprint_ParamOrderIndependent(t *testing.T) {
	p1 := map[string]any{}
	p1["seed"] = 42
	p1["style"] = "watercolor"
	p1["hd"] = true

	p2 := map[string]any{}
	p2["hd"] = true
	p2["style"] = "watercolor"
	p2["seed"] = 42

	for i := 0; i < 20; i++ {
		a, _ := Fingerprint("prompt", []byte{1, 2, 3}, p1)
		b, _ := Fingerprint("prompt", []byte{1, 2, 3}, p2)
		if a != b {
			t.Fatalf("iteration %d: expected equal fingerprints, got %s and %s", i, a, b)
		}
	}
}

func TestFingerprint_Distinguishes(t *testing.T) {
	base, _ := Fingerprint("prompt", []byte("tpl"), map[string]any{"seed": 1})

	tests := []struct {
		name     string
		prompt   string
		template []byte
		params   map[string]any
	}{
		{"different prompt", "prompt2", []byte("tpl"), map[string]any{"seed": 1}},
		{"different template", "prompt", []byte("tpl2"), map[string]any{"seed": 1}},
		{"different param value", "prompt", []byte("tpl"), map[string]any{"seed": 2}},
		{"string vs number", "prompt", []byte("tpl"), map[string]any{"seed": "1"}},
		{"extra param", "prompt", []byte("tpl"), map[string]any{"seed": 1, "x": nil}},
		{"shifted boundary", "promptt", []byte("pl"), map[string]any{"seed": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Fingerprint(tt.prompt, tt.template, tt.params)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got == base {
				t.Errorf("expected fingerprint to differ from base")
			}
		})
	}
}

func TestFingerprint_IntegralFloatsMatchInts(t *testing.T) {
	a, _ := Fingerprint("p", nil, map[string]any{"seed": 42})
	b, _ := Fingerprint("p", nil, map[string]any{"seed": 42.0})
	c, _ := Fingerprint("p", nil, map[string]any{"seed": int64(42)})
	if a != b || a != c {
		t.Errorf("expected 42, 42.0 and int64(42) to match: %s %s %s", a, b, c)
	}
}

func TestFingerprint_UnsupportedParams(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"slice", []int{1}},
		{"map", map[string]any{"a": 1}},
		{"NaN", math.NaN()},
		{"Inf", math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fingerprint("p", nil, map[string]any{"v": tt.value})
			if !errors.Is(err, ErrUnsupportedParam) {
				t.Errorf("expected ErrUnsupportedParam, got %v", err)
			}
		})
	}
}
