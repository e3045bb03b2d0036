package schema

import (
	"encoding/json"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Kind
	}{
		{"nil", nil, KindNull},
		{"string", "x", KindString},
		{"int", 7, KindNumber},
		{"uint16", uint16(443), KindNumber},
		{"float32", float32(1.5), KindNumber},
		{"json number", json.Number("429"), KindNumber},
		{"bool", true, KindBool},
		{"string slice", []string{"a", "b"}, KindArray},
		{"int slice", []int{1, 2}, KindArray},
		{"string map", map[string]string{"a": "b"}, KindObject},
		{"nested map", map[string]any{"a": map[string]int{"b": 1}}, KindObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValueOf(tt.in).Kind(); got != tt.want {
				t.Errorf("ValueOf(%v).Kind() = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_DeepCopy(t *testing.T) {
	inner := map[string]any{"port": 443}
	src := map[string]any{"target": inner, "list": []any{"a"}}

	out := Normalize(src).(map[string]any)
	inner["port"] = 80
	src["list"].([]any)[0] = "b"

	if got := out["target"].(map[string]any)["port"]; got != float64(443) {
		t.Errorf("normalized port = %v, want 443", got)
	}
	if got := out["list"].([]any)[0]; got != "a" {
		t.Errorf("normalized list[0] = %v, want a", got)
	}
}

func TestValue_Truthy(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{"null", nil, false},
		{"false", false, false},
		{"true", true, true},
		{"zero", 0, false},
		{"number", 3, true},
		{"empty string", "", false},
		{"string", "x", true},
		{"empty array", []any{}, false},
		{"array", []any{1}, true},
		{"empty object", map[string]any{}, false},
		{"object", map[string]any{"a": 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValueOf(tt.in).Truthy(); got != tt.want {
				t.Errorf("Truthy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValue_Path(t *testing.T) {
	v := ValueOf(map[string]any{
		"userIdentity": map[string]any{
			"type": "Root",
			"sessionContext": map[string]any{
				"attributes": map[string]any{"mfaAuthenticated": "false"},
			},
		},
		"resources": []any{
			map[string]any{"ARN": "arn:aws:s3:::bucket"},
		},
	})

	tests := []struct {
		name string
		path []string
		want string
	}{
		{"one level", []string{"userIdentity", "type"}, "Root"},
		{"nested", []string{"userIdentity", "sessionContext", "attributes", "mfaAuthenticated"}, "false"},
		{"array index", []string{"resources", "0", "ARN"}, "arn:aws:s3:::bucket"},
		{"missing", []string{"userIdentity", "arn"}, "null"},
		{"through scalar", []string{"userIdentity", "type", "x"}, "null"},
		{"bad index", []string{"resources", "x"}, "null"},
		{"out of range", []string{"resources", "4"}, "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Path(tt.path...).String(); got != tt.want {
				t.Errorf("Path(%v) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestValue_In(t *testing.T) {
	code := ValueOf(json.Number("403"))

	if !code.In(429, 400, 403) {
		t.Error("In() = false, want true for 403")
	}
	if code.In(500, "403") {
		t.Error("In() = true, want false for mismatched types")
	}
	if Null.In("x") {
		t.Error("Null.In() = true, want false")
	}
}

func TestValue_String(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, "null"},
		{"string", "abc", "abc"},
		{"whole number", 8080, "8080"},
		{"fraction", 7.5, "7.5"},
		{"bool", false, "false"},
		{"array", []any{"a", 1}, `["a",1]`},
		{"object", map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValueOf(tt.in).String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValue_Accessors(t *testing.T) {
	v := ValueOf(map[string]any{"n": 2.5, "i": 4, "s": "x", "b": true, "tags": []any{"a", 1, "b"}})

	if n, ok := v.Get("n").Number(); !ok || n != 2.5 {
		t.Errorf("Number() = %v, %v, want 2.5, true", n, ok)
	}
	if _, ok := v.Get("n").Int(); ok {
		t.Error("Int() ok = true for fractional number")
	}
	if i, ok := v.Get("i").Int(); !ok || i != 4 {
		t.Errorf("Int() = %v, %v, want 4, true", i, ok)
	}
	if b, ok := v.Get("b").Bool(); !ok || !b {
		t.Errorf("Bool() = %v, %v, want true, true", b, ok)
	}
	if got := v.Get("missing").StrOr("def"); got != "def" {
		t.Errorf("StrOr() = %q, want def", got)
	}
	if got := v.Get("tags").Strings(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Strings() = %v, want [a b]", got)
	}
	if got := v.Keys(); len(got) != 5 || got[0] != "b" {
		t.Errorf("Keys() = %v, want sorted keys", got)
	}
}
