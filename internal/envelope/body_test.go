package envelope

import (
	"strings"
	"testing"
	"unicode/utf8"

	"dataproc/internal/domain/common"
)

func TestDecodeBody(t *testing.T) {
	cases := []struct {
		name     string
		value    any
		compress bool
		want     string
	}{
		{"int", int64(42), false, "42"},
		{"small int compressed", 42, true, "42"},
		{"float", 21.5, false, "21.5"},
		{"string", "temperature=21.5", false, "temperature=21.5"},
		{"bool", true, false, "true"},
		{"nil", nil, false, "null"},
		{"list", []any{int64(1), "two", 3.5}, false, `[1,"two",3.5]`},
		{
			"nested map",
			map[string]any{"temp": 21.5, "rh": int64(40), "meta": map[string]any{"unit": "C"}},
			true,
			`{"meta":{"unit":"C"},"rh":40,"temp":21.5}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, err := EncodeBody(tc.value, tc.compress)
			if err != nil {
				t.Fatalf("EncodeBody: %v", err)
			}
			rec, err := DecodeBody(body)
			if err != nil {
				t.Fatalf("DecodeBody: %v", err)
			}
			if got := rec.String(); got != tc.want {
				t.Fatalf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeBodyRejectsGarbage(t *testing.T) {
	valid, err := EncodeBody(int64(42), false)
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}

	cases := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"reserved code", []byte{0xc1}},
		{"truncated str", []byte{0xa5, 'a', 'b'}},
		{"trailing bytes", append(append([]byte{}, valid...), 0x01)},
		{"broken gzip", []byte{0x1f, 0x8b, 0x00, 0x00}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeBody(tc.body)
			if !common.IsPayloadDecode(err) {
				t.Fatalf("expected PayloadDecodeError, got %v", err)
			}
		})
	}
}

func TestRecordStringNormalizesKeys(t *testing.T) {
	rec := Record{Value: map[any]any{int64(1): "a", "b": []byte("raw")}}
	if got, want := rec.String(), `{"1":"a","b":"cmF3"}`; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestRecordStringIsStorableText(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  string
	}{
		{"binary", []byte{0xff, 0x00}, "/wA="},
		{"binary with nul", []byte{0xff, 0xfe, 0x00, 0x01}, "//4AAQ=="},
		{"string with nul", "a\x00b", `"a\x00b"`},
		{"invalid utf8 string", "a\xffb", `"a\xffb"`},
		{"nested binary", map[string]any{"raw": []byte{0xff, 0x00}}, `{"raw":"/wA="}`},
		{"nested invalid string", []any{"ok\xff"}, `["\"ok\\xff\""]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, err := EncodeBody(tc.value, false)
			if err != nil {
				t.Fatalf("EncodeBody: %v", err)
			}
			rec, err := DecodeBody(body)
			if err != nil {
				t.Fatalf("DecodeBody: %v", err)
			}
			got := rec.String()
			if !utf8.ValidString(got) || strings.ContainsRune(got, 0) {
				t.Fatalf("String() = %q is not storable text", got)
			}
			if got != tc.want {
				t.Fatalf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}
