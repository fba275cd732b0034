package envelope

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"

	"dataproc/internal/domain/common"
)

func mustEncode(t *testing.T, h Header, body []byte) []byte {
	t.Helper()
	raw, err := EncodeEnvelope(h, body)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	return raw
}

func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		header Header
		body   []byte
	}{
		{
			name:   "minimal",
			header: Header{"device_id": "dev1", "time": int64(1000)},
			body:   []byte{0x2a},
		},
		{
			name: "extra scalars",
			header: Header{
				"device_id": "node-0000001e06107d97",
				"time":      "2024-05-01T12:00:00Z",
				"seq":       int64(-7),
				"ratio":     0.25,
				"ok":        true,
				"note":      nil,
			},
			body: []byte("opaque body bytes"),
		},
		{
			name:   "empty body",
			header: Header{"device_id": "dev1", "time": int64(0)},
			body:   []byte{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := mustEncode(t, tc.header, tc.body)

			h, body, err := DecodeEnvelope(raw)
			if err != nil {
				t.Fatalf("DecodeEnvelope: %v", err)
			}
			if !reflect.DeepEqual(h, tc.header) {
				t.Fatalf("header mismatch:\n got %#v\nwant %#v", h, tc.header)
			}
			if !bytes.Equal(body, tc.body) {
				t.Fatalf("body mismatch: got %x want %x", body, tc.body)
			}
		})
	}
}

func TestDecodeEnvelopeRejectsMalformed(t *testing.T) {
	valid := mustEncode(t, Header{"device_id": "dev1", "time": int64(1000)}, []byte{0x2a})

	notAMap := []byte{Magic, Version}
	notAMap = binary.AppendUvarint(notAMap, 1)
	notAMap = append(notAMap, 0x05) // msgpack fixint
	notAMap = binary.AppendUvarint(notAMap, 0)

	nested := mustEncode(t, Header{"device_id": "dev1", "time": int64(1), "tags": map[string]any{"a": "b"}}, nil)

	cases := []struct {
		name string
		raw  []byte
	}{
		{"nil", nil},
		{"one byte", []byte{Magic}},
		{"bad magic", append([]byte{'X'}, valid[1:]...)},
		{"bad version", append([]byte{Magic, 0x09}, valid[2:]...)},
		{"truncated header length", []byte{Magic, Version}},
		{"header longer than input", []byte{Magic, Version, 0x7f, 0x80}},
		{"missing body length", valid[:len(valid)-2]},
		{"truncated body", valid[:len(valid)-1]},
		{"trailing bytes", append(append([]byte{}, valid...), 0x00)},
		{"header not a map", notAMap},
		{"nested header value", nested},
		{"varint overflow", []byte{Magic, Version, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, body, err := DecodeEnvelope(tc.raw)
			if err == nil {
				t.Fatalf("expected error, got header=%v body=%x", h, body)
			}
			if !common.IsFraming(err) {
				t.Fatalf("expected FramingError, got %T: %v", err, err)
			}
			if h != nil || body != nil {
				t.Fatalf("expected no partial result, got header=%v body=%x", h, body)
			}
		})
	}
}

func TestDecodeEnvelopeHeaderTrailingBytes(t *testing.T) {
	raw := []byte{Magic, Version}
	// fixmap{} followed by a stray byte, both inside the declared header length
	raw = binary.AppendUvarint(raw, 2)
	raw = append(raw, 0x80, 0x01)
	raw = binary.AppendUvarint(raw, 0)

	if _, _, err := DecodeEnvelope(raw); !common.IsFraming(err) {
		t.Fatalf("expected FramingError, got %v", err)
	}
}

func TestHeaderAccessors(t *testing.T) {
	cases := []struct {
		name     string
		header   Header
		wantDev  string
		wantTime int64
		wantErr  bool
	}{
		{"numeric", Header{"device_id": "dev1", "time": int64(1000)}, "dev1", 1000, false},
		{"unsigned", Header{"device_id": "dev1", "time": uint64(1000)}, "dev1", 1000, false},
		{"float", Header{"device_id": "dev1", "time": 1500.9}, "dev1", 1500, false},
		{"integer string", Header{"device_id": "dev1", "time": "1000"}, "dev1", 1000, false},
		{"rfc3339", Header{"device_id": "dev1", "time": "1970-01-01T00:00:01.5Z"}, "dev1", 1500, false},
		{"legacy device key", Header{"s_uniqid": "0000001e06107d97", "time": int64(5)}, "0000001e06107d97", 5, false},
		{"missing time", Header{"device_id": "dev1"}, "dev1", 0, true},
		{"garbage time", Header{"device_id": "dev1", "time": "yesterday"}, "dev1", 0, true},
		{"bool time", Header{"device_id": "dev1", "time": true}, "dev1", 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.header.DeviceID(); got != tc.wantDev {
				t.Fatalf("DeviceID() = %q, want %q", got, tc.wantDev)
			}
			ts, err := tc.header.Time()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", ts)
				}
				return
			}
			if err != nil {
				t.Fatalf("Time(): %v", err)
			}
			if ts != tc.wantTime {
				t.Fatalf("Time() = %d, want %d", ts, tc.wantTime)
			}
		})
	}
}

func TestHeaderKey(t *testing.T) {
	k, err := Header{"device_id": "dev1", "time": int64(1000)}.Key()
	if err != nil {
		t.Fatalf("Key(): %v", err)
	}
	if k != (Key{DeviceID: "dev1", Time: 1000}) {
		t.Fatalf("Key() = %+v", k)
	}

	bad := []Header{
		{"time": int64(1000)},
		{"device_id": "", "time": int64(1000)},
		{"device_id": "dev1", "time": int64(-1)},
		{"device_id": "dev1"},
	}
	for _, h := range bad {
		if _, err := h.Key(); !common.IsFraming(err) {
			t.Fatalf("Key(%v): expected FramingError, got %v", h, err)
		}
	}
}
