// Package envelope implements the sensor-data wire envelope.
//
// Layout, version 1:
//
//	+-------+---------+-----------------+----------------+---------------+------+
//	| 'W'   | 0x01    | uvarint hdr_len | header msgpack | uvarint b_len | body |
//	+-------+---------+-----------------+----------------+---------------+------+
//
// The header is a msgpack map of string keys to scalar values and must carry
// at least "device_id" (or the legacy "s_uniqid") and "time". The body is an
// opaque msgpack value, optionally gzip compressed. Every byte of the input
// must be accounted for; anything left over is a framing error.
//
// "time" is Unix milliseconds. Producers send it as an integer or an
// integer string, which is stored as sent with no unit conversion. An
// RFC 3339 string is also accepted and converted to Unix milliseconds.
// Floats are truncated toward zero.
//
// The body is stored as text. A string is stored verbatim unless it holds
// NUL or invalid UTF-8, in which case it is Go-quoted. Binary (msgpack bin)
// is stored as standard base64. Any other value is stored as JSON with
// sorted keys.
package envelope

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"dataproc/internal/domain/common"
)

const (
	Magic   byte = 'W'
	Version byte = 0x01

	MaxHeaderSize = 64 << 10
	MaxBodySize   = 16 << 20
)

// DecodeEnvelope splits raw into its header and body. On failure the returned
// header is always nil.
func DecodeEnvelope(raw []byte) (Header, []byte, error) {
	if len(raw) < 2 {
		return nil, nil, common.NewFraming("short preamble", nil)
	}
	if raw[0] != Magic {
		return nil, nil, common.NewFraming(fmt.Sprintf("bad magic 0x%02x", raw[0]), nil)
	}
	if raw[1] != Version {
		return nil, nil, common.NewFraming(fmt.Sprintf("unsupported version %d", raw[1]), nil)
	}
	rest := raw[2:]

	hdrBytes, rest, err := readSection(rest, "header", MaxHeaderSize)
	if err != nil {
		return nil, nil, err
	}
	body, rest, err := readSection(rest, "body", MaxBodySize)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) != 0 {
		return nil, nil, common.NewFraming(fmt.Sprintf("%d trailing bytes", len(rest)), nil)
	}

	h, err := decodeHeader(hdrBytes)
	if err != nil {
		return nil, nil, err
	}
	return h, body, nil
}

// EncodeEnvelope is the producer-side inverse of DecodeEnvelope.
func EncodeEnvelope(h Header, body []byte) ([]byte, error) {
	var hb bytes.Buffer
	enc := msgpack.NewEncoder(&hb)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(map[string]any(h)); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if hb.Len() > MaxHeaderSize {
		return nil, fmt.Errorf("header too large: %d bytes", hb.Len())
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("body too large: %d bytes", len(body))
	}

	out := make([]byte, 0, 2+2*binary.MaxVarintLen64+hb.Len()+len(body))
	out = append(out, Magic, Version)
	out = binary.AppendUvarint(out, uint64(hb.Len()))
	out = append(out, hb.Bytes()...)
	out = binary.AppendUvarint(out, uint64(len(body)))
	out = append(out, body...)
	return out, nil
}

func readSection(b []byte, name string, limit int) (section, rest []byte, err error) {
	n, w := binary.Uvarint(b)
	switch {
	case w == 0:
		return nil, nil, common.NewFraming(name+" length truncated", nil)
	case w < 0:
		return nil, nil, common.NewFraming(name+" length overflows", nil)
	}
	b = b[w:]
	if n > uint64(limit) {
		return nil, nil, common.NewFraming(fmt.Sprintf("%s length %d exceeds %d", name, n, limit), nil)
	}
	if n > uint64(len(b)) {
		return nil, nil, common.NewFraming(fmt.Sprintf("%s length %d exceeds remaining %d", name, n, len(b)), nil)
	}
	return b[:n], b[n:], nil
}

func decodeHeader(b []byte) (Header, error) {
	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, common.NewFraming("header is not a msgpack map", err)
	}
	if r.Len() != 0 {
		return nil, common.NewFraming(fmt.Sprintf("header has %d unread bytes", r.Len()), nil)
	}
	if m == nil {
		return nil, common.NewFraming("header is nil", nil)
	}
	for k, v := range m {
		if !isScalar(v) {
			return nil, common.NewFraming(fmt.Sprintf("header field %q is not a scalar (%T)", k, v), nil)
		}
	}
	return Header(m), nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, []byte,
		int64, uint64, float64, float32,
		int, int8, int16, int32, uint, uint8, uint16, uint32:
		return true
	default:
		return false
	}
}
