package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"

	"dataproc/internal/domain/common"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Record is the decoded business payload. The worker never interprets it.
type Record struct {
	Value any
}

// DecodeBody deserializes an envelope body. Gzip-compressed bodies are
// inflated first.
func DecodeBody(body []byte) (Record, error) {
	if len(body) == 0 {
		return Record{}, common.NewPayloadDecode(errors.New("empty body"))
	}

	if bytes.HasPrefix(body, gzipMagic) {
		inflated, err := gunzip(body)
		if err != nil {
			return Record{}, common.NewPayloadDecode(err)
		}
		body = inflated
	}

	r := bytes.NewReader(body)
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)

	var v any
	if err := dec.Decode(&v); err != nil {
		return Record{}, common.NewPayloadDecode(err)
	}
	if r.Len() != 0 {
		return Record{}, common.NewPayloadDecode(fmt.Errorf("%d trailing bytes", r.Len()))
	}
	return Record{Value: v}, nil
}

// EncodeBody serializes v as an envelope body.
func EncodeBody(v any, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if !compress {
		return buf.Bytes(), nil
	}

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	return gz.Bytes(), nil
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if len(out) > MaxBodySize {
		return nil, fmt.Errorf("gzip: inflated body exceeds %d bytes", MaxBodySize)
	}
	return out, nil
}

// String renders the record as stored text. Strings are kept verbatim when
// they are valid UTF-8 without NUL and Go-quoted otherwise. Binary values
// are base64 encoded. Everything else is JSON with sorted keys.
func (r Record) String() string {
	switch v := r.Value.(type) {
	case string:
		if textSafe(v) {
			return v
		}
		return strconv.Quote(v)
	case []byte:
		return base64.StdEncoding.EncodeToString(v)
	}
	b, err := json.Marshal(normalize(r.Value))
	if err != nil {
		return strconv.Quote(fmt.Sprint(r.Value))
	}
	return string(b)
}

// textSafe reports whether s can go into a TEXT column unchanged.
func textSafe(s string) bool {
	return utf8.ValidString(s) && !strings.ContainsRune(s, 0)
}

// normalize rewrites maps with non-string keys so encoding/json accepts them.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case string:
		// encoding/json would replace invalid UTF-8 with U+FFFD
		if !utf8.ValidString(t) {
			return strconv.Quote(t)
		}
		return t
	default:
		return v
	}
}
