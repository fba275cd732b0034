package envelope

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"dataproc/internal/domain/common"
)

const (
	KeyDeviceID = "device_id"
	KeyTime     = "time"

	// legacyKeyDeviceID is what older node firmware puts in the header.
	legacyKeyDeviceID = "s_uniqid"
)

var validate = validator.New()

// Header is the decoded envelope metadata.
type Header map[string]any

// Key is the storage key a header resolves to.
type Key struct {
	DeviceID string `validate:"required,max=255"`
	Time     int64  `validate:"gte=0"`
}

// DeviceID returns the originating device, or "" when absent.
func (h Header) DeviceID() string {
	for _, k := range []string{KeyDeviceID, legacyKeyDeviceID} {
		switch v := h[k].(type) {
		case string:
			return v
		case []byte:
			return string(v)
		}
	}
	return ""
}

// Time returns the header timestamp in Unix milliseconds. Numbers and
// integer strings are taken as-is, so producers must send milliseconds.
// RFC 3339 strings are converted to Unix milliseconds.
func (h Header) Time() (int64, error) {
	raw, ok := h[KeyTime]
	if !ok {
		return 0, fmt.Errorf("missing %q", KeyTime)
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("time %d overflows int64", v)
		}
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		return floatTime(v)
	case float32:
		return floatTime(float64(v))
	case string:
		return parseTimeString(v)
	case []byte:
		return parseTimeString(string(v))
	default:
		return 0, fmt.Errorf("time has unsupported type %T", raw)
	}
}

// Key resolves and validates the storage key.
func (h Header) Key() (Key, error) {
	ts, err := h.Time()
	if err != nil {
		return Key{}, common.NewFraming("header time", err)
	}
	k := Key{DeviceID: h.DeviceID(), Time: ts}
	if err := validate.Struct(k); err != nil {
		return Key{}, common.NewFraming("header key", err)
	}
	return k, nil
}

func floatTime(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("time %v out of range", f)
	}
	return int64(f), nil
}

func parseTimeString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("time %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}
