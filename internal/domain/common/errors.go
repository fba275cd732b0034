package common

import (
	"errors"
	"fmt"
)

// Kind labels a processing failure for logs, metrics and dead letters.
type Kind string

const (
	KindNone               Kind = ""
	KindFraming            Kind = "framing"
	KindPayloadDecode      Kind = "payload_decode"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindStorageWrite       Kind = "storage_write"
	KindUnknown            Kind = "unknown"
)

// FramingError means the raw envelope did not match the wire layout.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope framing: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("envelope framing: %s", e.Reason)
}

func (e *FramingError) Unwrap() error { return e.Err }

func NewFraming(reason string, err error) error {
	return &FramingError{Reason: reason, Err: err}
}

func IsFraming(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// PayloadDecodeError means the envelope body is not valid serialized data.
type PayloadDecodeError struct {
	Err error
}

func (e *PayloadDecodeError) Error() string {
	return fmt.Sprintf("payload decode: %v", e.Err)
}

func (e *PayloadDecodeError) Unwrap() error { return e.Err }

func NewPayloadDecode(err error) error {
	return &PayloadDecodeError{Err: err}
}

func IsPayloadDecode(err error) bool {
	var pe *PayloadDecodeError
	return errors.As(err, &pe)
}

// StorageUnavailableError means no session to the store could be established.
type StorageUnavailableError struct {
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

func NewStorageUnavailable(err error) error {
	return &StorageUnavailableError{Err: err}
}

func IsStorageUnavailable(err error) bool {
	var se *StorageUnavailableError
	return errors.As(err, &se)
}

// StorageWriteError means the store was reached but rejected the insert.
type StorageWriteError struct {
	Table string
	Err   error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage write %s: %v", e.Table, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

func NewStorageWrite(table string, err error) error {
	return &StorageWriteError{Table: table, Err: err}
}

func IsStorageWrite(err error) bool {
	var we *StorageWriteError
	return errors.As(err, &we)
}

// KindOf classifies err. A nil error has KindNone.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case IsFraming(err):
		return KindFraming
	case IsPayloadDecode(err):
		return KindPayloadDecode
	case IsStorageUnavailable(err):
		return KindStorageUnavailable
	case IsStorageWrite(err):
		return KindStorageWrite
	default:
		return KindUnknown
	}
}
