package common

import (
	"errors"
	"fmt"
)

// StoreErrType ...
type StoreErrType uint32

const (
	// KeyNotFound ...
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists ...
	KeyAlreadyExists
	// SkippedIndex is returned when an event would leave a gap in its origin
	// stream.
	SkippedIndex
	// UnknownNode ...
	UnknownNode
	// CorruptLog is returned when a persisted record cannot be parsed.
	CorruptLog
)

// StoreErr ...
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case SkippedIndex:
		m = "Skipped Index"
	case UnknownNode:
		m = "Unknown Node"
	case CorruptLog:
		m = "Corrupt Log"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is, or wraps, a StoreErr and that its code
// matches the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	var storeErr StoreErr
	return errors.As(err, &storeErr) && storeErr.errType == t
}
