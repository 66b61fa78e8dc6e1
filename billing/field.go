package billing

import (
	"bytes"
	"encoding/json"
)

type fieldState uint8

const (
	fieldAbsent fieldState = iota
	fieldNull
	fieldSet
)

// Field distinguishes a value that was not supplied (Absent), one supplied
// as empty (Null) and one supplied with content (Set). The zero Field is
// Absent, so a struct decoded from JSON without the key keeps it Absent.
type Field[T any] struct {
	state fieldState
	value T
}

// Absent returns a Field that was not supplied.
func Absent[T any]() Field[T] { return Field[T]{} }

// Null returns a Field that was supplied without content.
func Null[T any]() Field[T] { return Field[T]{state: fieldNull} }

// Set returns a Field carrying v.
func Set[T any](v T) Field[T] { return Field[T]{state: fieldSet, value: v} }

// IsAbsent reports whether the field was not supplied at all.
func (f Field[T]) IsAbsent() bool { return f.state == fieldAbsent }

// IsNull reports whether the field was supplied as empty.
func (f Field[T]) IsNull() bool { return f.state == fieldNull }

// IsZero lets encoding/json drop Absent fields tagged omitzero.
func (f Field[T]) IsZero() bool { return f.state == fieldAbsent }

// Get returns the value and whether one was set.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.state == fieldSet
}

// MarshalJSON encodes Null as null and Set as the value.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != fieldSet {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// UnmarshalJSON is only invoked when the key is present. null and false both
// decode as Null.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("false")) {
		*f = Null[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	*f = Set(v)
	return nil
}
