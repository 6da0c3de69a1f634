package docstore

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Document is the flat field map of one remote document.  Only primitive
// values and arrays of primitives appear; nested objects are not part of the
// mapping.
type Document map[string]Value

// Value is the typed value union used by the remote document store.  Exactly
// one field is set.  Integers travel as decimal strings on the wire.
type Value struct {
	StringValue    *string    `json:"stringValue,omitempty"`
	IntegerValue   *string    `json:"integerValue,omitempty"`
	DoubleValue    *float64   `json:"doubleValue,omitempty"`
	BooleanValue   *bool      `json:"booleanValue,omitempty"`
	TimestampValue *time.Time `json:"timestampValue,omitempty"`
	ArrayValue     *Array     `json:"arrayValue,omitempty"`
}

// Array wraps an array of primitive values.
type Array struct {
	Values []Value `json:"values,omitempty"`
}

var ErrWrongValueType = errors.New("document value has wrong type")

func String(s string) Value {
	return Value{StringValue: &s}
}

func Integer(i int64) Value {
	s := strconv.FormatInt(i, 10)
	return Value{IntegerValue: &s}
}

func Double(f float64) Value {
	return Value{DoubleValue: &f}
}

func Boolean(b bool) Value {
	return Value{BooleanValue: &b}
}

func Timestamp(t time.Time) Value {
	u := t.UTC()
	return Value{TimestampValue: &u}
}

func StringArray(ss []string) Value {
	arr := &Array{}
	for _, s := range ss {
		arr.Values = append(arr.Values, String(s))
	}
	return Value{ArrayValue: arr}
}

func (v Value) AsString(out *string) error {
	if v.StringValue == nil {
		return fmt.Errorf("%w: want stringValue", ErrWrongValueType)
	}
	*out = *v.StringValue
	return nil
}

func (v Value) AsInteger(out *int64) error {
	if v.IntegerValue == nil {
		return fmt.Errorf("%w: want integerValue", ErrWrongValueType)
	}
	i, err := strconv.ParseInt(*v.IntegerValue, 10, 64)
	if err != nil {
		return fmt.Errorf("while parsing integerValue %q: %w", *v.IntegerValue, err)
	}
	*out = i
	return nil
}

func (v Value) AsBoolean(out *bool) error {
	if v.BooleanValue == nil {
		return fmt.Errorf("%w: want booleanValue", ErrWrongValueType)
	}
	*out = *v.BooleanValue
	return nil
}

func (v Value) AsTimestamp(out *time.Time) error {
	if v.TimestampValue == nil {
		return fmt.Errorf("%w: want timestampValue", ErrWrongValueType)
	}
	*out = *v.TimestampValue
	return nil
}

func (v Value) AsStringArray(out *[]string) error {
	if v.ArrayValue == nil {
		return fmt.Errorf("%w: want arrayValue", ErrWrongValueType)
	}
	var ss []string
	for _, elem := range v.ArrayValue.Values {
		var s string
		if err := elem.AsString(&s); err != nil {
			return err
		}
		ss = append(ss, s)
	}
	*out = ss
	return nil
}
