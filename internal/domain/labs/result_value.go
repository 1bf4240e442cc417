package labs

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ValueKind string

const (
	ValueNull   ValueKind = "null"
	ValueString ValueKind = "string"
	ValueNumber ValueKind = "number"
)

// ResultValue is a lab measurement that is either text ("Positive", "N/A",
// "127") or a number (127). Text holds the value exactly as reported; numbers
// keep their original literal so 5.10 stays 5.10.
type ResultValue struct {
	Kind ValueKind
	Text string
}

func StringValue(s string) ResultValue { return ResultValue{Kind: ValueString, Text: s} }

func NumberValue(literal string) ResultValue {
	return ResultValue{Kind: ValueNumber, Text: literal}
}

func (v ResultValue) IsNull() bool { return v.Kind == "" || v.Kind == ValueNull }

func (v ResultValue) String() string {
	if v.IsNull() {
		return ""
	}
	return v.Text
}

// Float returns the numeric value. Text values are not coerced.
func (v ResultValue) Float() (float64, bool) {
	if v.Kind != ValueNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.Text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (v ResultValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueString:
		return json.Marshal(v.Text)
	case ValueNumber:
		return []byte(v.Text), nil
	default:
		return []byte("null"), nil
	}
}

func (v *ResultValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*v = ResultValue{Kind: ValueNull}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case bytes.Equal(data, []byte("true")) || bytes.Equal(data, []byte("false")):
		*v = StringValue(string(data))
	case data[0] == '{' || data[0] == '[':
		return fmt.Errorf("result value must be a string or number, got %s", kindOfJSON(data[0]))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("result value: %w", err)
		}
		*v = NumberValue(n.String())
	}
	return nil
}

// Value stores the JSON encoding so the string/number distinction survives a
// round trip through a text column.
func (v ResultValue) Value() (driver.Value, error) {
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (v *ResultValue) Scan(src any) error {
	switch x := src.(type) {
	case nil:
		*v = ResultValue{Kind: ValueNull}
		return nil
	case []byte:
		return v.UnmarshalJSON(x)
	case string:
		return v.UnmarshalJSON([]byte(x))
	default:
		return fmt.Errorf("result value: unsupported scan type %T", src)
	}
}

func (ResultValue) GormDataType() string { return "text" }

func kindOfJSON(b byte) string {
	if b == '{' {
		return "object"
	}
	return "array"
}

// ContainsFold reports whether the text form contains sub, ignoring case.
func (v ResultValue) ContainsFold(sub string) bool {
	return strings.Contains(strings.ToLower(v.Text), strings.ToLower(sub))
}
