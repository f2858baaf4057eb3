package ccs

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the variants of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is a tagged variant for results parsed from interpreter output.
// The remote side prints Jython reprs, so the mapping back to a typed value
// is structural: a decimal point or exponent marker selects float over int,
// the literals True/False/None map to bool and null, a leading bracket
// selects a recursively parsed list, and anything else stays a string.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
}

func Null() Value                { return Value{kind: KindNull} }
func BoolValue(b bool) Value     { return Value{kind: KindBool, b: b} }
func IntValue(i int64) Value     { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func ListValue(vs []Value) Value { return Value{kind: KindList, list: vs} }

func (v Value) Kind() Kind { return v.kind }

// Int returns the integer value. A float value is truncated; ok reports
// whether the value was numeric.
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		return int64(v.f), true
	}
	return 0, false
}

// Float returns the value as a float64 for either numeric kind.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

func (v Value) Bool() (bool, bool) {
	if v.kind == KindBool {
		return v.b, true
	}
	return false, false
}

func (v Value) List() ([]Value, bool) {
	if v.kind == KindList {
		return v.list, true
	}
	return nil, false
}

// String renders the value the way the interpreter printed it.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "None"
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindList:
		items := make([]string, len(v.list))
		for i, item := range v.list {
			items[i] = item.String()
		}
		return "[" + strings.Join(items, ", ") + "]"
	}
	return v.s
}

// Interface converts to the natural Go representation, suitable for JSON
// persistence: nil, bool, int64, float64, string or []any.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindList:
		items := make([]any, len(v.list))
		for i, item := range v.list {
			items[i] = item.Interface()
		}
		return items
	}
	return v.s
}

// ParseValue parses interpreter output text into a Value. Trailing
// whitespace is stripped first; a bracketed payload is split on ", " and
// each token parsed recursively.
func ParseValue(text string) Value {
	data := strings.TrimRight(text, " \t\r\n")
	if strings.HasPrefix(data, "[") && strings.HasSuffix(data, "]") {
		tokens := strings.Split(data[1:len(data)-1], ", ")
		items := make([]Value, len(tokens))
		for i, tok := range tokens {
			items[i] = ParseValue(tok)
		}
		return ListValue(items)
	}
	return castToken(data)
}

// castToken applies the numeric sniffing rules: a decimal point or exponent
// marker selects float, otherwise int; on failure the literals True, False
// and None are recognized, and anything else passes through as a string.
func castToken(token string) Value {
	if strings.ContainsAny(token, ".eE") {
		if f, err := strconv.ParseFloat(token, 64); err == nil {
			return FloatValue(f)
		}
	} else if i, err := strconv.ParseInt(token, 10, 64); err == nil {
		return IntValue(i)
	}
	switch token {
	case "True":
		return BoolValue(true)
	case "False":
		return BoolValue(false)
	case "None":
		return Null()
	}
	return StringValue(token)
}
