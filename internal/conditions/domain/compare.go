package conditions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNe       Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpContains Operator = "contains"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains:
		return true
	default:
		return false
	}
}

// Literal is the comparison value of a test, kept as raw JSON so definitions
// survive a store round trip unchanged.
type Literal struct {
	raw json.RawMessage
}

// Number builds a numeric literal.
func Number(value float64) Literal {
	return Literal{raw: json.RawMessage(strconv.FormatFloat(value, 'f', -1, 64))}
}

// Text builds a string literal.
func Text(value string) Literal {
	raw, _ := json.Marshal(value)
	return Literal{raw: raw}
}

// IsZero reports whether the literal is unset or null.
func (l Literal) IsZero() bool {
	trimmed := bytes.TrimSpace(l.raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Float returns the numeric interpretation of the literal.
func (l Literal) Float() (float64, bool) {
	if l.IsZero() {
		return 0, false
	}
	var decoded any
	if err := json.Unmarshal(l.raw, &decoded); err != nil {
		return 0, false
	}
	return toNumber(decoded)
}

// String returns the textual form used for string comparison.
func (l Literal) String() string {
	if l.IsZero() {
		return ""
	}
	var decoded any
	if err := json.Unmarshal(l.raw, &decoded); err != nil {
		return string(l.raw)
	}
	return toText(decoded)
}

// MarshalJSON implements json.Marshaler.
func (l Literal) MarshalJSON() ([]byte, error) {
	if len(l.raw) == 0 {
		return []byte("null"), nil
	}
	return l.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Literal) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("conditions: invalid literal %q", data)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return err
	}
	l.raw = append(json.RawMessage(nil), compact.Bytes()...)
	return nil
}

// Compare applies op to an observed value and a literal.
// Comparison is numeric when both sides coerce to numbers. Otherwise == and !=
// compare the string forms and ordering operators are false. contains is a
// substring check on the string forms.
func Compare(actual any, op Operator, want Literal) bool {
	if actual == nil || want.IsZero() {
		return false
	}
	if op == OpContains {
		return strings.Contains(toText(actual), want.String())
	}

	a, aok := toNumber(actual)
	b, bok := want.Float()
	if !aok || !bok {
		switch op {
		case OpEq:
			return toText(actual) == want.String()
		case OpNe:
			return toText(actual) != want.String()
		default:
			return false
		}
	}

	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	default:
		return false
	}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func toText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
