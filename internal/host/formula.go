package host

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeScalar converts v to the representation named items hold:
// every numeric type becomes float64, nil becomes the empty string, and
// strings and booleans pass through. Anything else is ErrInvalidScalar.
func NormalizeScalar(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string, bool, float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidScalar, v)
	}
}

// FormulaFor returns the formula that evaluates to the literal v.
func FormulaFor(v any) (string, error) {
	n, err := NormalizeScalar(v)
	if err != nil {
		return "", err
	}
	switch x := n.(type) {
	case float64:
		return "=" + strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		if x {
			return "=TRUE", nil
		}
		return "=FALSE", nil
	default:
		s, _ := x.(string)
		return `="` + strings.ReplaceAll(s, `"`, `""`) + `"`, nil
	}
}

// Evaluate returns the scalar a formula evaluates to. Literal strings,
// numbers and booleans are decoded; any other formula (a reference such as
// `=Sheet1!$A$1` or `=InvoiceTable`) evaluates to its reference text.
func Evaluate(formula string) any {
	f := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(formula), "="))
	if len(f) >= 2 && strings.HasPrefix(f, `"`) && strings.HasSuffix(f, `"`) {
		return strings.ReplaceAll(f[1:len(f)-1], `""`, `"`)
	}
	switch strings.ToUpper(f) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	if n, err := strconv.ParseFloat(f, 64); err == nil {
		return n
	}
	return f
}

// Reference returns the reference text of a non-literal formula and whether
// the formula is a reference at all.
func Reference(formula string) (string, bool) {
	f := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(formula), "="))
	if f == "" {
		return "", false
	}
	switch v := Evaluate(formula).(type) {
	case string:
		if v == f && !strings.HasPrefix(f, `"`) {
			return f, true
		}
	}
	return "", false
}

// FormatValue renders an evaluated value the way a cell would display it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(v)
	}
}
