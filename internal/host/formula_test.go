package host

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFormulaFor_Literals(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"int", 42, "=42"},
		{"float", 1.5, "=1.5"},
		{"negative", -3, "=-3"},
		{"true", true, "=TRUE"},
		{"false", false, "=FALSE"},
		{"string", "Invoice", `="Invoice"`},
		{"quoted string", `say "hi"`, `="say ""hi"""`},
		{"nil", nil, `=""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormulaFor(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFormulaFor_RejectsNonScalars(t *testing.T) {
	_, err := FormulaFor([]int{1})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidScalar))

	_, err = FormulaFor(map[string]any{})
	require.ErrorIs(t, err, ErrInvalidScalar)
}

func TestEvaluate(t *testing.T) {
	require.Equal(t, "Invoice", Evaluate(`="Invoice"`))
	require.Equal(t, float64(42), Evaluate("=42"))
	require.Equal(t, true, Evaluate("=true"))
	require.Equal(t, "Sheet1!$A$1:$C$3", Evaluate("=Sheet1!$A$1:$C$3"))
	require.Equal(t, "InvoiceTable", Evaluate("InvoiceTable"))
}

func TestReference(t *testing.T) {
	ref, ok := Reference("=Sheet1!$A$1")
	require.True(t, ok)
	require.Equal(t, "Sheet1!$A$1", ref)

	ref, ok = Reference("=InvoiceTable")
	require.True(t, ok)
	require.Equal(t, "InvoiceTable", ref)

	_, ok = Reference(`="Invoice"`)
	require.False(t, ok)
	_, ok = Reference("=12")
	require.False(t, ok)
	_, ok = Reference("")
	require.False(t, ok)
}

func TestNormalizeScalar_Numerics(t *testing.T) {
	for _, v := range []any{int8(7), int16(7), int32(7), int64(7), uint(7), uint8(7), uint16(7), uint32(7), uint64(7), float32(7)} {
		got, err := NormalizeScalar(v)
		require.NoError(t, err)
		require.Equal(t, float64(7), got)
	}
}

func TestFormula_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var v any
		switch rapid.IntRange(0, 2).Draw(t, "kind") {
		case 0:
			v = rapid.String().Draw(t, "string")
		case 1:
			v = rapid.Bool().Draw(t, "bool")
		default:
			f := rapid.Float64().Draw(t, "float")
			if math.IsNaN(f) || math.IsInf(f, 0) {
				f = 0
			}
			v = f
		}

		formula, err := FormulaFor(v)
		if err != nil {
			t.Fatalf("FormulaFor(%v): %v", v, err)
		}
		if got := Evaluate(formula); got != v {
			t.Fatalf("round trip of %#v through %q gave %#v", v, formula, got)
		}
	})
}

func TestScope_Key(t *testing.T) {
	require.Equal(t, "workbook", Workbook().Key())
	require.Equal(t, "worksheet:Sheet1", Worksheet("Sheet1").Key())
	require.NotEqual(t, Worksheet("a").Key(), Worksheet("b").Key())
	require.Equal(t, WorksheetSource("Sheet1"), SourceFor(Worksheet("Sheet1")))
	require.Equal(t, WorkbookSource(), SourceFor(Workbook()))
}

func TestRequestError_Unwraps(t *testing.T) {
	err := error(&RequestError{Index: 2, Op: OpDeleteName, Err: ErrNotFound})
	require.ErrorIs(t, err, ErrNotFound)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	require.Equal(t, 2, reqErr.Index)
	require.Contains(t, err.Error(), "delete-name")
}

func TestFormatValue(t *testing.T) {
	require.Equal(t, "", FormatValue(nil))
	require.Equal(t, "Invoice", FormatValue("Invoice"))
	require.Equal(t, "42.5", FormatValue(42.5))
	require.Equal(t, "TRUE", FormatValue(true))
	require.Equal(t, "[1]", FormatValue([]int{1}))
}
