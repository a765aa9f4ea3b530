// Package controllers holds the controller definitions shipped with
// sheetbind. Register adds all of them to an application.
package controllers

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zjrosen/sheetbind/internal/controller"
)

// Registrar accepts controller definitions.
type Registrar interface {
	Register(ctx context.Context, name string, def controller.Definition) error
}

// Builtins returns the shipped definitions keyed by registration name.
func Builtins() map[string]controller.Definition {
	return map[string]controller.Definition{
		WorkbookName: Workbook(),
		InvoiceName:  Invoice(),
	}
}

// Register registers every built-in definition, in name order.
func Register(ctx context.Context, r Registrar) error {
	defs := Builtins()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := r.Register(ctx, name, defs[name]); err != nil {
			return err
		}
	}
	return nil
}

// number converts a cached value or event payload to a float.
// Absent values count as zero.
func number(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		if strings.TrimSpace(x) == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a number: %v (%T)", v, v)
	}
}
