package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/zjrosen/sheetbind/internal/batch"
	"github.com/zjrosen/sheetbind/internal/host"
)

var (
	namesSheet   string
	namesComment string
	namesFormula bool
)

var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "Inspect and edit the workbook's named markers",
}

var namesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List named items",
	Long: `List named items of the workbook and every worksheet, or of one
worksheet with --sheet.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBatcher(cmd.Context(), func(ctx context.Context, b *batch.Batcher) error {
			items, err := listNames(ctx, b, namesSheet)
			if err != nil {
				return err
			}
			return writeNames(cmd.OutOrStdout(), items)
		})
	},
}

var namesSetCmd = &cobra.Command{
	Use:   "set NAME VALUE",
	Short: "Create or replace a named item",
	Long: `Create or replace a named item.

VALUE is a literal: numbers and TRUE/FALSE keep their type, anything else
is stored as text. With --formula VALUE is stored as the formula itself.
A replaced item keeps its comment unless --comment is given.

Examples:
  sheetbind names set controller Invoice --sheet Invoice
  sheetbind names set controller__inv1 =InvoiceTable --formula --comment Invoice
  sheetbind names set value__total 250 --sheet Invoice`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		formula := args[1]
		if !namesFormula {
			f, err := host.FormulaFor(parseLiteral(args[1]))
			if err != nil {
				return err
			}
			formula = f
		} else if !strings.HasPrefix(formula, "=") {
			formula = "=" + formula
		}

		var comment *string
		if cmd.Flags().Changed("comment") {
			comment = &namesComment
		}
		return withBatcher(cmd.Context(), func(ctx context.Context, b *batch.Batcher) error {
			return setName(ctx, b, scopeFor(namesSheet), args[0], formula, comment)
		})
	},
}

var namesDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a named item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBatcher(cmd.Context(), func(ctx context.Context, b *batch.Batcher) error {
			return b.Run(ctx, func(_ context.Context, bt *batch.Batch) error {
				bt.Names(scopeFor(namesSheet)).Delete(args[0])
				return nil
			})
		})
	},
}

func init() {
	namesCmd.PersistentFlags().StringVarP(&namesSheet, "sheet", "s", "", "worksheet scope (default: workbook)")
	namesSetCmd.Flags().StringVar(&namesComment, "comment", "", "comment stored with the item")
	namesSetCmd.Flags().BoolVar(&namesFormula, "formula", false, "store VALUE as a formula")

	namesCmd.AddCommand(namesListCmd, namesSetCmd, namesDeleteCmd)
	rootCmd.AddCommand(namesCmd)
}

func withBatcher(ctx context.Context, fn func(context.Context, *batch.Batcher) error) error {
	db, doc, err := openWorkbook(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(ctx, batch.New(doc))
}

func scopeFor(sheet string) host.Scope {
	if sheet == "" {
		return host.Workbook()
	}
	return host.Worksheet(sheet)
}

// parseLiteral types a command-line value.
func parseLiteral(s string) any {
	switch strings.ToUpper(s) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// listNames returns the items of one worksheet, or of the workbook and
// then every worksheet when sheet is empty.
func listNames(ctx context.Context, b *batch.Batcher, sheet string) ([]host.NamedItem, error) {
	var items []host.NamedItem
	err := b.Run(ctx, func(ctx context.Context, bt *batch.Batch) error {
		if sheet != "" {
			exists := bt.WorksheetExists(sheet)
			list := bt.Names(host.Worksheet(sheet)).Load()
			if err := bt.Sync(ctx); err != nil {
				return err
			}
			if !exists.Value() {
				return fmt.Errorf("%w: %s", host.ErrUnknownWorksheet, sheet)
			}
			items = list.Value()
			return nil
		}

		wb := bt.Names(host.Workbook()).Load()
		sheets := bt.Worksheets()
		if err := bt.Sync(ctx); err != nil {
			return err
		}
		lists := make([]*batch.Result[[]host.NamedItem], len(sheets.Value()))
		for i, s := range sheets.Value() {
			lists[i] = bt.Names(host.Worksheet(s)).Load()
		}
		if err := bt.Sync(ctx); err != nil {
			return err
		}
		items = append(items, wb.Value()...)
		for _, l := range lists {
			items = append(items, l.Value()...)
		}
		return nil
	})
	return items, err
}

// setName replaces name in scope. A nil comment keeps the old one.
func setName(ctx context.Context, b *batch.Batcher, scope host.Scope, name, formula string, comment *string) error {
	return b.Run(ctx, func(ctx context.Context, bt *batch.Batch) error {
		names := bt.Names(scope)
		existing := names.GetItemOrNull(name)
		if err := bt.Sync(ctx); err != nil {
			return err
		}
		var keep string
		if item := existing.Value(); item.Present {
			keep = item.Value.Comment
			names.Delete(name)
		}
		if comment != nil {
			keep = *comment
		}
		names.Add(name, formula, keep)
		return nil
	})
}

// writeNames prints items as aligned columns. Widths are display cells so
// sheet names in wide scripts still line up.
func writeNames(w io.Writer, items []host.NamedItem) error {
	rows := [][]string{{"SCOPE", "NAME", "VALUE", "COMMENT"}}
	for _, it := range items {
		rows = append(rows, []string{it.Scope.String(), it.Name, host.FormatValue(it.Value), it.Comment})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]+2))
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(b.String(), " ")); err != nil {
			return err
		}
	}
	return nil
}
