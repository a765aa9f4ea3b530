package testutil

import "github.com/zjrosen/sheetbind/internal/host"

// NameOption configures a named item added by the builder.
type NameOption func(*host.NamedItem)

// OnSheet scopes the item to a worksheet.
func OnSheet(sheet string) NameOption {
	return func(it *host.NamedItem) {
		it.Scope = host.Worksheet(sheet)
	}
}

// Comment sets the item's comment.
func Comment(text string) NameOption {
	return func(it *host.NamedItem) {
		it.Comment = text
	}
}
