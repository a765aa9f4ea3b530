package testutil

// WithInvoiceWorkbook adds the standard invoice workbook:
//
//   - Summary (active) with no marker
//   - Invoice, marked for the "Invoice" controller, holding value__total=100
//     and the table InvoiceTable at A1:C10
//   - Archive, bound through the workbook marker controller__archive to
//     ArchiveTable
func (b *Builder) WithInvoiceWorkbook() *Builder {
	return b.
		WithWorksheets("Summary", "Invoice", "Archive").
		Active("Summary").
		WithValue("controller", "Invoice", OnSheet("Invoice")).
		WithValue("value__total", 100, OnSheet("Invoice"), Comment("open amount")).
		WithTable("InvoiceTable", "Invoice", "A1:C10").
		WithTable("ArchiveTable", "Archive", "A1:D20").
		WithName("controller__archive", "=ArchiveTable", Comment("Invoice"))
}
