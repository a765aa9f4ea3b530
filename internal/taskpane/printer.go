package taskpane

import (
	"context"
	"fmt"
	"io"

	"github.com/zjrosen/sheetbind/internal/application"
	"github.com/zjrosen/sheetbind/internal/log"
	"github.com/zjrosen/sheetbind/internal/pubsub"
)

// Printer writes rendered panes to a writer, for non-interactive runs.
type Printer struct {
	w     io.Writer
	width int
}

// NewPrinter creates a printer rendering panes at width.
func NewPrinter(w io.Writer, width int) *Printer {
	return &Printer{w: w, width: width}
}

// Print writes one pane followed by a blank line.
func (p *Printer) Print(change application.TaskPaneChange) error {
	_, err := fmt.Fprintf(p.w, "%s\n\n", Render(change, p.width))
	return err
}

// Follow prints every pane received on ch until ctx is done or ch is closed.
// It returns the number of panes printed.
func (p *Printer) Follow(ctx context.Context, ch <-chan pubsub.Event[application.TaskPaneChange]) int {
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return printed
		case ev, ok := <-ch:
			if !ok {
				return printed
			}
			if err := p.Print(ev.Payload); err != nil {
				log.ErrorErr(log.CatPane, "printing task pane failed", err, "view", ev.Payload.ViewName)
				continue
			}
			printed++
		}
	}
}
