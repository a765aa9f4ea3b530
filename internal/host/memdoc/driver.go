package memdoc

import (
	"context"
	"fmt"

	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/log"
)

// dispatch delivers events in order. The handlers for each event are the
// ones registered when that event is delivered; they run without the
// document lock held so they may call Execute.
func (d *Document) dispatch(ctx context.Context, events ...host.Event) {
	for _, ev := range events {
		d.mu.Lock()
		handlers := d.st.handlersFor(ev.Source, ev.Type)
		d.mu.Unlock()

		log.Debug(log.CatHost, "dispatching event", "type", ev.Type, "source", ev.Source, "handlers", len(handlers))
		for _, h := range handlers {
			h(ctx, ev)
		}
	}
}

// ActivateWorksheet makes name the active worksheet, raising
// WorksheetDeactivated on the previously active sheet and then
// WorksheetActivated on name. Activating the active sheet does nothing.
func (d *Document) ActivateWorksheet(ctx context.Context, name string) error {
	d.mu.Lock()
	if !d.st.hasWorksheet(name) {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", host.ErrUnknownWorksheet, name)
	}
	prev := d.st.active
	if prev == name {
		d.mu.Unlock()
		return nil
	}
	next := d.st.clone()
	next.active = name
	if d.store != nil {
		if err := d.store.Save(ctx, next.snapshot()); err != nil {
			d.mu.Unlock()
			return fmt.Errorf("saving document: %w", err)
		}
	}
	d.st = next
	d.mu.Unlock()

	var events []host.Event
	if prev != "" {
		events = append(events, host.Event{
			Type:      host.EventWorksheetDeactivated,
			Source:    host.WorksheetSource(prev),
			Worksheet: prev,
		})
	}
	events = append(events, host.Event{
		Type:      host.EventWorksheetActivated,
		Source:    host.WorksheetSource(name),
		Worksheet: name,
	})
	d.dispatch(ctx, events...)
	return nil
}

// ActivateWorkbook raises WorkbookActivated.
func (d *Document) ActivateWorkbook(ctx context.Context) {
	d.dispatch(ctx, host.Event{
		Type:   host.EventWorkbookActivated,
		Source: host.WorkbookSource(),
	})
}

// EditRange records an edit of address on sheet. It raises Changed on the
// worksheet and the workbook and BindingDataChanged on every binding whose
// range overlaps the edit.
func (d *Document) EditRange(ctx context.Context, sheet, address string) error {
	ids, err := d.touchedBindings(sheet, address)
	if err != nil {
		return err
	}
	events := []host.Event{
		{Type: host.EventChanged, Source: host.WorksheetSource(sheet), Worksheet: sheet, Address: address},
		{Type: host.EventChanged, Source: host.WorkbookSource(), Worksheet: sheet, Address: address},
	}
	for _, id := range ids {
		events = append(events, host.Event{
			Type:      host.EventBindingDataChanged,
			Source:    host.BindingSource(id),
			Worksheet: sheet,
			BindingID: id,
			Address:   address,
		})
	}
	d.dispatch(ctx, events...)
	return nil
}

// EditTable records an edit of the whole table.
func (d *Document) EditTable(ctx context.Context, table string) error {
	d.mu.Lock()
	t, ok := d.st.table(table)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: table %s", host.ErrNotFound, table)
	}
	return d.EditRange(ctx, t.Worksheet, t.Address)
}

// SelectRange records a selection of address on sheet, raising
// SelectionChanged on the worksheet and the workbook and
// BindingSelectionChanged on overlapping bindings.
func (d *Document) SelectRange(ctx context.Context, sheet, address string) error {
	ids, err := d.touchedBindings(sheet, address)
	if err != nil {
		return err
	}
	events := []host.Event{
		{Type: host.EventSelectionChanged, Source: host.WorksheetSource(sheet), Worksheet: sheet, Address: address},
		{Type: host.EventSelectionChanged, Source: host.WorkbookSource(), Worksheet: sheet, Address: address},
	}
	for _, id := range ids {
		events = append(events, host.Event{
			Type:      host.EventBindingSelectionChanged,
			Source:    host.BindingSource(id),
			Worksheet: sheet,
			BindingID: id,
			Address:   address,
		})
	}
	d.dispatch(ctx, events...)
	return nil
}

// Fire raises an arbitrary event on source.
func (d *Document) Fire(ctx context.Context, source host.Source, event host.EventType, payload any) {
	ev := host.Event{Type: event, Source: source, Payload: payload}
	switch source.Kind {
	case host.SourceWorksheet:
		ev.Worksheet = source.ID
	case host.SourceBinding:
		ev.BindingID = source.ID
	}
	d.dispatch(ctx, ev)
}

// Reload re-reads the store and, when it holds a different document than
// memory (an edit made by another process), adopts it and raises Changed on
// the workbook. Bindings and handlers are kept.
func (d *Document) Reload(ctx context.Context) (bool, error) {
	if d.store == nil {
		return false, nil
	}
	snap, err := d.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("reloading document: %w", err)
	}

	d.mu.Lock()
	if d.st.snapshot().Equal(snap) {
		d.mu.Unlock()
		return false, nil
	}
	next := stateFrom(snap)
	next.bindings = d.st.bindings
	next.handlers = d.st.handlers
	d.st = next
	d.mu.Unlock()

	log.Info(log.CatHost, "document reloaded from store", "names", len(snap.Names))
	d.dispatch(ctx, host.Event{Type: host.EventChanged, Source: host.WorkbookSource()})
	return true, nil
}

func (d *Document) touchedBindings(sheet, address string) ([]string, error) {
	r, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.st.hasWorksheet(sheet) {
		return nil, fmt.Errorf("%w: %s", host.ErrUnknownWorksheet, sheet)
	}
	return d.st.bindingsAt(sheet, r), nil
}
