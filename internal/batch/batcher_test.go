package batch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/host/memdoc"
	"github.com/zjrosen/sheetbind/internal/tracing"
)

// recordingHost counts round-trips to the wrapped host.
type recordingHost struct {
	mu      sync.Mutex
	inner   host.Host
	batches [][]host.Request
	// failNext fails the next round-trip.
	failNext error
}

func (h *recordingHost) Execute(ctx context.Context, reqs []host.Request) ([]host.Response, error) {
	h.mu.Lock()
	h.batches = append(h.batches, reqs)
	fail := h.failNext
	h.failNext = nil
	h.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return h.inner.Execute(ctx, reqs)
}

func (h *recordingHost) roundTrips() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.batches)
}

func newDoc() *memdoc.Document {
	return memdoc.New(memdoc.WithSnapshot(&memdoc.Snapshot{
		Worksheets: []string{"Sheet1", "Sheet2"},
		Names: []host.NamedItem{
			{Name: "controller", Scope: host.Worksheet("Sheet1"), Formula: `="Invoice"`},
			{Name: "value__total", Scope: host.Worksheet("Sheet1"), Formula: "=10", Comment: "total"},
		},
		Tables: []host.Table{{Name: "InvoiceTable", Worksheet: "Sheet1", Address: "A1:C5"}},
	}))
}

func newBatcher() (*Batcher, *recordingHost, *memdoc.Document) {
	doc := newDoc()
	rec := &recordingHost{inner: doc}
	return New(rec), rec, doc
}

func TestRun_OneRoundTripForQueuedOperations(t *testing.T) {
	b, rec, _ := newBatcher()
	ctx := context.Background()

	var names *Result[[]host.NamedItem]
	var sheets *Result[[]string]
	var missing *Result[Maybe[host.NamedItem]]
	err := b.Run(ctx, func(ctx context.Context, bt *Batch) error {
		names = bt.Names(host.Worksheet("Sheet1")).Load()
		sheets = bt.Worksheets()
		missing = bt.Names(host.Workbook()).GetItemOrNull("nope")
		require.False(t, names.Loaded(), "results resolve only on flush")
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, 1, rec.roundTrips())
	require.True(t, names.Loaded())
	require.Len(t, names.Value(), 2)
	require.Equal(t, []string{"Sheet1", "Sheet2"}, sheets.Value())
	require.True(t, missing.Value().IsNull())
}

func TestRun_SyncResolvesMidBatch(t *testing.T) {
	b, rec, _ := newBatcher()
	ctx := context.Background()

	total, err := Run(ctx, b, func(ctx context.Context, bt *Batch) (any, error) {
		item := bt.Names(host.Worksheet("Sheet1")).GetItemOrNull("value__total")
		if err := bt.Sync(ctx); err != nil {
			return nil, err
		}
		return item.Value().Value.Value, nil
	})
	require.NoError(t, err)
	require.Equal(t, float64(10), total)
	require.Equal(t, 1, rec.roundTrips(), "an empty final flush makes no round-trip")
}

func TestRun_WritesApplyTogether(t *testing.T) {
	b, _, doc := newBatcher()
	ctx := context.Background()

	err := b.Run(ctx, func(ctx context.Context, bt *Batch) error {
		names := bt.Names(host.Workbook())
		names.Add("value__a", "=1", "")
		names.Add("value__b", "=2", "")
		names.Delete("value__missing")
		return nil
	})
	require.Error(t, err)
	require.ErrorIs(t, err, host.ErrNotFound)
	require.Empty(t, doc.Names(host.Workbook()), "no write of a failed batch is visible")
}

func TestRun_FnErrorDiscardsQueuedOperations(t *testing.T) {
	b, rec, doc := newBatcher()
	boom := errors.New("boom")

	err := b.Run(context.Background(), func(ctx context.Context, bt *Batch) error {
		bt.Names(host.Workbook()).Add("value__a", "=1", "")
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, rec.roundTrips())
	require.Empty(t, doc.Names(host.Workbook()))
}

func TestRun_FailedFlushPoisonsBatch(t *testing.T) {
	b, rec, doc := newBatcher()
	ctx := context.Background()

	err := b.Run(ctx, func(ctx context.Context, bt *Batch) error {
		bt.Names(host.Workbook()).GetItem("missing")
		syncErr := bt.Sync(ctx)
		require.ErrorIs(t, syncErr, host.ErrNotFound)

		// Ignored: the batch is poisoned.
		bt.Names(host.Workbook()).Add("value__a", "=1", "")
		require.Zero(t, bt.Pending())
		return nil
	})
	require.ErrorIs(t, err, host.ErrNotFound, "the final flush reports the original failure")
	require.Equal(t, 1, rec.roundTrips())
	require.Empty(t, doc.Names(host.Workbook()))
	require.Equal(t, int64(1), b.Stats().Failures)
}

func TestRun_BatchClosedAfterRun(t *testing.T) {
	b, _, _ := newBatcher()
	var leaked *Batch

	require.NoError(t, b.Run(context.Background(), func(ctx context.Context, bt *Batch) error {
		leaked = bt
		return nil
	}))
	require.ErrorIs(t, leaked.Sync(context.Background()), ErrBatchClosed)

	leaked.Worksheets()
	require.Zero(t, leaked.Pending())
}

func TestRun_NestedRunsAreIndependent(t *testing.T) {
	b, rec, _ := newBatcher()
	ctx := context.Background()

	var inner *Result[[]string]
	err := b.Run(ctx, func(ctx context.Context, outer *Batch) error {
		outer.Worksheets()
		return b.Run(ctx, func(ctx context.Context, bt *Batch) error {
			inner = bt.Worksheets()
			return nil
		})
	})
	require.NoError(t, err)
	require.True(t, inner.Loaded())
	require.Equal(t, 2, rec.roundTrips())
}

func TestRegistration_RemoveIsIdempotent(t *testing.T) {
	b, _, doc := newBatcher()
	ctx := context.Background()

	var reg *Registration
	require.NoError(t, b.Run(ctx, func(ctx context.Context, bt *Batch) error {
		reg = bt.On(host.WorksheetSource("Sheet1"), host.EventChanged, func(context.Context, host.Event) {})
		return nil
	}))
	require.True(t, reg.Live())
	require.NotEmpty(t, reg.ID())
	require.Equal(t, host.EventChanged, reg.Event())
	require.Equal(t, host.WorksheetSource("Sheet1"), reg.Source())
	require.Equal(t, 1, doc.HandlerCount())

	require.NoError(t, reg.Remove(ctx))
	require.NoError(t, reg.Remove(ctx))
	require.False(t, reg.Live())
	require.Zero(t, doc.HandlerCount())
}

func TestRegistration_FailedRemoveStaysLive(t *testing.T) {
	b, rec, doc := newBatcher()
	ctx := context.Background()

	var reg *Registration
	require.NoError(t, b.Run(ctx, func(ctx context.Context, bt *Batch) error {
		reg = bt.On(host.WorksheetSource("Sheet1"), host.EventChanged, func(context.Context, host.Event) {})
		return nil
	}))

	rec.mu.Lock()
	rec.failNext = errors.New("host unavailable")
	rec.mu.Unlock()
	require.Error(t, reg.Remove(ctx))
	require.True(t, reg.Live())
	require.Equal(t, 1, doc.HandlerCount())

	require.Error(t, b.Run(ctx, func(ctx context.Context, bt *Batch) error {
		bt.RemoveHandler(reg)
		bt.RemoveHandler(reg)
		require.Equal(t, 1, bt.Pending(), "a queued removal is not queued twice")
		return errors.New("abandoned")
	}))
	require.True(t, reg.Live(), "a discarded removal releases the registration")

	require.NoError(t, reg.Remove(ctx))
	require.False(t, reg.Live())
	require.Zero(t, doc.HandlerCount())
}

func TestRegistration_NeverLiveRemoveIsNoop(t *testing.T) {
	b, rec, _ := newBatcher()
	ctx := context.Background()

	var reg *Registration
	err := b.Run(ctx, func(ctx context.Context, bt *Batch) error {
		reg = bt.On(host.WorksheetSource("Nope"), host.EventChanged, func(context.Context, host.Event) {})
		return nil
	})
	require.ErrorIs(t, err, host.ErrUnknownWorksheet)
	require.False(t, reg.Live())

	require.NoError(t, reg.Remove(ctx))
	require.Equal(t, 1, rec.roundTrips())
}

func TestRun_GenericReturnsValue(t *testing.T) {
	b, _, _ := newBatcher()

	active, err := Run(context.Background(), b, func(ctx context.Context, bt *Batch) (*Result[Maybe[string]], error) {
		return bt.ActiveWorksheet(), nil
	})
	require.NoError(t, err)
	require.Equal(t, "Sheet1", active.Value().Value)
}

func TestBatch_TablesAndWorksheets(t *testing.T) {
	b, _, _ := newBatcher()

	var table *Result[Maybe[host.Table]]
	var missing *Result[Maybe[host.Table]]
	var exists, notExists *Result[bool]
	require.NoError(t, b.Run(context.Background(), func(ctx context.Context, bt *Batch) error {
		table = bt.TableOrNull("InvoiceTable")
		missing = bt.TableOrNull("Nope")
		exists = bt.WorksheetExists("Sheet2")
		notExists = bt.WorksheetExists("Sheet9")
		return nil
	}))
	require.Equal(t, "A1:C5", table.Value().Value.Address)
	require.True(t, missing.Value().IsNull())
	require.True(t, exists.Value())
	require.False(t, notExists.Value())
}

func TestStats_CountsRoundTrips(t *testing.T) {
	b, _, _ := newBatcher()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Run(ctx, func(ctx context.Context, bt *Batch) error {
			bt.Worksheets()
			bt.ActiveWorksheet()
			return nil
		}))
	}
	stats := b.Stats()
	require.Equal(t, int64(3), stats.Runs)
	require.Equal(t, int64(3), stats.Flushes)
	require.Equal(t, int64(6), stats.Requests)
	require.Zero(t, stats.Failures)
}

func TestRun_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	b := New(newDoc(), WithTracer(tp.Tracer("test")))

	require.NoError(t, b.Run(context.Background(), func(ctx context.Context, bt *Batch) error {
		bt.Worksheets()
		return nil
	}))

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{tracing.SpanBatchFlush, tracing.SpanBatchRun}, names)
}
