package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade-core/internal/events"
	"papertrade-core/internal/fill"
	"papertrade-core/internal/ledger"
	"papertrade-core/pkg/db"
)

func newTestRecorder(t *testing.T, lookup OrderLookup) (*Recorder, *db.Database, *events.Bus) {
	t.Helper()
	d, err := db.New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(d))
	t.Cleanup(func() { d.Close() })

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	book := ledger.New(decimal.NewFromInt(10000), decimal.NewFromFloat(0.001), nil)

	cfg := DefaultConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	return NewRecorder(cfg, d, bus, book, lookup, nil), d, bus
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRecordsOrdersAndFills(t *testing.T) {
	lookup := func(id string) (fill.Order, bool) {
		return fill.Order{
			ID:        id,
			FilledQty: d("0.5"),
			Status:    fill.StatusPartial,
		}, true
	}
	r, database, bus := newTestRecorder(t, lookup)

	r.Start(context.Background())

	bus.Publish(events.EventOrderSubmitted, fill.Order{
		ID:        "ord-1",
		Symbol:    "BTCUSDT",
		Side:      fill.SideBuy,
		Kind:      fill.KindLimit,
		Price:     d("100"),
		Quantity:  d("2"),
		FilledQty: decimal.Zero,
		Status:    fill.StatusPending,
		CreatedAt: time.Now().UTC(),
	})
	bus.Publish(events.EventOrderPartiallyFilled, fill.Fill{
		OrderID:   "ord-1",
		Symbol:    "BTCUSDT",
		Side:      fill.SideBuy,
		Quantity:  d("0.5"),
		Price:     d("100"),
		Type:      fill.FillTaker,
		Latency:   25 * time.Millisecond,
		Timestamp: time.Now().UTC(),
	})

	require.Eventually(t, func() bool {
		var n int
		if err := database.DB.QueryRow(`SELECT COUNT(*) FROM fills`).Scan(&n); err != nil {
			return false
		}
		return n == 1
	}, 2*time.Second, 20*time.Millisecond, "fill row should land")

	r.Stop()

	var status, filledQty string
	row := database.DB.QueryRow(`SELECT status, filled_qty FROM orders WHERE id = ?`, "ord-1")
	require.NoError(t, row.Scan(&status, &filledQty))
	assert.Equal(t, fill.StatusPartial, status)
	assert.Equal(t, "0.5", filledQty)
}

func TestCancelUpdatesOrderRow(t *testing.T) {
	r, database, _ := newTestRecorder(t, nil)
	ctx := context.Background()

	o := fill.Order{
		ID: "ord-2", Symbol: "ETHUSDT", Side: fill.SideSell, Kind: fill.KindLimit,
		Price: d("2000"), Quantity: d("1"), FilledQty: decimal.Zero,
		Status: fill.StatusPending, CreatedAt: time.Now().UTC(),
	}
	r.recordOrder(ctx, o)
	o.Status = fill.StatusCancelled
	r.recordCancel(o)
	r.writer.Flush()

	var status string
	row := database.DB.QueryRow(`SELECT status FROM orders WHERE id = ?`, "ord-2")
	require.NoError(t, row.Scan(&status))
	assert.Equal(t, fill.StatusCancelled, status)
}

func TestSnapshotPersistsLedgerState(t *testing.T) {
	r, database, _ := newTestRecorder(t, nil)
	ctx := context.Background()

	r.book.ApplyFill(fill.Fill{
		Symbol: "BTCUSDT", Side: fill.SideBuy,
		Quantity: d("1"), Price: d("100"),
	})
	r.Snapshot(ctx)

	snap, err := database.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "9899.9", snap.Cash) // 10000 - 100 - 0.1 fee
	assert.Contains(t, snap.Positions, "BTCUSDT")
}

func TestStopFlushesPendingWrites(t *testing.T) {
	r, database, _ := newTestRecorder(t, nil)

	r.Start(context.Background())
	r.recordFill(fill.Fill{
		OrderID: "ord-3", Symbol: "BTCUSDT", Side: fill.SideBuy,
		Quantity: d("1"), Price: d("99"), Type: fill.FillMaker,
		Timestamp: time.Now().UTC(),
	})
	r.Stop()

	var n int
	require.NoError(t, database.DB.QueryRow(`SELECT COUNT(*) FROM fills`).Scan(&n))
	assert.Equal(t, 1, n)
}
