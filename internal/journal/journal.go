package journal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"papertrade-core/internal/events"
	"papertrade-core/internal/fill"
	"papertrade-core/internal/ledger"
	"papertrade-core/pkg/db"
)

// OrderLookup resolves an order's current state by id, typically bound to
// the fill engine's Order method.
type OrderLookup func(id string) (fill.Order, bool)

// Config tunes the recorder.
type Config struct {
	// SnapshotInterval is the period between ledger snapshots.
	SnapshotInterval time.Duration
	// BatchSize and FlushInterval tune the buffered fill writer.
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns journaling defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotInterval: 60 * time.Second,
		BatchSize:        50,
		FlushInterval:    time.Second,
	}
}

// Recorder subscribes to the event bus and persists the order/fill journal
// plus periodic ledger snapshots. Persistence is best-effort: a write error
// is logged and never interrupts trading.
type Recorder struct {
	cfg    Config
	d      *db.Database
	writer *db.BatchWriter
	bus    *events.Bus
	book   *ledger.Ledger
	lookup OrderLookup
	log    *zap.SugaredLogger

	now    func() time.Time
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewRecorder creates a journal recorder. lookup may be nil, in which case
// order progress rows are not refreshed on fills.
func NewRecorder(cfg Config, d *db.Database, bus *events.Bus, book *ledger.Ledger, lookup OrderLookup, log *zap.SugaredLogger) *Recorder {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Recorder{
		cfg:    cfg,
		d:      d,
		writer: db.NewBatchWriter(d, cfg.BatchSize, cfg.FlushInterval, log),
		bus:    bus,
		book:   book,
		lookup: lookup,
		log:    log,
		now:    time.Now,
	}
}

// Start begins consuming events and snapshotting the ledger.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	submitted, unsubSubmitted := r.bus.Subscribe(events.EventOrderSubmitted, 256)
	filled, unsubFilled := r.bus.Subscribe(events.EventOrderFilled, 256)
	partial, unsubPartial := r.bus.Subscribe(events.EventOrderPartiallyFilled, 256)
	cancelled, unsubCancelled := r.bus.Subscribe(events.EventOrderCancelled, 256)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer unsubSubmitted()
		defer unsubFilled()
		defer unsubPartial()
		defer unsubCancelled()

		snap := time.NewTicker(r.cfg.SnapshotInterval)
		defer snap.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case p := <-submitted:
				if o, ok := p.(fill.Order); ok {
					r.recordOrder(ctx, o)
				}
			case p := <-filled:
				if f, ok := p.(fill.Fill); ok {
					r.recordFill(f)
				}
			case p := <-partial:
				if f, ok := p.(fill.Fill); ok {
					r.recordFill(f)
				}
			case p := <-cancelled:
				if o, ok := p.(fill.Order); ok {
					r.recordCancel(o)
				}
			case <-snap.C:
				r.Snapshot(ctx)
			}
		}
	}()

	r.log.Infow("journal recorder started", "snapshot_interval", r.cfg.SnapshotInterval)
}

// Stop drains the recorder, flushes buffered writes and takes a final
// snapshot.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.writer.Close()
	r.Snapshot(context.Background())
}

func (r *Recorder) recordOrder(ctx context.Context, o fill.Order) {
	err := r.d.CreateOrder(ctx, db.Order{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Kind:      o.Kind,
		Price:     o.Price.String(),
		Qty:       o.Quantity.String(),
		FilledQty: o.FilledQty.String(),
		MakerOnly: o.MakerOnly,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
	})
	if err != nil {
		r.log.Warnw("journal: order insert failed", "order_id", o.ID, "error", err)
	}
}

func (r *Recorder) recordFill(f fill.Fill) {
	r.writer.Write(`INSERT INTO fills (id, order_id, symbol, side, price, qty, fill_type, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), f.OrderID, f.Symbol, f.Side,
		f.Price.String(), f.Quantity.String(), f.Type,
		f.Latency.Milliseconds(), f.Timestamp)

	if r.lookup == nil {
		return
	}
	if o, ok := r.lookup(f.OrderID); ok {
		r.writer.Write(`UPDATE orders SET filled_qty = ?, status = ? WHERE id = ?`,
			o.FilledQty.String(), o.Status, o.ID)
	}
}

func (r *Recorder) recordCancel(o fill.Order) {
	r.writer.Write(`UPDATE orders SET filled_qty = ?, status = ? WHERE id = ?`,
		o.FilledQty.String(), fill.StatusCancelled, o.ID)
}

// Snapshot persists the current ledger state.
func (r *Recorder) Snapshot(ctx context.Context) {
	if r.book == nil {
		return
	}
	s := r.book.Snapshot()
	positions, err := json.Marshal(s.Positions)
	if err != nil {
		r.log.Warnw("journal: snapshot encode failed", "error", err)
		return
	}
	err = r.d.SaveSnapshot(ctx, db.LedgerSnapshot{
		ID:            uuid.NewString(),
		Cash:          s.Cash.String(),
		RealizedPnL:   s.RealizedPnL.String(),
		TotalFeesPaid: s.TotalFeesPaid.String(),
		Positions:     string(positions),
		CreatedAt:     r.now(),
	})
	if err != nil {
		r.log.Warnw("journal: snapshot insert failed", "error", err)
	}
}
