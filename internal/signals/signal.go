package signals

import (
	"math"
	"time"

	"bookstate/internal/ledger"
	"bookstate/internal/orderbook"
)

type Config struct {
	HalfWidth   float64 // window around mid for the ranged skew
	MaxSpread   float64 // widest spread the gate accepts
	TargetDelta float64 // desired net inventory
}

func DefaultConfig() Config {
	return Config{
		HalfWidth:   10,
		MaxSpread:   1,
		TargetDelta: 0,
	}
}

// Snapshot is one evaluation of the market state and own inventory.
// Skews are nil when they are not finite.
type Snapshot struct {
	Symbol       string          `json:"symbol"`
	EvaluatedAt  time.Time       `json:"evaluated_at"`
	LastUpdate   int64           `json:"last_update"`
	BestBid      orderbook.Level `json:"best_bid"`
	BestAsk      orderbook.Level `json:"best_ask"`
	Mid          float64         `json:"mid"`
	Spread       float64         `json:"spread"`
	Crossed      bool            `json:"crossed"`
	SpreadOK     bool            `json:"spread_ok"`
	Skew         *float64        `json:"skew"`
	RangeSkew    *float64        `json:"range_skew"`
	Inventory    float64         `json:"inventory"`
	SizeToTarget float64         `json:"size_to_target"`
}

// Engine derives trading signals from a book and a ledger. It never mutates
// either of them.
type Engine struct {
	book   *orderbook.Book
	ledger *ledger.Ledger
	cfg    Config
	now    func() time.Time
}

func NewEngine(book *orderbook.Book, l *ledger.Ledger, cfg Config) *Engine {
	return &Engine{
		book:   book,
		ledger: l,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) Book() *orderbook.Book {
	return e.book
}

func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Evaluate computes a Snapshot. It fails with orderbook.ErrEmptySide until
// both sides of the book are populated.
func (e *Engine) Evaluate() (Snapshot, error) {
	m, err := e.book.Measure(e.cfg.HalfWidth)
	if err != nil {
		return Snapshot{}, err
	}
	inventory := e.ledger.InventoryDelta()

	return Snapshot{
		Symbol:       e.book.Symbol,
		EvaluatedAt:  e.now(),
		LastUpdate:   m.LastUpdate,
		BestBid:      m.BestBid,
		BestAsk:      m.BestAsk,
		Mid:          m.Mid,
		Spread:       m.Spread,
		Crossed:      m.Crossed,
		SpreadOK:     m.Spread <= e.cfg.MaxSpread,
		Skew:         finite(m.Skew),
		RangeSkew:    finite(m.RangeSkew),
		Inventory:    inventory,
		SizeToTarget: math.Abs(inventory - e.cfg.TargetDelta),
	}, nil
}

// Gate reports whether an order of size at price on side passes both the
// spread gate and the single-level fill check. Errors from the book
// (empty side, unknown price) are returned as-is and mean "not safe".
func (e *Engine) Gate(side orderbook.Side, price, size float64) (bool, error) {
	ok, err := e.book.SpreadWithin(e.cfg.MaxSpread)
	if err != nil || !ok {
		return false, err
	}
	return e.book.FitsAtPrice(side, price, size)
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
