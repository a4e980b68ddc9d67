package orderbook

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/btree"
)

const treeDegree = 16

// Book is the resting liquidity for a single symbol. Both sides are kept
// ascending by price; the best bid is the maximum and the best ask the minimum.
type Book struct {
	Symbol string

	mu         sync.RWMutex
	bids       *btree.BTreeG[Level]
	asks       *btree.BTreeG[Level]
	lastUpdate int64
}

func New(symbol string) *Book {
	return NewAt(symbol, 0)
}

// NewAt creates an empty book whose last update time is seeded with created.
func NewAt(symbol string, created int64) *Book {
	return &Book{
		Symbol:     symbol,
		bids:       btree.NewG[Level](treeDegree, levelLess),
		asks:       btree.NewG[Level](treeDegree, levelLess),
		lastUpdate: created,
	}
}

func (b *Book) side(s Side) *btree.BTreeG[Level] {
	switch s {
	case Bid:
		return b.bids
	case Ask:
		return b.asks
	}
	return nil
}

// Upsert replaces the level at lvl.Price on the given side. Sizes are not
// accumulated. A zero size removes the price from the side.
func (b *Book) Upsert(s Side, lvl Level) error {
	if err := validPrice(lvl.Price); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tree := b.side(s)
	if tree == nil {
		return fmt.Errorf("%w: %d", ErrInvalidSide, int(s))
	}
	b.upsert(tree, lvl)
	return nil
}

// Update upserts every bid and ask as one write. Readers see either none or
// all of the levels. Nothing is applied if any price is invalid.
func (b *Book) Update(bids, asks []Level) error {
	if err := validLevels(bids, asks); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.upsertAll(bids, asks)
	return nil
}

// Replace swaps the whole book for bids and asks as one write, as on a fresh
// exchange snapshot. The last update time is ts unless a level is stamped later.
func (b *Book) Replace(ts int64, bids, asks []Level) error {
	if err := validLevels(bids, asks); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.Clear(false)
	b.asks.Clear(false)
	b.lastUpdate = ts
	b.upsertAll(bids, asks)
	return nil
}

func (b *Book) upsertAll(bids, asks []Level) {
	for _, lvl := range bids {
		b.upsert(b.bids, lvl)
	}
	for _, lvl := range asks {
		b.upsert(b.asks, lvl)
	}
}

func (b *Book) upsert(tree *btree.BTreeG[Level], lvl Level) {
	if lvl.Size == 0 {
		tree.Delete(lvl)
	} else {
		tree.ReplaceOrInsert(lvl)
	}
	b.lastUpdate = lvl.Timestamp
}

// validPrice rejects prices that cannot key a level or produce a finite mid.
func validPrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	return nil
}

func validLevels(sides ...[]Level) error {
	for _, levels := range sides {
		for _, lvl := range levels {
			if err := validPrice(lvl.Price); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset drops every level on both sides.
func (b *Book) Reset(ts int64) {
	// no levels, so Replace cannot fail
	_ = b.Replace(ts, nil, nil)
}

// LastUpdateTime is the timestamp of the most recent upsert on either side.
func (b *Book) LastUpdateTime() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

func (b *Book) BestBid() (Level, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBid()
}

func (b *Book) BestAsk() (Level, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestAsk()
}

func (b *Book) bestBid() (Level, error) {
	lvl, ok := b.bids.Max()
	if !ok {
		return Level{}, fmt.Errorf("%w: bid", ErrEmptySide)
	}
	return lvl, nil
}

func (b *Book) bestAsk() (Level, error) {
	lvl, ok := b.asks.Min()
	if !ok {
		return Level{}, fmt.Errorf("%w: ask", ErrEmptySide)
	}
	return lvl, nil
}

// Top returns the best bid and best ask from one read of the book.
func (b *Book) Top() (bid, ask Level, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.top()
}

func (b *Book) top() (bid, ask Level, err error) {
	if bid, err = b.bestBid(); err != nil {
		return
	}
	ask, err = b.bestAsk()
	return
}

// MidPrice returns the arithmetic mean of best bid and best ask. A crossed
// book is not detected here.
func (b *Book) MidPrice() (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.midPrice()
}

func (b *Book) midPrice() (float64, error) {
	bid, ask, err := b.top()
	if err != nil {
		return 0, err
	}
	return (bid.Price + ask.Price) / 2, nil
}

// Spread returns best ask minus best bid. It is negative when the book is crossed.
func (b *Book) Spread() (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bid, ask, err := b.top()
	if err != nil {
		return 0, err
	}
	return ask.Price - bid.Price, nil
}

// SpreadWithin reports whether the current spread is at most maxSpread.
func (b *Book) SpreadWithin(maxSpread float64) (bool, error) {
	spread, err := b.Spread()
	if err != nil {
		return false, err
	}
	return spread <= maxSpread, nil
}

// Crossed reports whether both sides are populated and the best bid is at or
// above the best ask.
func (b *Book) Crossed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bid, ask, err := b.top()
	if err != nil {
		return false
	}
	return bid.Price >= ask.Price
}

// DepthSkew is ln(total bid size) - ln(total ask size).
//
// The result is not finite when a side has no depth: an empty bid side gives
// -Inf, an empty ask side +Inf, and both empty (or negative sums) give NaN.
// Callers must check before using it as a signal.
func (b *Book) DepthSkew() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return skew(sumSize(b.bids), sumSize(b.asks))
}

// DepthSkewInRange restricts DepthSkew to bids at or above mid-halfWidth and
// asks at or below mid+halfWidth. Each side is only bounded on the side facing
// the mid price.
func (b *Book) DepthSkewInRange(halfWidth float64) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	mid, err := b.midPrice()
	if err != nil {
		return 0, err
	}
	return b.depthSkewInRange(mid, halfWidth), nil
}

func (b *Book) depthSkewInRange(mid, halfWidth float64) float64 {
	lower, upper := mid-halfWidth, mid+halfWidth

	var bidDepth float64
	b.bids.AscendGreaterOrEqual(Level{Price: lower}, func(l Level) bool {
		bidDepth += l.Size
		return true
	})

	var askDepth float64
	b.asks.Ascend(func(l Level) bool {
		if l.Price > upper {
			return false
		}
		askDepth += l.Size
		return true
	})

	return skew(bidDepth, askDepth)
}

// Metrics is every book-derived figure taken from a single read of the book.
type Metrics struct {
	LastUpdate int64
	BestBid    Level
	BestAsk    Level
	Mid        float64
	Spread     float64
	Crossed    bool
	Skew       float64
	RangeSkew  float64
}

// Measure computes Metrics under one read lock, using halfWidth for the
// ranged skew. It fails with ErrEmptySide unless both sides are populated.
func (b *Book) Measure(halfWidth float64) (Metrics, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bid, ask, err := b.top()
	if err != nil {
		return Metrics{}, err
	}
	mid := (bid.Price + ask.Price) / 2

	return Metrics{
		LastUpdate: b.lastUpdate,
		BestBid:    bid,
		BestAsk:    ask,
		Mid:        mid,
		Spread:     ask.Price - bid.Price,
		Crossed:    bid.Price >= ask.Price,
		Skew:       skew(sumSize(b.bids), sumSize(b.asks)),
		RangeSkew:  b.depthSkewInRange(mid, halfWidth),
	}, nil
}

// FitsAtPrice reports whether size can be filled in full by the level resting
// at exactly price. Equal size counts as a fit.
func (b *Book) FitsAtPrice(s Side, price, size float64) (bool, error) {
	if err := validPrice(price); err != nil {
		return false, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	tree := b.side(s)
	if tree == nil {
		return false, fmt.Errorf("%w: %d", ErrInvalidSide, int(s))
	}

	lvl, ok := tree.Get(Level{Price: price})
	if !ok {
		return false, fmt.Errorf("%w: %s %v", ErrPriceNotFound, s, price)
	}
	return size <= lvl.Size, nil
}

// Depth is the total resting size on one side.
func (b *Book) Depth(s Side) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tree := b.side(s)
	if tree == nil {
		return 0
	}
	return sumSize(tree)
}

// Len is the number of price levels on one side.
func (b *Book) Len(s Side) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tree := b.side(s)
	if tree == nil {
		return 0
	}
	return tree.Len()
}

// Levels returns a copy of one side, best price first.
func (b *Book) Levels(s Side) []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.levels(s, 0)
}

// levels copies up to n levels (all when n <= 0), best price first.
func (b *Book) levels(s Side, n int) []Level {
	tree := b.side(s)
	if tree == nil {
		return nil
	}

	size := tree.Len()
	if n > 0 && n < size {
		size = n
	}
	out := make([]Level, 0, size)
	collect := func(l Level) bool {
		out = append(out, l)
		return len(out) < size
	}
	if size == 0 {
		return out
	}

	if s == Bid {
		tree.Descend(collect)
	} else {
		tree.Ascend(collect)
	}
	return out
}

// BookSnapshot is a point-in-time copy of the top of the book.
type BookSnapshot struct {
	Symbol     string  `json:"symbol"`
	LastUpdate int64   `json:"last_update"`
	Bids       []Level `json:"bids"`
	Asks       []Level `json:"asks"`
}

// Snapshot copies up to depth levels per side (all when depth <= 0).
func (b *Book) Snapshot(depth int) BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BookSnapshot{
		Symbol:     b.Symbol,
		LastUpdate: b.lastUpdate,
		Bids:       b.levels(Bid, depth),
		Asks:       b.levels(Ask, depth),
	}
}

func sumSize(tree *btree.BTreeG[Level]) float64 {
	var total float64
	tree.Ascend(func(l Level) bool {
		total += l.Size
		return true
	})
	return total
}

func skew(bidDepth, askDepth float64) float64 {
	return math.Log(bidDepth) - math.Log(askDepth)
}
