package ledger

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Ledger tracks the engine's own orders by side and status. An order id lives
// in at most one bucket at a time.
type Ledger struct {
	mu      sync.RWMutex
	buckets map[bucket]map[string]Order
	owner   map[string]bucket
}

func New() *Ledger {
	l := &Ledger{
		buckets: make(map[bucket]map[string]Order, 4),
		owner:   make(map[string]bucket),
	}
	for _, side := range []Side{Buy, Sell} {
		for _, status := range []Status{Pending, Active} {
			l.buckets[bucket{side, status}] = make(map[string]Order)
		}
	}
	return l
}

// Add stores order in the (side, status) bucket and returns its id. Re-adding
// to the same bucket overwrites; adding an id held by a different bucket fails.
//
// An empty id is replaced with a generated one. A submitter records an order
// as pending this way before the exchange has assigned an orderId, and sends
// the returned id as the order's orderLinkId. Orders arriving from the feed
// always carry the exchange orderId.
func (l *Ledger) Add(side Side, status Status, order Order) (string, error) {
	b, err := newBucket(side, status)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if cur, ok := l.owner[order.ID]; ok && cur != b {
		return "", fmt.Errorf("%w: %s is %s", ErrOrderConflict, order.ID, cur)
	}

	l.buckets[b][order.ID] = order
	l.owner[order.ID] = b
	return order.ID, nil
}

// Remove deletes id from the (side, status) bucket. Absent ids are ignored.
func (l *Ledger) Remove(side Side, status Status, id string) error {
	b, err := newBucket(side, status)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.buckets[b][id]; !ok {
		return nil
	}
	delete(l.buckets[b], id)
	delete(l.owner, id)
	return nil
}

// Acknowledge moves a pending order on side to active.
func (l *Ledger) Acknowledge(side Side, id string) error {
	from, err := newBucket(side, Pending)
	if err != nil {
		return err
	}
	to := bucket{side: side, status: Active}

	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.buckets[from][id]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrOrderNotFound, from, id)
	}
	delete(l.buckets[from], id)
	l.buckets[to][id] = order
	l.owner[id] = to
	return nil
}

// Get returns a copy of the order.
func (l *Ledger) Get(side Side, status Status, id string) (Order, error) {
	b, err := newBucket(side, status)
	if err != nil {
		return Order{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	order, ok := l.buckets[b][id]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s %s", ErrOrderNotFound, b, id)
	}
	return order, nil
}

// Orders returns copies of every order in a bucket, oldest first.
func (l *Ledger) Orders(side Side, status Status) ([]Order, error) {
	b, err := newBucket(side, status)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	orders := make([]Order, 0, len(l.buckets[b]))
	for _, o := range l.buckets[b] {
		orders = append(orders, o)
	}
	l.mu.RUnlock()

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedTime != orders[j].CreatedTime {
			return orders[i].CreatedTime < orders[j].CreatedTime
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

func (l *Ledger) Len(side Side, status Status) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets[bucket{side, status}])
}

// InventoryDelta is active buy quantity minus active sell quantity.
func (l *Ledger) InventoryDelta() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inventoryDelta()
}

func (l *Ledger) inventoryDelta() float64 {
	var delta float64
	for _, o := range l.buckets[bucket{Buy, Active}] {
		delta += o.Qty
	}
	for _, o := range l.buckets[bucket{Sell, Active}] {
		delta -= o.Qty
	}
	return delta
}

// SizeToTarget is the absolute quantity to trade to move the inventory delta
// to target.
func (l *Ledger) SizeToTarget(target float64) float64 {
	return math.Abs(l.InventoryDelta() - target)
}
