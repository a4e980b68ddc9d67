package ledger

import (
	"errors"
	"testing"
)

func mustAdd(t *testing.T, l *Ledger, side Side, status Status, o Order) string {
	t.Helper()
	id, err := l.Add(side, status, o)
	if err != nil {
		t.Fatalf("add %s: %v", o.ID, err)
	}
	return id
}

func TestAddAndGet(t *testing.T) {
	l := New()
	mustAdd(t, l, Buy, Active, Order{
		ID:          "1234",
		Price:       12.5,
		Qty:         2.5,
		PositionIdx: 1,
		CreatedTime: 1_000_000,
		UpdatedTime: 1_000_100,
	})
	mustAdd(t, l, Sell, Active, Order{ID: "12345", Price: 12.5, Qty: 2.5, PositionIdx: 2})

	if n := l.Len(Buy, Active); n != 1 {
		t.Errorf("expected 1 active buy, got %d", n)
	}
	if n := l.Len(Sell, Active); n != 1 {
		t.Errorf("expected 1 active sell, got %d", n)
	}

	o, err := l.Get(Buy, Active, "1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Qty != 2.5 || o.PositionIdx != 1 || o.UpdatedTime != 1_000_100 {
		t.Errorf("unexpected order: %+v", o)
	}
}

func TestGetMissing(t *testing.T) {
	l := New()
	mustAdd(t, l, Buy, Pending, Order{ID: "a", Qty: 1})

	if _, err := l.Get(Buy, Active, "a"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound from wrong bucket, got %v", err)
	}
	if _, err := l.Get(Sell, Pending, "zzz"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	l := New()
	mustAdd(t, l, Buy, Active, Order{ID: "a", Qty: 5})

	o, _ := l.Get(Buy, Active, "a")
	o.Qty = 500

	again, _ := l.Get(Buy, Active, "a")
	if again.Qty != 5 {
		t.Errorf("expected stored qty 5, got %v", again.Qty)
	}
}

func TestAddOverwritesSameBucket(t *testing.T) {
	l := New()
	mustAdd(t, l, Sell, Pending, Order{ID: "a", Qty: 1, Price: 10})
	mustAdd(t, l, Sell, Pending, Order{ID: "a", Qty: 3, Price: 11})

	if n := l.Len(Sell, Pending); n != 1 {
		t.Fatalf("expected 1 order, got %d", n)
	}
	o, _ := l.Get(Sell, Pending, "a")
	if o.Qty != 3 || o.Price != 11 {
		t.Errorf("expected last write to win, got %+v", o)
	}
}

func TestAddRejectsIDInOtherBucket(t *testing.T) {
	l := New()
	mustAdd(t, l, Buy, Pending, Order{ID: "a", Qty: 1})

	if _, err := l.Add(Buy, Active, Order{ID: "a", Qty: 1}); !errors.Is(err, ErrOrderConflict) {
		t.Errorf("expected ErrOrderConflict, got %v", err)
	}
	if _, err := l.Add(Sell, Pending, Order{ID: "a", Qty: 1}); !errors.Is(err, ErrOrderConflict) {
		t.Errorf("expected ErrOrderConflict across sides, got %v", err)
	}
	if l.Len(Buy, Active) != 0 || l.Len(Sell, Pending) != 0 {
		t.Error("rejected add must not store the order")
	}
}

func TestAddGeneratesID(t *testing.T) {
	l := New()
	id := mustAdd(t, l, Buy, Pending, Order{Qty: 1})
	if id == "" {
		t.Fatal("expected generated id")
	}
	o, err := l.Get(Buy, Pending, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.ID != id {
		t.Errorf("expected stored id %s, got %s", id, o.ID)
	}

	// The generated id follows the order through acknowledgement
	if err := l.Acknowledge(Buy, id); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if d := l.InventoryDelta(); d != 1 {
		t.Errorf("expected delta 1 after acknowledgement, got %v", d)
	}

	other := mustAdd(t, l, Buy, Pending, Order{Qty: 1})
	if other == id {
		t.Error("expected distinct generated ids")
	}
}

func TestAddRejectsInvalidSelector(t *testing.T) {
	l := New()
	if _, err := l.Add(Side(9), Active, Order{ID: "a"}); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}
	if _, err := l.Add(Buy, Status(9), Order{ID: "a"}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	l := New()
	mustAdd(t, l, Buy, Active, Order{ID: "a", Qty: 1})

	if err := l.Remove(Buy, Active, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.Get(Buy, Active, "a"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected order removed, got %v", err)
	}

	// Absent id is a no-op
	if err := l.Remove(Buy, Active, "a"); err != nil {
		t.Errorf("expected no error removing absent id, got %v", err)
	}

	// The id is free for another bucket once removed
	mustAdd(t, l, Sell, Pending, Order{ID: "a", Qty: 1})
}

func TestRemoveFromWrongBucketKeepsOrder(t *testing.T) {
	l := New()
	mustAdd(t, l, Buy, Pending, Order{ID: "a", Qty: 1})

	l.Remove(Buy, Active, "a")
	if _, err := l.Get(Buy, Pending, "a"); err != nil {
		t.Errorf("expected pending order to survive, got %v", err)
	}
}

func TestAcknowledge(t *testing.T) {
	l := New()
	mustAdd(t, l, Sell, Pending, Order{ID: "a", Qty: 4})

	if err := l.Acknowledge(Sell, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Len(Sell, Pending) != 0 || l.Len(Sell, Active) != 1 {
		t.Errorf("expected order moved to active, got %d pending %d active",
			l.Len(Sell, Pending), l.Len(Sell, Active))
	}
	if d := l.InventoryDelta(); d != -4 {
		t.Errorf("expected delta -4, got %v", d)
	}

	if err := l.Acknowledge(Sell, "a"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound on second ack, got %v", err)
	}
}

func TestInventoryDelta(t *testing.T) {
	l := New()
	mustAdd(t, l, Buy, Active, Order{ID: "b1", Qty: 5})
	mustAdd(t, l, Buy, Active, Order{ID: "b2", Qty: 10})
	mustAdd(t, l, Sell, Active, Order{ID: "s1", Qty: 3})
	mustAdd(t, l, Sell, Active, Order{ID: "s2", Qty: 10})

	if d := l.InventoryDelta(); d != 2 {
		t.Errorf("expected delta 2, got %v", d)
	}

	// Pending orders carry no inventory
	mustAdd(t, l, Buy, Pending, Order{ID: "bp", Qty: 1000})
	mustAdd(t, l, Sell, Pending, Order{ID: "sp", Qty: 77})
	if d := l.InventoryDelta(); d != 2 {
		t.Errorf("expected delta 2 with pending orders, got %v", d)
	}

	if s := l.SizeToTarget(0); s != 2 {
		t.Errorf("expected size to target 2, got %v", s)
	}
	if s := l.SizeToTarget(5); s != 3 {
		t.Errorf("expected size to target 3, got %v", s)
	}
}

func TestOrdersSortedAndCopied(t *testing.T) {
	l := New()
	mustAdd(t, l, Buy, Active, Order{ID: "c", CreatedTime: 3})
	mustAdd(t, l, Buy, Active, Order{ID: "b", CreatedTime: 1})
	mustAdd(t, l, Buy, Active, Order{ID: "a", CreatedTime: 3})

	orders, err := l.Orders(Buy, Active)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ids []string
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "a" || ids[2] != "c" {
		t.Errorf("expected [b a c], got %v", ids)
	}

	if _, err := l.Orders(Buy, Status(5)); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestParseSelectors(t *testing.T) {
	if s, err := ParseSide("Buy"); err != nil || s != Buy {
		t.Errorf("ParseSide(Buy) = %v, %v", s, err)
	}
	if s, err := ParseStatus("active"); err != nil || s != Active {
		t.Errorf("ParseStatus(active) = %v, %v", s, err)
	}
	if _, err := ParseStatus("cancelled"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}
