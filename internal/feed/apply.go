package feed

import (
	"fmt"
	"log"

	"bookstate/internal/ledger"
	"bookstate/internal/orderbook"
)

// ApplyBook writes one book update into book as a single write, so readers
// never see a partly applied snapshot or delta.
func ApplyBook(book *orderbook.Book, u BookUpdate) error {
	if !sameSymbol(book.Symbol, u.Symbol) {
		return fmt.Errorf("book update for %s applied to %s", u.Symbol, book.Symbol)
	}

	if u.Snapshot {
		return book.Replace(u.Ts, u.Bids, u.Asks)
	}
	return book.Update(u.Bids, u.Asks)
}

// ApplyOrders moves our orders for symbol through the ledger according to the
// exchange's orderStatus. The private order topic carries every instrument on
// the account; events for other symbols are logged and skipped, as are
// unknown statuses.
func ApplyOrders(symbol string, l *ledger.Ledger, events []OrderEvent) error {
	for _, ev := range events {
		id := ev.Order.ID
		if !sameSymbol(symbol, ev.Symbol) {
			log.Printf("[feed] order %s: ignoring %s order on %s book", id, ev.Symbol, symbol)
			continue
		}
		switch ev.Status {
		case "Created", "Untriggered", "Triggered":
			if _, err := l.Add(ev.Side, ledger.Pending, ev.Order); err != nil {
				return err
			}
		case "New", "PartiallyFilled":
			if err := l.Remove(ev.Side, ledger.Pending, id); err != nil {
				return err
			}
			if _, err := l.Add(ev.Side, ledger.Active, ev.Order); err != nil {
				return err
			}
		case "Filled", "Cancelled", "Rejected", "PartiallyFilledCanceled", "Deactivated":
			if err := l.Remove(ev.Side, ledger.Pending, id); err != nil {
				return err
			}
			if err := l.Remove(ev.Side, ledger.Active, id); err != nil {
				return err
			}
		default:
			log.Printf("[feed] order %s: ignoring status %q", id, ev.Status)
		}
	}
	return nil
}

// Apply routes a decoded message to the book and the ledger.
func Apply(book *orderbook.Book, l *ledger.Ledger, msg Message) error {
	if msg.Book != nil {
		if err := ApplyBook(book, *msg.Book); err != nil {
			return err
		}
	}
	if len(msg.Orders) > 0 {
		return ApplyOrders(book.Symbol, l, msg.Orders)
	}
	return nil
}

// sameSymbol treats an empty symbol on either side as a match.
func sameSymbol(want, got string) bool {
	return want == "" || got == "" || want == got
}
