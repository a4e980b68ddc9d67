package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound = errors.New("ledger: order not found")
	ErrOrderConflict = errors.New("ledger: order id held by another bucket")
	ErrInvalidSide   = errors.New("ledger: invalid side")
	ErrInvalidStatus = errors.New("ledger: invalid status")
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return fmt.Sprintf("side(%d)", int(s))
}

func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "Buy":
		return Buy, nil
	case "sell", "Sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Status is where an order sits in its lifecycle. Pending orders have been
// submitted but not acknowledged by the exchange and carry no inventory risk.
type Status int

const (
	Pending Status = iota
	Active
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return Pending, nil
	case "active":
		return Active, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

type Order struct {
	ID          string  `json:"id"`
	Price       float64 `json:"price"`
	Qty         float64 `json:"qty"`
	PositionIdx uint8   `json:"position_idx"` // exchange position slot
	CreatedTime int64   `json:"created_time"`
	UpdatedTime int64   `json:"updated_time"`
}

// bucket is one (side, status) partition of the ledger.
type bucket struct {
	side   Side
	status Status
}

func newBucket(side Side, status Status) (bucket, error) {
	if side != Buy && side != Sell {
		return bucket{}, fmt.Errorf("%w: %d", ErrInvalidSide, int(side))
	}
	if status != Pending && status != Active {
		return bucket{}, fmt.Errorf("%w: %d", ErrInvalidStatus, int(status))
	}
	return bucket{side: side, status: status}, nil
}

func (b bucket) String() string {
	return b.side.String() + "/" + b.status.String()
}
