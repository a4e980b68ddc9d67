package orderbook

import (
	"errors"
	"fmt"
)

var (
	ErrEmptySide     = errors.New("orderbook: side is empty")
	ErrPriceNotFound = errors.New("orderbook: no level at price")
	ErrInvalidSide   = errors.New("orderbook: invalid side")
	ErrInvalidPrice  = errors.New("orderbook: invalid price")
)

type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	}
	return fmt.Sprintf("side(%d)", int(s))
}

// ParseSide accepts "bid"/"buy" and "ask"/"sell".
func ParseSide(s string) (Side, error) {
	switch s {
	case "bid", "buy":
		return Bid, nil
	case "ask", "sell":
		return Ask, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Level is the resting quantity at a single price.
type Level struct {
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Timestamp int64   `json:"ts"` // exchange time, ms
}

func levelLess(a, b Level) bool {
	return a.Price < b.Price
}
