package feed

import (
	"encoding/json"

	"bookstate/internal/ledger"
	"bookstate/internal/orderbook"
)

// envelope is the common shape of every Bybit v5 stream frame: topic data
// pushes as well as op responses (subscribe, auth, pong).
type envelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Ts      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
}

type wireBook struct {
	Symbol string      `json:"s"`
	Bids   [][2]string `json:"b"`
	Asks   [][2]string `json:"a"`
	Update int64       `json:"u"`
	Seq    int64       `json:"seq"`
}

type wireOrder struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	OrderStatus string `json:"orderStatus"`
	PositionIdx uint8  `json:"positionIdx"`
	CreatedTime string `json:"createdTime"`
	UpdatedTime string `json:"updatedTime"`
}

type request struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
}

// BookUpdate is one decoded order book push. Snapshot updates replace the
// whole book; deltas replace individual levels, with size 0 meaning removal.
type BookUpdate struct {
	Symbol   string
	Snapshot bool
	Ts       int64
	Update   int64
	Bids     []orderbook.Level
	Asks     []orderbook.Level
}

// OrderEvent is one of our own orders as reported by the exchange.
type OrderEvent struct {
	Symbol string
	Side   ledger.Side
	Status string // exchange orderStatus
	Order  ledger.Order
}

// Message is a decoded frame. Control frames decode to an empty Message.
type Message struct {
	Book   *BookUpdate
	Orders []OrderEvent
}

func (m Message) Empty() bool {
	return m.Book == nil && len(m.Orders) == 0
}

type Result struct {
	Message Message
	Err     error
}
