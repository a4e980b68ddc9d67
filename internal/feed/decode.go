package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"bookstate/internal/ledger"
	"bookstate/internal/orderbook"

	"github.com/shopspring/decimal"
)

const (
	bookTopicPrefix = "orderbook."
	orderTopic      = "order"
)

// BookTopic is the public order book topic for symbol at the given depth.
func BookTopic(depth int, symbol string) string {
	return fmt.Sprintf("%s%d.%s", bookTopicPrefix, depth, symbol)
}

// Decode parses one stream frame. Unknown topics are ignored; a failed op
// response is an error.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}

	if env.Op != "" {
		if env.Success != nil && !*env.Success {
			return Message{}, fmt.Errorf("%s rejected: %s", env.Op, env.RetMsg)
		}
		return Message{}, nil
	}

	switch {
	case strings.HasPrefix(env.Topic, bookTopicPrefix):
		u, err := decodeBook(env)
		if err != nil {
			return Message{}, err
		}
		return Message{Book: &u}, nil
	case env.Topic == orderTopic:
		events, err := decodeOrders(env.Data)
		if err != nil {
			return Message{}, err
		}
		return Message{Orders: events}, nil
	}
	return Message{}, nil
}

func decodeBook(env envelope) (BookUpdate, error) {
	var wb wireBook
	if err := json.Unmarshal(env.Data, &wb); err != nil {
		return BookUpdate{}, fmt.Errorf("decode %s: %w", env.Topic, err)
	}

	var snapshot bool
	switch env.Type {
	case "snapshot":
		snapshot = true
	case "delta":
	default:
		return BookUpdate{}, fmt.Errorf("unexpected book message type: %q", env.Type)
	}

	bids, err := parseLevels(wb.Bids, env.Ts)
	if err != nil {
		return BookUpdate{}, err
	}
	asks, err := parseLevels(wb.Asks, env.Ts)
	if err != nil {
		return BookUpdate{}, err
	}

	return BookUpdate{
		Symbol:   wb.Symbol,
		Snapshot: snapshot,
		Ts:       env.Ts,
		Update:   wb.Update,
		Bids:     bids,
		Asks:     asks,
	}, nil
}

func parseLevels(entries [][2]string, ts int64) ([]orderbook.Level, error) {
	levels := make([]orderbook.Level, 0, len(entries))
	for _, e := range entries {
		price, err := parseNumber(e[0])
		if err != nil {
			return nil, fmt.Errorf("expected price to be a decimal; got %q", e[0])
		}
		size, err := parseNumber(e[1])
		if err != nil {
			return nil, fmt.Errorf("expected size to be a decimal; got %q", e[1])
		}
		levels = append(levels, orderbook.Level{Price: price, Size: size, Timestamp: ts})
	}
	return levels, nil
}

func decodeOrders(data json.RawMessage) ([]OrderEvent, error) {
	var wos []wireOrder
	if err := json.Unmarshal(data, &wos); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}

	events := make([]OrderEvent, 0, len(wos))
	for _, wo := range wos {
		side, err := ledger.ParseSide(wo.Side)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", wo.OrderID, err)
		}

		// Market orders report an empty price.
		var price float64
		if wo.Price != "" {
			if price, err = parseNumber(wo.Price); err != nil {
				return nil, fmt.Errorf("order %s: bad price %q", wo.OrderID, wo.Price)
			}
		}
		qty, err := parseNumber(wo.Qty)
		if err != nil {
			return nil, fmt.Errorf("order %s: bad qty %q", wo.OrderID, wo.Qty)
		}
		created, err := parseMillis(wo.CreatedTime)
		if err != nil {
			return nil, fmt.Errorf("order %s: bad createdTime %q", wo.OrderID, wo.CreatedTime)
		}
		updated, err := parseMillis(wo.UpdatedTime)
		if err != nil {
			return nil, fmt.Errorf("order %s: bad updatedTime %q", wo.OrderID, wo.UpdatedTime)
		}

		events = append(events, OrderEvent{
			Symbol: wo.Symbol,
			Side:   side,
			Status: wo.OrderStatus,
			Order: ledger.Order{
				ID:          wo.OrderID,
				Price:       price,
				Qty:         qty,
				PositionIdx: wo.PositionIdx,
				CreatedTime: created,
				UpdatedTime: updated,
			},
		})
	}
	return events, nil
}

func parseNumber(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

func parseMillis(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
