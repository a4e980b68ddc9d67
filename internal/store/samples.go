package store

import (
	"database/sql"
	"time"

	"bookstate/internal/signals"
)

// Record appends one evaluation.
func (s *Store) Record(snap signals.Snapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO signal_samples (
			symbol, evaluated_at, last_update,
			best_bid, best_bid_size, best_ask, best_ask_size,
			mid, spread, crossed, spread_ok,
			skew, range_skew, inventory, size_to_target
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.Symbol, snap.EvaluatedAt.UnixMilli(), snap.LastUpdate,
		snap.BestBid.Price, snap.BestBid.Size, snap.BestAsk.Price, snap.BestAsk.Size,
		snap.Mid, snap.Spread, snap.Crossed, snap.SpreadOK,
		nullable(snap.Skew), nullable(snap.RangeSkew), snap.Inventory, snap.SizeToTarget,
	)
	return err
}

// Recent returns up to limit evaluations for symbol, newest first.
func (s *Store) Recent(symbol string, limit int) ([]signals.Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT symbol, evaluated_at, last_update,
			best_bid, best_bid_size, best_ask, best_ask_size,
			mid, spread, crossed, spread_ok,
			skew, range_skew, inventory, size_to_target
		FROM signal_samples
		WHERE symbol = ?
		ORDER BY id DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []signals.Snapshot
	for rows.Next() {
		var (
			snap            signals.Snapshot
			evaluatedAt     int64
			skew, rangeSkew sql.NullFloat64
		)
		if err := rows.Scan(
			&snap.Symbol, &evaluatedAt, &snap.LastUpdate,
			&snap.BestBid.Price, &snap.BestBid.Size, &snap.BestAsk.Price, &snap.BestAsk.Size,
			&snap.Mid, &snap.Spread, &snap.Crossed, &snap.SpreadOK,
			&skew, &rangeSkew, &snap.Inventory, &snap.SizeToTarget,
		); err != nil {
			return nil, err
		}
		snap.EvaluatedAt = time.UnixMilli(evaluatedAt)
		snap.Skew = pointer(skew)
		snap.RangeSkew = pointer(rangeSkew)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func pointer(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
