// Package storage is the persistence boundary for canonical trades and
// remote account connections. De-duplication rides entirely on the
// trades table's unique merge key: concurrent imports may race, but
// the last write of a given key wins and no duplicate rows appear.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/username/tradelog/backend/src/models"
)

type TradeStore struct {
	db *sql.DB
}

func NewTradeStore(db *sql.DB) *TradeStore {
	return &TradeStore{db: db}
}

// UpsertBatch merges one batch of trades for a user. Existing rows with
// the same (provider, login, position_key, external_id) are overwritten
// rather than duplicated, so replaying an import is safe. The returned
// counts split the batch into newly inserted and refreshed rows.
func (s *TradeStore) UpsertBatch(userID int64, trades []models.CanonicalTrade) (inserted, updated int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("error beginning trade upsert transaction: %w", err)
	}
	defer tx.Rollback()

	existsStmt, err := tx.Prepare(`SELECT EXISTS(SELECT 1 FROM trades WHERE user_id = ? AND provider = ? AND login = ? AND position_key = ? AND external_id = ?)`)
	if err != nil {
		return 0, 0, fmt.Errorf("error preparing existence statement: %w", err)
	}
	defer existsStmt.Close()

	upsertStmt, err := tx.Prepare(`
		INSERT INTO trades (user_id, provider, login, symbol, direction, entry_price, exit_price, quantity, pnl, pnl_percent, open_time, close_time, position_key, external_id, source_key, provenance, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider, login, position_key, external_id) DO UPDATE SET
			symbol = excluded.symbol,
			direction = excluded.direction,
			entry_price = excluded.entry_price,
			exit_price = excluded.exit_price,
			quantity = excluded.quantity,
			pnl = excluded.pnl,
			pnl_percent = excluded.pnl_percent,
			open_time = excluded.open_time,
			close_time = excluded.close_time,
			source_key = excluded.source_key,
			provenance = excluded.provenance,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, 0, fmt.Errorf("error preparing upsert statement: %w", err)
	}
	defer upsertStmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, t := range trades {
		// Stats only; the write itself is race-safe regardless.
		var exists bool
		if err := existsStmt.QueryRow(userID, t.Provider, t.Login, t.PositionKey, t.ExternalID).Scan(&exists); err != nil {
			return 0, 0, fmt.Errorf("error checking trade existence (sourceKey: %s): %w", t.SourceKey, err)
		}
		_, err := upsertStmt.Exec(userID, t.Provider, t.Login, t.Symbol, string(t.Direction),
			t.EntryPrice, t.ExitPrice, t.Quantity, t.Pnl, t.PnlPercent,
			t.OpenTime.UTC().Format(time.RFC3339), t.CloseTime.UTC().Format(time.RFC3339),
			t.PositionKey, t.ExternalID, t.SourceKey, t.Provenance, now)
		if err != nil {
			return 0, 0, fmt.Errorf("error upserting trade (sourceKey: %s): %w", t.SourceKey, err)
		}
		if exists {
			updated++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("error committing trade upserts: %w", err)
	}
	return inserted, updated, nil
}

func (s *TradeStore) CountTradesForUser(userID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting trades for userID %d: %w", userID, err)
	}
	return count, nil
}

func (s *TradeStore) CountTradesForLogin(userID int64, provider, login string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE user_id = ? AND provider = ? AND login = ?`, userID, provider, login).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting trades for userID %d login %s: %w", userID, login, err)
	}
	return count, nil
}

// ListTrades returns a user's trades ordered by close time, for
// display purposes only.
func (s *TradeStore) ListTrades(userID int64) ([]models.CanonicalTrade, error) {
	rows, err := s.db.Query(`SELECT symbol, direction, entry_price, exit_price, quantity, pnl, pnl_percent, open_time, close_time, provider, login, position_key, external_id, source_key, provenance FROM trades WHERE user_id = ? ORDER BY close_time ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying trades for userID %d: %w", userID, err)
	}
	defer rows.Close()

	var trades []models.CanonicalTrade
	for rows.Next() {
		var t models.CanonicalTrade
		var direction, openTime, closeTime string
		var pnlPercent sql.NullFloat64
		var provenance sql.NullString
		scanErr := rows.Scan(&t.Symbol, &direction, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.Pnl, &pnlPercent, &openTime, &closeTime, &t.Provider, &t.Login, &t.PositionKey, &t.ExternalID, &t.SourceKey, &provenance)
		if scanErr != nil {
			return nil, fmt.Errorf("error scanning trade row for userID %d: %w", userID, scanErr)
		}
		t.Direction = models.Direction(direction)
		if pnlPercent.Valid {
			t.PnlPercent = pnlPercent.Float64
		}
		if provenance.Valid {
			t.Provenance = provenance.String
		}
		t.OpenTime, _ = time.Parse(time.RFC3339, openTime)
		t.CloseTime, _ = time.Parse(time.RFC3339, closeTime)
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over trade rows for userID %d: %w", userID, err)
	}
	return trades, nil
}
