package wallet

import (
	"context"
	"database/sql"
	"fmt"
)

// SQL is the SQLite-backed wallet. It shares the server's database
// handle with the store; escrow rows keep their own single-writer
// discipline because only one actor ever holds a given escrow id.
type SQL struct {
	db    *sql.DB
	newID IDSource
}

// NewSQL creates the wallet tables if needed
func NewSQL(db *sql.DB, newID IDSource) (*SQL, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS balances (
			player_id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return nil, fmt.Errorf("create balances table: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS escrows (
			id TEXT PRIMARY KEY,
			player_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			state TEXT NOT NULL DEFAULT 'open',
			delta INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			settled_at TIMESTAMP
		)
	`); err != nil {
		return nil, fmt.Errorf("create escrows table: %w", err)
	}
	return &SQL{db: db, newID: newID}, nil
}

// Credit adds chips to a player's balance, creating the row on first use
func (w *SQL) Credit(ctx context.Context, playerID string, amount int64) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO balances (player_id, balance) VALUES (?, ?)
		ON CONFLICT(player_id) DO UPDATE SET balance = balance + ?
	`, playerID, amount, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", playerID, err)
	}
	return nil
}

// Balance returns the player's available balance
func (w *SQL) Balance(ctx context.Context, playerID string) (int64, error) {
	var balance int64
	err := w.db.QueryRowContext(ctx,
		`SELECT balance FROM balances WHERE player_id = ?`, playerID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", playerID, err)
	}
	return balance, nil
}

func (w *SQL) Reserve(ctx context.Context, playerID string, amount int64) (string, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE balances SET balance = balance - ?
		WHERE player_id = ? AND balance >= ?
	`, amount, playerID, amount)
	if err != nil {
		return "", fmt.Errorf("reserve %s: %w", playerID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrInsufficientBalance
	}

	id := w.newID()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO escrows (id, player_id, amount) VALUES (?, ?, ?)
	`, id, playerID, amount); err != nil {
		return "", fmt.Errorf("reserve %s: %w", playerID, err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func (w *SQL) Settle(ctx context.Context, escrowID string, delta int64) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var playerID string
	var amount int64
	err = tx.QueryRowContext(ctx, `
		SELECT player_id, amount FROM escrows WHERE id = ? AND state = 'open'
	`, escrowID).Scan(&playerID, &amount)
	if err == sql.ErrNoRows {
		return ErrEscrowNotFound
	}
	if err != nil {
		return fmt.Errorf("settle %s: %w", escrowID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE escrows SET state = 'settled', delta = ?, settled_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, delta, escrowID); err != nil {
		return fmt.Errorf("settle %s: %w", escrowID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (player_id, balance) VALUES (?, ?)
		ON CONFLICT(player_id) DO UPDATE SET balance = balance + ?
	`, playerID, amount+delta, amount+delta); err != nil {
		return fmt.Errorf("settle %s: %w", escrowID, err)
	}
	return tx.Commit()
}

func (w *SQL) Release(ctx context.Context, escrowID string) error {
	return w.Settle(ctx, escrowID, 0)
}
