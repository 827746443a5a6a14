// Ledger persistence: account rows plus the append-only transaction log.
// Debits and credits mutate the balance and append the record inside a
// single SQL transaction — both succeed or both fail, never partial.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cartella-shop/cartella/internal/domain"
)

// InsertAccount creates a new account row. Returns domain.ErrAccountExists
// if the account is already provisioned.
func (d *DB) InsertAccount(ctx context.Context, a domain.Account) error {
	res, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO accounts (account_id, class, current_balance, total_spent, last_updated, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.AccountID, string(a.Class), a.CurrentBalance, a.TotalSpent, formatTime(a.LastUpdated), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert account %s: %w", a.AccountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAccountExists
	}
	return nil
}

// GetAccount retrieves an account, or domain.ErrAccountNotFound.
func (d *DB) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	var a domain.Account
	var class, updated, created string
	err := d.db.QueryRowContext(ctx, `
		SELECT account_id, class, current_balance, total_spent, last_updated, created_at
		FROM accounts WHERE account_id = ?
	`, accountID).Scan(&a.AccountID, &class, &a.CurrentBalance, &a.TotalSpent, &updated, &created)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}
	a.Class = domain.AccountClass(class)
	a.LastUpdated = parseTime(updated)
	a.CreatedAt = parseTime(created)
	return &a, nil
}

// ApplyDebit atomically deducts amount from the account and appends the
// transaction record. The conditional UPDATE (current_balance >= amount)
// is the floor guard: a stale read can never drive the balance negative.
func (d *DB) ApplyDebit(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error) {
	if txn.Amount >= 0 {
		return nil, domain.ErrInvalidAmount
	}
	return d.apply(ctx, txn)
}

// ApplyCredit atomically adds amount to the account and appends the
// transaction record.
func (d *DB) ApplyCredit(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error) {
	if txn.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	return d.apply(ctx, txn)
}

// apply runs the balance mutation and ledger append in one SQL transaction.
// txn.Amount is signed; BalanceBefore/BalanceAfter are filled here from
// the row actually observed inside the transaction.
func (d *DB) apply(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	var before int64
	err = tx.QueryRowContext(ctx,
		`SELECT current_balance FROM accounts WHERE account_id = ?`, txn.AccountID,
	).Scan(&before)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read balance %s: %w", txn.AccountID, err)
	}

	debit := int64(0)
	if txn.Amount < 0 {
		debit = -txn.Amount
	}
	now := formatTime(txn.CreatedAt)
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET current_balance = current_balance + ?,
		    total_spent     = total_spent + ?,
		    last_updated    = ?
		WHERE account_id = ? AND current_balance + ? >= 0
	`, txn.Amount, debit, now, txn.AccountID, txn.Amount)
	if err != nil {
		return nil, fmt.Errorf("update balance %s: %w", txn.AccountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, domain.ErrInsufficientBalance
	}

	txn.BalanceBefore = before
	txn.BalanceAfter = before + txn.Amount

	meta := "{}"
	if len(txn.Metadata) > 0 {
		b, err := json.Marshal(txn.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, kind, amount, balance_before, balance_after, description, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, txn.ID, txn.AccountID, string(txn.Kind), txn.Amount, txn.BalanceBefore, txn.BalanceAfter, txn.Description, meta, now)
	if err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}
	return &txn, nil
}

// ListTransactions returns the account's ledger records, newest first.
// limit <= 0 returns everything.
func (d *DB) ListTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	q := `
		SELECT id, account_id, kind, amount, balance_before, balance_after, description, metadata, created_at
		FROM transactions WHERE account_id = ? ORDER BY seq DESC`
	args := []any{accountID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var kind, meta, created string
		if err := rows.Scan(&t.ID, &t.AccountID, &kind, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.Description, &meta, &created); err != nil {
			return nil, err
		}
		t.Kind = domain.TransactionKind(kind)
		t.CreatedAt = parseTime(created)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", t.ID, err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
