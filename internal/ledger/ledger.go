// Package ledger implements the balance ledger: per-account prepaid
// credit balances gated by an append-only audit trail.
//
// Concurrency model: all balance mutations for one account serialize
// through a striped in-process lock, and the store applies the mutation
// with a conditional update inside a single SQL transaction. Two
// concurrent debits against the same account can therefore never both
// read a stale balance — one waits, then observes the decremented value.
// Different accounts proceed fully in parallel.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cartella-shop/cartella/internal/domain"
	"github.com/cartella-shop/cartella/internal/infra/observability"
)

// lockStripes bounds lock memory regardless of account cardinality.
const lockStripes = 64

// Store is the persistence boundary the service requires.
// *sqlite.DB implements it.
type Store interface {
	InsertAccount(ctx context.Context, a domain.Account) error
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	ApplyDebit(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error)
	ApplyCredit(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error)
}

// Config controls account provisioning.
type Config struct {
	StandardBalance int64 // Initial credits for standard accounts
	ElevatedBalance int64 // Initial credits for elevated accounts

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StandardBalance: 100,
		ElevatedBalance: 10000,
		Now:             time.Now,
	}
}

// Service is the balance ledger.
type Service struct {
	cfg   Config
	store Store
	locks [lockStripes]sync.Mutex
}

// New creates a ledger service over the given store.
func New(cfg Config, store Store) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg, store: store}
}

func (s *Service) lockFor(accountID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return &s.locks[h.Sum32()%lockStripes]
}

// ─── Provisioning ───────────────────────────────────────────────────────────

// EnsureAccount creates the account with its class's default balance if
// it does not exist yet. Idempotent; the initial grant is recorded as a
// BalanceRefill so the audit trail starts at zero.
func (s *Service) EnsureAccount(ctx context.Context, accountID string, class domain.AccountClass) (*domain.Account, error) {
	mu := s.lockFor(accountID)
	mu.Lock()
	defer mu.Unlock()

	if a, err := s.store.GetAccount(ctx, accountID); err == nil {
		return a, nil
	} else if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}

	now := s.cfg.Now()
	if err := s.store.InsertAccount(ctx, domain.Account{
		AccountID:   accountID,
		Class:       class,
		LastUpdated: now,
		CreatedAt:   now,
	}); err != nil && !errors.Is(err, domain.ErrAccountExists) {
		return nil, err
	}

	grant := s.cfg.StandardBalance
	if class == domain.ClassElevated {
		grant = s.cfg.ElevatedBalance
	}
	if grant > 0 {
		_, err := s.store.ApplyCredit(ctx, domain.Transaction{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			Kind:        domain.KindBalanceRefill,
			Amount:      grant,
			Description: fmt.Sprintf("initial %s balance", class),
			CreatedAt:   now,
		})
		if err != nil {
			return nil, fmt.Errorf("initial grant for %s: %w", accountID, err)
		}
		log.Printf("[ledger] provisioned account %s class=%s balance=%d", accountID, class, grant)
	}

	return s.store.GetAccount(ctx, accountID)
}

// ─── Balance Mutations ──────────────────────────────────────────────────────

// Debit deducts amount credits from the account and appends the audit
// record atomically. amount must be positive.
//
// Returns domain.ErrInsufficientBalance without any mutation when the
// balance cannot cover the amount — an expected, caller-visible
// condition, not a fault. Returns domain.ErrInvalidAmount for a
// non-positive amount: that is a programming-contract violation and
// fails fast.
func (s *Service) Debit(ctx context.Context, accountID string, amount int64, kind domain.TransactionKind, description string, metadata map[string]string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	mu := s.lockFor(accountID)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.ApplyDebit(ctx, domain.Transaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Kind:        kind,
		Amount:      -amount,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   s.cfg.Now(),
	})
	if err != nil {
		observability.LedgerTransactions.WithLabelValues(string(kind), "rejected").Inc()
		return nil, err
	}

	observability.LedgerTransactions.WithLabelValues(string(kind), "ok").Inc()
	observability.LedgerDebitAmount.Observe(float64(amount))
	log.Printf("[ledger] debit account=%s kind=%s amount=%d balance=%d→%d",
		accountID, kind, amount, txn.BalanceBefore, txn.BalanceAfter)
	return txn, nil
}

// Credit adds amount credits to the account (refill or adjustment) and
// appends the audit record atomically. amount must be positive.
func (s *Service) Credit(ctx context.Context, accountID string, amount int64, kind domain.TransactionKind, description string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	mu := s.lockFor(accountID)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.ApplyCredit(ctx, domain.Transaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		CreatedAt:   s.cfg.Now(),
	})
	if err != nil {
		observability.LedgerTransactions.WithLabelValues(string(kind), "rejected").Inc()
		return nil, err
	}

	observability.LedgerTransactions.WithLabelValues(string(kind), "ok").Inc()
	log.Printf("[ledger] credit account=%s kind=%s amount=%d balance=%d→%d",
		accountID, kind, amount, txn.BalanceBefore, txn.BalanceAfter)
	return txn, nil
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// Balance returns the account's current state.
func (s *Service) Balance(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// History returns the account's ledger records, newest first.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, accountID, limit)
}
