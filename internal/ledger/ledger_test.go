package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cartella-shop/cartella/internal/domain"
	"github.com/cartella-shop/cartella/internal/infra/sqlite"
)

func testService(t *testing.T) *Service {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(DefaultConfig(), db)
}

func mustEnsure(t *testing.T, s *Service, id string, class domain.AccountClass) {
	t.Helper()
	if _, err := s.EnsureAccount(context.Background(), id, class); err != nil {
		t.Fatalf("EnsureAccount(%s): %v", id, err)
	}
}

// ─── Provisioning ───────────────────────────────────────────────────────────

func TestEnsureAccount_DefaultBalances(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	std, err := s.EnsureAccount(ctx, "user-1", domain.ClassStandard)
	if err != nil {
		t.Fatal(err)
	}
	if std.CurrentBalance != 100 {
		t.Errorf("standard balance = %d, want 100", std.CurrentBalance)
	}

	sys, err := s.EnsureAccount(ctx, "admin-1", domain.ClassElevated)
	if err != nil {
		t.Fatal(err)
	}
	if sys.CurrentBalance != 10000 {
		t.Errorf("elevated balance = %d, want 10000", sys.CurrentBalance)
	}

	// The initial grant is on the audit trail.
	hist, err := s.History(ctx, "user-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Kind != domain.KindBalanceRefill {
		t.Errorf("history = %+v, want one BALANCE_REFILL grant", hist)
	}
}

func TestEnsureAccount_Idempotent(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	mustEnsure(t, s, "user-1", domain.ClassStandard)
	if _, err := s.Debit(ctx, "user-1", 30, domain.KindChatCompletion, "chat", nil); err != nil {
		t.Fatal(err)
	}

	// Re-ensuring must not re-grant or reset.
	a, err := s.EnsureAccount(ctx, "user-1", domain.ClassStandard)
	if err != nil {
		t.Fatal(err)
	}
	if a.CurrentBalance != 70 {
		t.Errorf("balance after re-ensure = %d, want 70", a.CurrentBalance)
	}
}

// ─── Debit / Credit ─────────────────────────────────────────────────────────

func TestDebit_Success(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	mustEnsure(t, s, "user-1", domain.ClassStandard)

	txn, err := s.Debit(ctx, "user-1", 15, domain.KindChatCompletion, "assistant chat", map[string]string{"conversation": "c-1"})
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if txn.Amount != -15 {
		t.Errorf("Amount = %d, want -15 (debits are negative ledger entries)", txn.Amount)
	}
	if txn.BalanceBefore != 100 || txn.BalanceAfter != 85 {
		t.Errorf("balances = %d→%d, want 100→85", txn.BalanceBefore, txn.BalanceAfter)
	}
	if txn.ID == "" {
		t.Error("transaction ID not assigned")
	}
}

func TestDebit_Insufficient(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	mustEnsure(t, s, "user-1", domain.ClassStandard)

	_, err := s.Debit(ctx, "user-1", 101, domain.KindReplicaCreation, "replica", nil)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}

	a, _ := s.Balance(ctx, "user-1")
	if a.CurrentBalance != 100 || a.TotalSpent != 0 {
		t.Errorf("rejected debit mutated account: %+v", a)
	}
}

func TestDebit_ContractViolations(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	mustEnsure(t, s, "user-1", domain.ClassStandard)

	if _, err := s.Debit(ctx, "user-1", 0, domain.KindChatCompletion, "", nil); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount error = %v, want ErrInvalidAmount", err)
	}
	if _, err := s.Debit(ctx, "user-1", -5, domain.KindChatCompletion, "", nil); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("negative amount error = %v, want ErrInvalidAmount", err)
	}
	if _, err := s.Debit(ctx, "ghost", 5, domain.KindChatCompletion, "", nil); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("unknown account error = %v, want ErrAccountNotFound", err)
	}
}

func TestCredit_Refill(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	mustEnsure(t, s, "user-1", domain.ClassStandard)

	txn, err := s.Credit(ctx, "user-1", 500, domain.KindBalanceRefill, "purchased credits")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if txn.BalanceAfter != 600 {
		t.Errorf("BalanceAfter = %d, want 600", txn.BalanceAfter)
	}
}

// ─── Concurrency ────────────────────────────────────────────────────────────

// Balance 100, two concurrent debits of 15 — both succeed,
// final balance 70, and the two records chain 100→85→70.
func TestDebit_ConcurrentBothSucceed(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	mustEnsure(t, s, "user-1", domain.ClassStandard)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Debit(ctx, "user-1", 15, domain.KindChatCompletion, "chat", nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("debit %d failed: %v", i, err)
		}
	}

	a, _ := s.Balance(ctx, "user-1")
	if a.CurrentBalance != 70 {
		t.Errorf("final balance = %d, want 70", a.CurrentBalance)
	}

	hist, _ := s.History(ctx, "user-1", 0)
	// Newest first: debit(85→70), debit(100→85), initial grant.
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	if hist[0].BalanceBefore != 85 || hist[0].BalanceAfter != 70 {
		t.Errorf("latest record = %d→%d, want 85→70", hist[0].BalanceBefore, hist[0].BalanceAfter)
	}
	if hist[1].BalanceBefore != 100 || hist[1].BalanceAfter != 85 {
		t.Errorf("prior record = %d→%d, want 100→85", hist[1].BalanceBefore, hist[1].BalanceAfter)
	}
}

// Only the debits the balance can cover may succeed, no matter the
// interleaving; the rest see ErrInsufficientBalance and mutate nothing.
func TestDebit_ConcurrentNeverOverdraws(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	mustEnsure(t, s, "user-1", domain.ClassStandard) // 100 credits

	const workers = 10
	const amount = 15 // 10×15 = 150 > 100, so at most 6 can succeed

	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.Debit(ctx, "user-1", amount, domain.KindChatCompletion, "chat", nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientBalance):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 6 {
		t.Errorf("%d debits succeeded, want 6", succeeded)
	}

	a, _ := s.Balance(ctx, "user-1")
	if a.CurrentBalance != 100-6*amount {
		t.Errorf("final balance = %d, want %d", a.CurrentBalance, 100-6*amount)
	}
	if a.CurrentBalance < 0 {
		t.Error("balance went negative")
	}

	// Full chain check over every record.
	hist, _ := s.History(ctx, "user-1", 0)
	for i := len(hist) - 2; i >= 0; i-- {
		if hist[i].BalanceBefore != hist[i+1].BalanceAfter {
			t.Errorf("chain break at %s: before=%d, prior after=%d",
				hist[i].ID, hist[i].BalanceBefore, hist[i+1].BalanceAfter)
		}
	}
}

func TestDebit_DifferentAccountsParallel(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	accounts := []string{"user-a", "user-b", "user-c", "user-d"}
	for _, id := range accounts {
		mustEnsure(t, s, id, domain.ClassStandard)
	}

	var wg sync.WaitGroup
	for _, id := range accounts {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := s.Debit(ctx, id, 10, domain.KindKnowledgeUpdate, "sync", nil); err != nil {
					t.Errorf("debit %s: %v", id, err)
				}
			}(id)
		}
	}
	wg.Wait()

	for _, id := range accounts {
		a, _ := s.Balance(ctx, id)
		if a.CurrentBalance != 50 {
			t.Errorf("%s balance = %d, want 50", id, a.CurrentBalance)
		}
	}
}

// ─── History ────────────────────────────────────────────────────────────────

func TestHistory_UnknownAccount(t *testing.T) {
	s := testService(t)
	if _, err := s.History(context.Background(), "ghost", 10); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("error = %v, want ErrAccountNotFound", err)
	}
}
