// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ─── Account Types ──────────────────────────────────────────────────────────

// AccountClass determines the initial credit balance granted at provisioning.
type AccountClass string

const (
	ClassStandard AccountClass = "standard"
	ClassElevated AccountClass = "elevated" // System/admin accounts
)

// Account holds the prepaid credit balance for one storefront account.
type Account struct {
	AccountID      string       `json:"account_id"`
	Class          AccountClass `json:"class"`
	CurrentBalance int64        `json:"current_balance"` // Never negative
	TotalSpent     int64        `json:"total_spent"`     // Monotonic, only increases
	LastUpdated    time.Time    `json:"last_updated"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ─── Transaction Types ──────────────────────────────────────────────────────

// TransactionKind is the business reason for a balance mutation.
type TransactionKind string

const (
	KindChatCompletion  TransactionKind = "CHAT_COMPLETION"
	KindKnowledgeUpdate TransactionKind = "KNOWLEDGE_UPDATE"
	KindReplicaCreation TransactionKind = "REPLICA_CREATION"
	KindBalanceRefill   TransactionKind = "BALANCE_REFILL"
	KindAdjustment      TransactionKind = "ADJUSTMENT"
)

// Transaction is one immutable row in the per-account credit ledger.
// Amount is signed: positive = credit, negative = debit.
// Invariant: BalanceAfter = BalanceBefore + Amount, and consecutive
// records for an account chain (each BalanceBefore equals the prior
// record's BalanceAfter).
type Transaction struct {
	ID            string            `json:"id"`
	AccountID     string            `json:"account_id"`
	Kind          TransactionKind   `json:"kind"`
	Amount        int64             `json:"amount"`
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ─── Knowledge Sync Types ───────────────────────────────────────────────────

// SyncStatus is the local view of a knowledge entry's remote state.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncError   SyncStatus = "ERROR"
)

// KnowledgeEntry maps one local content item to its remote-indexed form.
// Invariant: Status == SyncSynced implies RemoteID != "" and
// Fingerprint matches the content currently stored locally.
type KnowledgeEntry struct {
	LocalID      string     `json:"local_id"`
	RemoteID     string     `json:"remote_id,omitempty"` // Assigned once created remotely
	Fingerprint  string     `json:"fingerprint"`         // Hash of the content last sent
	Status       SyncStatus `json:"status"`
	LastSyncedAt time.Time  `json:"last_synced_at,omitempty"`
}

// CatalogItem is the reconciler's input: one unit of local content with
// its lifecycle flag, supplied by the catalog provider.
type CatalogItem struct {
	LocalID  string `json:"local_id"`
	Content  string `json:"content"`
	IsActive bool   `json:"is_active"`          // false = item deactivated/deleted
	FileRef  string `json:"file_ref,omitempty"` // Non-empty for uploaded files
}

// IsFile reports whether the item's content lives in an uploaded file,
// which the remote service ingests asynchronously.
func (c CatalogItem) IsFile() bool { return c.FileRef != "" }

// ─── Ingestion Types ────────────────────────────────────────────────────────

// IngestionStatus is the remote service's processing state for an entry.
type IngestionStatus string

const (
	IngestSubmitted     IngestionStatus = "SUBMITTED"
	IngestProcessing    IngestionStatus = "PROCESSING"
	IngestReady         IngestionStatus = "READY"
	IngestUnprocessable IngestionStatus = "UNPROCESSABLE"
)

// Terminal reports whether the status ends the polling lifecycle.
func (s IngestionStatus) Terminal() bool {
	return s == IngestReady || s == IngestUnprocessable
}

// ─── Utilities ──────────────────────────────────────────────────────────────

// Fingerprint computes the content hash used to detect drift between
// local content and what was last sent to the remote service.
func Fingerprint(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
