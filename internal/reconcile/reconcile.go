// Package reconcile computes and applies the minimal set of remote
// operations needed to bring the remote knowledge base in line with the
// local catalog.
//
// Every remote call is gated by a ledger debit first. A failed remote
// call does NOT refund the debit — the attempt cost is sunk, matching
// the remote service's own non-refundable processing model. Gateway
// failures are isolated per item; only an insufficient balance aborts
// the remaining queue for the account.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cartella-shop/cartella/internal/domain"
	"github.com/cartella-shop/cartella/internal/infra/observability"
)

// SentinelLocalID is the local ID of the "catalog is empty" knowledge
// entry. It keeps the assistant's availability answers accurate when no
// real item is indexed, and is retracted as soon as one is.
const SentinelLocalID = "__catalog_empty__"

// sentinelText is what the remote assistant learns while the catalog
// has no active items.
const sentinelText = "The store catalog is currently empty. No products are available for purchase right now."

// ─── Collaborator Boundaries ────────────────────────────────────────────────

// Gateway is the slice of the remote client the reconciler needs.
type Gateway interface {
	CreateTextEntry(ctx context.Context, text string) (string, error)
	CreateFileEntry(ctx context.Context, fileRef string) (string, error)
	UpdateEntry(ctx context.Context, remoteID, text string) error
	DeleteEntry(ctx context.Context, remoteID string) error
}

// Debitor gates every remote call on the account's prepaid balance.
// *ledger.Service implements it.
type Debitor interface {
	Debit(ctx context.Context, accountID string, amount int64, kind domain.TransactionKind, description string, metadata map[string]string) (*domain.Transaction, error)
}

// IngestTracker follows asynchronous ingestion of file entries.
// *poller.Poller implements it.
type IngestTracker interface {
	Track(remoteID, localID string)
	Cancel(remoteID string)
}

// ─── Report Types ───────────────────────────────────────────────────────────

// Action is what the reconciler decided to do for one item.
type Action string

const (
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionSkip     Action = "skip"
	ActionSentinel Action = "sentinel"
)

// ItemResult records the outcome for one catalog item.
type ItemResult struct {
	LocalID  string `json:"local_id"`
	Action   Action `json:"action"`
	RemoteID string `json:"remote_id,omitempty"`
	Err      string `json:"error,omitempty"`
}

// SyncReport summarizes one reconciliation pass.
type SyncReport struct {
	RunID     string       `json:"run_id"`
	AccountID string       `json:"account_id"`
	StartedAt time.Time    `json:"started_at"`
	Created   int          `json:"created"`
	Updated   int          `json:"updated"`
	Deleted   int          `json:"deleted"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Aborted   bool         `json:"aborted"` // Insufficient balance cut the pass short
	Items     []ItemResult `json:"items"`
}

// ─── Reconciler ─────────────────────────────────────────────────────────────

// Costs are the fixed per-operation debit amounts.
type Costs struct {
	Create int64
	Update int64
	Delete int64
}

// Config controls the reconciler.
type Config struct {
	Costs Costs

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Costs: Costs{Create: 10, Update: 5, Delete: 1},
		Now:   time.Now,
	}
}

// Reconciler drives the local catalog toward the remote knowledge base.
type Reconciler struct {
	cfg     Config
	ledger  Debitor
	gw      Gateway
	entries domain.KnowledgeStore
	tracker IngestTracker // nil disables async ingestion tracking
}

// New creates a reconciler. tracker may be nil when no poller runs
// (one-shot CLI sync).
func New(cfg Config, ledger Debitor, gw Gateway, entries domain.KnowledgeStore, tracker IngestTracker) *Reconciler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{cfg: cfg, ledger: ledger, gw: gw, entries: entries, tracker: tracker}
}

// Reconcile runs a full pass: every supplied catalog item is compared
// against its stored sync metadata, remote operations are applied for
// drift, locally-known entries missing from the catalog are retracted,
// and the catalog-empty sentinel is maintained.
func (r *Reconciler) Reconcile(ctx context.Context, accountID string, items []domain.CatalogItem) (*SyncReport, error) {
	report := &SyncReport{
		RunID:     uuid.NewString(),
		AccountID: accountID,
		StartedAt: r.cfg.Now(),
	}
	log.Printf("[reconciler] run %s account=%s items=%d", report.RunID, accountID, len(items))

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		seen[item.LocalID] = true
		r.reconcileItem(ctx, accountID, item, report)
		if report.Aborted {
			return report, nil
		}
	}

	// Entries we still track but the catalog no longer mentions at all:
	// the owning item was deleted outright, so retract remotely too.
	stored, err := r.entries.ListEntries(ctx)
	if err != nil {
		return report, fmt.Errorf("list entries: %w", err)
	}
	for _, e := range stored {
		if seen[e.LocalID] || e.LocalID == SentinelLocalID {
			continue
		}
		r.deleteEntry(ctx, accountID, e.LocalID, &e, report)
		if report.Aborted {
			return report, nil
		}
	}

	r.maintainSentinel(ctx, accountID, items, report)

	log.Printf("[reconciler] run %s done created=%d updated=%d deleted=%d skipped=%d failed=%d aborted=%v",
		report.RunID, report.Created, report.Updated, report.Deleted, report.Skipped, report.Failed, report.Aborted)
	return report, nil
}

// ReconcileItem applies a single catalog change event without running
// the full-pass orphan sweep or sentinel maintenance.
func (r *Reconciler) ReconcileItem(ctx context.Context, accountID string, item domain.CatalogItem) (*SyncReport, error) {
	report := &SyncReport{
		RunID:     uuid.NewString(),
		AccountID: accountID,
		StartedAt: r.cfg.Now(),
	}
	r.reconcileItem(ctx, accountID, item, report)
	return report, nil
}

// ─── Per-Item Logic ─────────────────────────────────────────────────────────

func (r *Reconciler) reconcileItem(ctx context.Context, accountID string, item domain.CatalogItem, report *SyncReport) {
	existing, err := r.entries.GetEntry(ctx, item.LocalID)
	if err != nil && !errors.Is(err, domain.ErrEntryNotFound) {
		r.recordFailure(report, item.LocalID, ActionSkip, err)
		return
	}

	if !item.IsActive {
		if existing == nil {
			// Nothing indexed for a dead item: no-op.
			r.recordSkip(report, item.LocalID)
			return
		}
		r.deleteEntry(ctx, accountID, item.LocalID, existing, report)
		return
	}

	fp := itemFingerprint(item)

	switch {
	case existing == nil || existing.RemoteID == "":
		r.createEntry(ctx, accountID, item, fp, report)
	case existing.Fingerprint != fp && item.IsFile():
		// File entries cannot be updated in place remotely: retract the
		// stale upload, then submit the new one.
		r.deleteEntry(ctx, accountID, item.LocalID, existing, report)
		if !report.Aborted {
			r.createEntry(ctx, accountID, item, fp, report)
		}
	case existing.Fingerprint != fp:
		r.updateEntry(ctx, accountID, item, existing, fp, report)
	case existing.Status == domain.SyncSynced || existing.Status == domain.SyncPending:
		// Content already sent; Pending means ingestion is in flight,
		// which is not drift.
		r.recordSkip(report, item.LocalID)
	case item.IsFile():
		// Errored file upload: resubmit from scratch.
		r.deleteEntry(ctx, accountID, item.LocalID, existing, report)
		if !report.Aborted {
			r.createEntry(ctx, accountID, item, fp, report)
		}
	default:
		// Fingerprint matches but the last attempt errored: a fresh
		// pass retries the update.
		r.updateEntry(ctx, accountID, item, existing, fp, report)
	}
}

func (r *Reconciler) createEntry(ctx context.Context, accountID string, item domain.CatalogItem, fp string, report *SyncReport) {
	if !r.debit(ctx, accountID, r.cfg.Costs.Create, "knowledge create", item.LocalID, report, ActionCreate) {
		return
	}

	var remoteID string
	var err error
	if item.IsFile() {
		remoteID, err = r.gw.CreateFileEntry(ctx, item.FileRef)
	} else {
		remoteID, err = r.gw.CreateTextEntry(ctx, item.Content)
	}
	if err != nil {
		// Sunk cost: the debit stands, the entry is marked errored.
		r.storeStatus(ctx, domain.KnowledgeEntry{
			LocalID: item.LocalID, Fingerprint: fp, Status: domain.SyncError,
		})
		r.recordFailure(report, item.LocalID, ActionCreate, err)
		return
	}

	entry := domain.KnowledgeEntry{
		LocalID:     item.LocalID,
		RemoteID:    remoteID,
		Fingerprint: fp,
	}
	if item.IsFile() {
		// Files pass through the asynchronous ingestion pipeline; the
		// poller flips the status once the remote side finishes.
		entry.Status = domain.SyncPending
		r.storeStatus(ctx, entry)
		if r.tracker != nil {
			r.tracker.Track(remoteID, item.LocalID)
		}
	} else {
		entry.Status = domain.SyncSynced
		entry.LastSyncedAt = r.cfg.Now()
		r.storeStatus(ctx, entry)
	}

	report.Created++
	report.Items = append(report.Items, ItemResult{LocalID: item.LocalID, Action: ActionCreate, RemoteID: remoteID})
	observability.ReconcileActions.WithLabelValues(string(ActionCreate), "ok").Inc()
}

func (r *Reconciler) updateEntry(ctx context.Context, accountID string, item domain.CatalogItem, existing *domain.KnowledgeEntry, fp string, report *SyncReport) {
	if !r.debit(ctx, accountID, r.cfg.Costs.Update, "knowledge update", item.LocalID, report, ActionUpdate) {
		return
	}

	if err := r.gw.UpdateEntry(ctx, existing.RemoteID, item.Content); err != nil {
		r.storeStatus(ctx, domain.KnowledgeEntry{
			LocalID: item.LocalID, RemoteID: existing.RemoteID,
			Fingerprint: fp, Status: domain.SyncError,
		})
		r.recordFailure(report, item.LocalID, ActionUpdate, err)
		return
	}

	r.storeStatus(ctx, domain.KnowledgeEntry{
		LocalID:      item.LocalID,
		RemoteID:     existing.RemoteID,
		Fingerprint:  fp,
		Status:       domain.SyncSynced,
		LastSyncedAt: r.cfg.Now(),
	})
	report.Updated++
	report.Items = append(report.Items, ItemResult{LocalID: item.LocalID, Action: ActionUpdate, RemoteID: existing.RemoteID})
	observability.ReconcileActions.WithLabelValues(string(ActionUpdate), "ok").Inc()
}

func (r *Reconciler) deleteEntry(ctx context.Context, accountID, localID string, existing *domain.KnowledgeEntry, report *SyncReport) {
	if !r.debit(ctx, accountID, r.cfg.Costs.Delete, "knowledge delete", localID, report, ActionDelete) {
		return
	}

	// The local entry is dropped regardless of the remote outcome:
	// a remote-side orphan is acceptable garbage, a local ghost is not.
	if existing.RemoteID != "" {
		if err := r.gw.DeleteEntry(ctx, existing.RemoteID); err != nil {
			log.Printf("[reconciler] delete %s remote=%s failed, dropping locally anyway: %v",
				localID, existing.RemoteID, err)
		}
		if r.tracker != nil {
			r.tracker.Cancel(existing.RemoteID)
		}
	}
	if err := r.entries.DeleteEntry(ctx, localID); err != nil {
		r.recordFailure(report, localID, ActionDelete, err)
		return
	}

	report.Deleted++
	report.Items = append(report.Items, ItemResult{LocalID: localID, Action: ActionDelete})
	observability.ReconcileActions.WithLabelValues(string(ActionDelete), "ok").Inc()
}

// ─── Sentinel Maintenance ───────────────────────────────────────────────────

func (r *Reconciler) maintainSentinel(ctx context.Context, accountID string, items []domain.CatalogItem, report *SyncReport) {
	active := 0
	for _, item := range items {
		if item.IsActive {
			active++
		}
	}

	sentinel, err := r.entries.GetEntry(ctx, SentinelLocalID)
	if err != nil && !errors.Is(err, domain.ErrEntryNotFound) {
		r.recordFailure(report, SentinelLocalID, ActionSentinel, err)
		return
	}

	if active == 0 {
		if sentinel != nil && sentinel.Status == domain.SyncSynced {
			return // Already in place.
		}
		if !r.debit(ctx, accountID, r.cfg.Costs.Create, "catalog-empty sentinel", SentinelLocalID, report, ActionSentinel) {
			return
		}
		remoteID, err := r.gw.CreateTextEntry(ctx, sentinelText)
		if err != nil {
			r.recordFailure(report, SentinelLocalID, ActionSentinel, err)
			return
		}
		r.storeStatus(ctx, domain.KnowledgeEntry{
			LocalID:      SentinelLocalID,
			RemoteID:     remoteID,
			Fingerprint:  domain.Fingerprint(sentinelText),
			Status:       domain.SyncSynced,
			LastSyncedAt: r.cfg.Now(),
		})
		report.Items = append(report.Items, ItemResult{LocalID: SentinelLocalID, Action: ActionSentinel, RemoteID: remoteID})
		observability.ReconcileActions.WithLabelValues(string(ActionSentinel), "ok").Inc()
		log.Printf("[reconciler] catalog empty, sentinel entry placed")
		return
	}

	// Real items exist again: retract the sentinel once any is synced.
	if sentinel != nil && r.anySynced(ctx) {
		r.deleteEntry(ctx, accountID, SentinelLocalID, sentinel, report)
	}
}

func (r *Reconciler) anySynced(ctx context.Context) bool {
	entries, err := r.entries.ListEntries(ctx)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.LocalID != SentinelLocalID && e.Status == domain.SyncSynced {
			return true
		}
	}
	return false
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// debit gates a remote operation. Returns false if the operation must
// not proceed; an insufficient balance additionally aborts the pass.
func (r *Reconciler) debit(ctx context.Context, accountID string, cost int64, what, localID string, report *SyncReport, action Action) bool {
	_, err := r.ledger.Debit(ctx, accountID, cost, domain.KindKnowledgeUpdate, what,
		map[string]string{"local_id": localID})
	if err == nil {
		return true
	}

	if errors.Is(err, domain.ErrInsufficientBalance) {
		report.Aborted = true
		report.Items = append(report.Items, ItemResult{
			LocalID: localID, Action: action, Err: domain.ErrInsufficientBalance.Error(),
		})
		observability.ReconcileActions.WithLabelValues(string(action), "insufficient_balance").Inc()
		log.Printf("[reconciler] account %s out of credits, aborting pass", accountID)
		return false
	}

	r.recordFailure(report, localID, action, err)
	return false
}

func (r *Reconciler) storeStatus(ctx context.Context, e domain.KnowledgeEntry) {
	if err := r.entries.UpsertEntry(ctx, e); err != nil {
		log.Printf("[reconciler] persist entry %s: %v", e.LocalID, err)
	}
}

func (r *Reconciler) recordSkip(report *SyncReport, localID string) {
	report.Skipped++
	report.Items = append(report.Items, ItemResult{LocalID: localID, Action: ActionSkip})
	observability.ReconcileActions.WithLabelValues(string(ActionSkip), "ok").Inc()
}

func (r *Reconciler) recordFailure(report *SyncReport, localID string, action Action, err error) {
	report.Failed++
	report.Items = append(report.Items, ItemResult{LocalID: localID, Action: action, Err: err.Error()})
	observability.ReconcileActions.WithLabelValues(string(action), "error").Inc()
	log.Printf("[reconciler] item %s %s failed: %v", localID, action, err)
}

// itemFingerprint hashes what will actually be sent remotely: the text
// content for plain items, the file reference for uploads.
func itemFingerprint(item domain.CatalogItem) string {
	if item.IsFile() {
		return domain.Fingerprint(item.FileRef)
	}
	return domain.Fingerprint(item.Content)
}
