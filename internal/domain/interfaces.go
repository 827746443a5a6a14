package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// CatalogProvider supplies the live catalog for a full reconciliation
// pass. The storefront's product store implements this.
type CatalogProvider interface {
	// Items returns every catalog item, including deactivated ones so
	// the reconciler can retract their remote entries.
	Items(ctx context.Context) ([]CatalogItem, error)
}

// KnowledgeStore abstracts persistent knowledge-entry sync metadata.
type KnowledgeStore interface {
	GetEntry(ctx context.Context, localID string) (*KnowledgeEntry, error)
	UpsertEntry(ctx context.Context, e KnowledgeEntry) error
	DeleteEntry(ctx context.Context, localID string) error
	ListEntries(ctx context.Context) ([]KnowledgeEntry, error)
	SetStatus(ctx context.Context, localID string, status SyncStatus) error
}
