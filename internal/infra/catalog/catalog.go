// Package catalog loads the store's product catalog from a TOML file
// and presents it as sync-ready knowledge items.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/cartella-shop/cartella/internal/domain"
)

// Product is one catalog entry as declared in the TOML file.
type Product struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
	PriceCents  int64  `toml:"price_cents"`
	Active      bool   `toml:"active"`

	// FileRef points at a document (datasheet, manual) that should be
	// ingested instead of the rendered text.
	FileRef string `toml:"file_ref"`
}

type fileFormat struct {
	Products []Product `toml:"product"`
}

// File reads products from a TOML file on every call, so catalog edits
// are picked up by the next sync without a restart.
type File struct {
	path string
}

// NewFile returns a catalog backed by the TOML file at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Items implements domain.CatalogProvider.
func (f *File) Items(ctx context.Context) ([]domain.CatalogItem, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var parsed fileFormat
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	items := make([]domain.CatalogItem, 0, len(parsed.Products))
	for i, p := range parsed.Products {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog: product %d has no id", i)
		}
		items = append(items, domain.CatalogItem{
			LocalID:  p.ID,
			Content:  Render(p),
			IsActive: p.Active,
			FileRef:  p.FileRef,
		})
	}
	return items, nil
}

// Static is a fixed in-memory catalog, used by tests and one-shot
// invocations that already hold the items.
type Static []domain.CatalogItem

// Items implements domain.CatalogProvider.
func (s Static) Items(ctx context.Context) ([]domain.CatalogItem, error) {
	return s, nil
}

// Render flattens a product into the prose the assistant learns.
// Stable field order keeps fingerprints stable across syncs.
func Render(p Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", p.Name)
	if p.PriceCents > 0 {
		fmt.Fprintf(&b, "Price: $%d.%02d\n", p.PriceCents/100, p.PriceCents%100)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "%s\n", p.Description)
	}
	return b.String()
}
