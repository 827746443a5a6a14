package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cartella-shop/cartella/internal/domain"
)

const sampleCatalog = `
[[product]]
id = "prod-1"
name = "Walnut Desk"
description = "Solid walnut standing desk, 140x70cm."
price_cents = 84900
active = true

[[product]]
id = "prod-2"
name = "Desk Mat"
price_cents = 2500
active = false

[[product]]
id = "doc-1"
name = "Assembly Guide"
active = true
file_ref = "docs/assembly.pdf"
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileItems(t *testing.T) {
	f := NewFile(writeCatalog(t, sampleCatalog))
	items, err := f.Items(context.Background())
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	if items[0].LocalID != "prod-1" || !items[0].IsActive {
		t.Errorf("prod-1 = %+v", items[0])
	}
	want := "Product: Walnut Desk\nPrice: $849.00\nSolid walnut standing desk, 140x70cm.\n"
	if items[0].Content != want {
		t.Errorf("rendered content = %q, want %q", items[0].Content, want)
	}

	if items[1].IsActive {
		t.Error("prod-2 should be inactive")
	}
	if !items[2].IsFile() || items[2].FileRef != "docs/assembly.pdf" {
		t.Errorf("doc-1 = %+v, want file item", items[2])
	}
}

func TestFileItemsRereadsOnEachCall(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	f := NewFile(path)
	if _, err := f.Items(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(`
[[product]]
id = "prod-9"
name = "Lamp"
active = true
`), 0o644); err != nil {
		t.Fatal(err)
	}
	items, err := f.Items(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].LocalID != "prod-9" {
		t.Errorf("items after rewrite = %+v", items)
	}
}

func TestFileItemsMissingID(t *testing.T) {
	f := NewFile(writeCatalog(t, "[[product]]\nname = \"Nameless\"\n"))
	if _, err := f.Items(context.Background()); err == nil {
		t.Error("expected error for product without id")
	}
}

func TestFileItemsMissingFile(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "nope.toml"))
	if _, err := f.Items(context.Background()); err == nil {
		t.Error("expected error for missing catalog file")
	}
}

func TestStatic(t *testing.T) {
	s := Static{{LocalID: "a", IsActive: true}}
	items, err := s.Items(context.Background())
	if err != nil || len(items) != 1 {
		t.Fatalf("Static.Items = %v, %v", items, err)
	}
	var _ domain.CatalogProvider = s
}
