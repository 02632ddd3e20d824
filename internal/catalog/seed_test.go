package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/surajgopal85/talktor/internal/catalog"
)

const seedYAML = `medications:
  - drug_name: dipirona
    canonical_name: metamizole
    drug_class: [analgesic]
    indications: [pain relief, fever reduction]
    pregnancy_category: C
    translations:
      en: metamizole
      es: dipirona
  - drug_name: loratadine
    brand_names: [Claritin]
    indications: [allergic rhinitis]
    pregnancy_category: B
`

func TestLoadSeedsFromReader(t *testing.T) {
	t.Parallel()

	recs, err := catalog.LoadSeedsFromReader(strings.NewReader(seedYAML))
	if err != nil {
		t.Fatalf("LoadSeedsFromReader: unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("LoadSeedsFromReader: expected 2 records, got %d", len(recs))
	}
	if recs[0].CanonicalName != "metamizole" {
		t.Fatalf("record 0: expected canonical metamizole, got %q", recs[0].CanonicalName)
	}
	// canonical_name defaults to drug_name when omitted.
	if recs[1].CanonicalName != "loratadine" {
		t.Fatalf("record 1: expected canonical defaulted to loratadine, got %q", recs[1].CanonicalName)
	}
	if recs[0].Source != "seed" {
		t.Fatalf("record 0: expected source seed, got %q", recs[0].Source)
	}
}

func TestLoadSeedsFromReaderErrors(t *testing.T) {
	t.Parallel()

	t.Run("unknown field rejected", func(t *testing.T) {
		t.Parallel()
		_, err := catalog.LoadSeedsFromReader(strings.NewReader("medications:\n  - drug_name: x\n    bogus_field: y\n"))
		if err == nil {
			t.Fatal("LoadSeedsFromReader: expected error for unknown field")
		}
	})

	t.Run("missing drug_name rejected", func(t *testing.T) {
		t.Parallel()
		_, err := catalog.LoadSeedsFromReader(strings.NewReader("medications:\n  - canonical_name: x\n"))
		if err == nil {
			t.Fatal("LoadSeedsFromReader: expected error for empty drug_name")
		}
	})
}

func TestLoadSeedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seeds.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	recs, err := catalog.LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile: unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("LoadSeedFile: expected 2 records, got %d", len(recs))
	}

	if _, err := catalog.LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadSeedFile: expected error for missing file")
	}
}

func TestWithSeedsExtendsAndOverrides(t *testing.T) {
	t.Parallel()

	recs, err := catalog.LoadSeedsFromReader(strings.NewReader(seedYAML))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	override := catalog.Record{
		DrugName:          "warfarin",
		CanonicalName:     "warfarin sodium",
		PregnancyCategory: "X",
		Source:            "seed",
	}
	c := catalog.New(catalog.WithoutRemote(), catalog.WithSeeds(append(recs, override)))
	ctx := context.Background()

	t.Run("file seed resolves", func(t *testing.T) {
		t.Parallel()
		rec := c.Lookup(ctx, "dipirona", "general")
		if rec.CanonicalName != "metamizole" {
			t.Fatalf("Lookup: expected metamizole, got %q", rec.CanonicalName)
		}
	})

	t.Run("later seed wins name collision", func(t *testing.T) {
		t.Parallel()
		rec := c.Lookup(ctx, "warfarin", "general")
		if rec.CanonicalName != "warfarin sodium" {
			t.Fatalf("Lookup: expected override record, got %q", rec.CanonicalName)
		}
	})
}
