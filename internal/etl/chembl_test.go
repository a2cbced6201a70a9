package etl

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cancervariants/therapy-term-normalization/internal/domain/therapy"
)

func nullStr(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }
func nullInt(n int64) sql.NullInt64   { return sql.NullInt64{Int64: n, Valid: true} }

func TestChEMBLTransform(t *testing.T) {
	src := NewChEMBL(nil, zerolog.Nop(), "27")
	src.mols = []ChEMBLMolecule{
		{
			ChemblID:   "CHEMBL25",
			PrefName:   nullStr("ASPIRIN"),
			MaxPhase:   nullInt(4),
			Withdrawn:  nullInt(0),
			Synonyms:   nullStr("Acetylsalicylic acid||ASA||acetylsalicylic ACID"),
			TradeNames: "Bufferin||Ecotrin",
		},
		{ChemblID: ""}, // malformed, skipped
	}

	sink := newFakeSink()
	w := therapy.NewIndexWriter(sink, zerolog.Nop(), 0)
	if err := src.Transform(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := sink.identityRecord("chembl:CHEMBL25")
	if rec == nil {
		t.Fatal("missing identity record")
	}
	if rec.Label != "ASPIRIN" {
		t.Errorf("label = %q", rec.Label)
	}
	if rec.ApprovalStatus != therapy.ApprovalApproved {
		t.Errorf("approval_status = %q", rec.ApprovalStatus)
	}
	// Case-folded duplicate synonym collapses.
	if !reflect.DeepEqual(rec.Aliases, []string{"Acetylsalicylic acid", "ASA"}) {
		t.Errorf("aliases = %v", rec.Aliases)
	}
	if !reflect.DeepEqual(rec.TradeNames, []string{"Bufferin", "Ecotrin"}) {
		t.Errorf("trade_names = %v", rec.TradeNames)
	}
}

func TestChEMBLApprovalStatus(t *testing.T) {
	cases := []struct {
		name string
		mol  ChEMBLMolecule
		want therapy.ApprovalStatus
	}{
		{"withdrawn wins", ChEMBLMolecule{Withdrawn: nullInt(1), MaxPhase: nullInt(4)}, therapy.ApprovalWithdrawn},
		{"phase 4 approved", ChEMBLMolecule{MaxPhase: nullInt(4)}, therapy.ApprovalApproved},
		{"phase 0 no status", ChEMBLMolecule{MaxPhase: nullInt(0)}, ""},
		{"phase 2 investigational", ChEMBLMolecule{MaxPhase: nullInt(2)}, therapy.ApprovalInvestigational},
		{"no phase investigational", ChEMBLMolecule{}, therapy.ApprovalInvestigational},
	}
	for _, c := range cases {
		if got := chemblApprovalStatus(c.mol); got != c.want {
			t.Errorf("%s: got %q, want %q", c.name, got, c.want)
		}
	}
}

func TestSplitConcat(t *testing.T) {
	got := splitConcat("a|| b ||||c")
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("splitConcat = %v", got)
	}
	if splitConcat("") != nil {
		t.Error("empty input must yield nil")
	}
}

func TestChEMBLExtractWithoutHandle(t *testing.T) {
	src := NewChEMBL(nil, zerolog.Nop(), "27")
	if err := src.Extract(context.Background()); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}
