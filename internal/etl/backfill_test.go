package etl

import (
	"context"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cancervariants/therapy-term-normalization/internal/domain/therapy"
)

func seedLegacyRecords(t *testing.T, sink *fakeSink) {
	t.Helper()
	ctx := context.Background()

	// Legacy DrugBank record: everything was filed as an xref before the
	// shared classifier existed.
	legacy := &therapy.Record{
		ConceptID: "drugbank:DB00945",
		Label:     "Acetylsalicylic acid",
		Xrefs: []string{
			"chembl:CHEMBL25",
			"pubchem.compound:2244",
			"chemidplus:50-78-2",
		},
		SrcName: therapy.SourceDrugBank,
	}
	if err := sink.Put(ctx, therapy.IdentityItem(legacy)); err != nil {
		t.Fatal(err)
	}

	// Legacy record whose identifiers all turn out native: xrefs must be
	// removed, not stored empty.
	allNative := &therapy.Record{
		ConceptID: "wikidata:Q18216",
		Label:     "aspirin",
		Xrefs:     []string{"rxcui:1191", "drugbank:DB00945"},
		SrcName:   therapy.SourceWikidata,
	}
	if err := sink.Put(ctx, therapy.IdentityItem(allNative)); err != nil {
		t.Fatal(err)
	}

	// ChEMBL records already store final classification and are excluded.
	chembl := &therapy.Record{
		ConceptID: "chembl:CHEMBL25",
		Label:     "ASPIRIN",
		Xrefs:     []string{"rxcui:1191"},
		SrcName:   therapy.SourceChEMBL,
	}
	if err := sink.Put(ctx, therapy.IdentityItem(chembl)); err != nil {
		t.Fatal(err)
	}

	// A lookup item in the same namespace must never be scanned.
	if err := sink.Put(ctx, therapy.LookupItem("aspirin", therapy.TypeLabel,
		"drugbank:DB00945", therapy.SourceDrugBank)); err != nil {
		t.Fatal(err)
	}
}

func TestBackfillReclassifies(t *testing.T) {
	sink := newFakeSink()
	seedLegacyRecords(t, sink)

	job := NewXrefBackfill(sink, zerolog.Nop(), 2)
	stats, token, err := job.Run(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		t.Errorf("completed run must return an empty resume token, got %q", token)
	}
	if stats.Scanned != 2 {
		t.Errorf("scanned = %d, want 2 (chembl excluded, lookups excluded)", stats.Scanned)
	}
	if stats.Updated != 2 {
		t.Errorf("updated = %d, want 2", stats.Updated)
	}

	rec := sink.identityRecord("drugbank:DB00945")
	wantOther := []string{"chembl:CHEMBL25", "chemidplus:50-78-2"}
	if !reflect.DeepEqual(rec.OtherIdentifiers, wantOther) {
		t.Errorf("other_identifiers = %v, want %v", rec.OtherIdentifiers, wantOther)
	}
	if !reflect.DeepEqual(rec.Xrefs, []string{"pubchem.compound:2244"}) {
		t.Errorf("xrefs = %v", rec.Xrefs)
	}

	// Fully-native record: xrefs attribute removed outright.
	native := sink.identityRecord("wikidata:Q18216")
	if native.Xrefs != nil {
		t.Errorf("xrefs = %v, want attribute removed", native.Xrefs)
	}
	wantNative := []string{"rxcui:1191", "drugbank:DB00945"}
	if !reflect.DeepEqual(native.OtherIdentifiers, wantNative) {
		t.Errorf("other_identifiers = %v, want %v", native.OtherIdentifiers, wantNative)
	}

	// Excluded source untouched.
	chembl := sink.identityRecord("chembl:CHEMBL25")
	if !reflect.DeepEqual(chembl.Xrefs, []string{"rxcui:1191"}) {
		t.Errorf("chembl record must not be migrated: %v", chembl.Xrefs)
	}
}

func TestBackfillEmptyAttributeRemovedSeparately(t *testing.T) {
	sink := newFakeSink()
	ctx := context.Background()
	rec := &therapy.Record{
		ConceptID: "wikidata:Q1",
		Label:     "one",
		Xrefs:     []string{"rxcui:7"},
		SrcName:   therapy.SourceWikidata,
	}
	if err := sink.Put(ctx, therapy.IdentityItem(rec)); err != nil {
		t.Fatal(err)
	}

	job := NewXrefBackfill(sink, zerolog.Nop(), 10)
	if _, _, err := job.Run(ctx, ""); err != nil {
		t.Fatal(err)
	}

	// One Set update for the surviving attribute, one Remove for the emptied
	// one; Set and Remove never share an update.
	if len(sink.updates) != 2 {
		t.Fatalf("updates = %d, want 2: %+v", len(sink.updates), sink.updates)
	}
	for _, upd := range sink.updates {
		if len(upd.Set) > 0 && len(upd.Remove) > 0 {
			t.Errorf("update mixes Set and Remove: %+v", upd)
		}
	}
}

func TestBackfillSecondRunIssuesNoWrites(t *testing.T) {
	sink := newFakeSink()
	seedLegacyRecords(t, sink)

	job := NewXrefBackfill(sink, zerolog.Nop(), 2)
	if _, _, err := job.Run(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	writesAfterFirst := len(sink.updates)
	if writesAfterFirst == 0 {
		t.Fatal("first run must issue writes")
	}

	stats, _, err := job.Run(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(sink.updates) != writesAfterFirst {
		t.Errorf("second run issued %d extra writes", len(sink.updates)-writesAfterFirst)
	}
	if stats.Updated != 0 || stats.Unchanged != stats.Scanned {
		t.Errorf("second run stats = %+v, want all unchanged", stats)
	}
}
