package therapy

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func seedAspirin(t *testing.T, sink Sink) {
	t.Helper()
	w := NewIndexWriter(sink, zerolog.Nop(), 0)

	ingredient := NewRecord("rxcui:1191", SourceRxNorm)
	ingredient.Label = "Aspirin"
	ingredient.AddTradeName("Bufferin")
	if err := w.WriteConcept(context.Background(), ingredient); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBrandLink(context.Background(), "rxcui:3", "rxcui:1191", SourceRxNorm); err != nil {
		t.Fatal(err)
	}

	chembl := NewRecord("chembl:CHEMBL25", SourceChEMBL)
	chembl.Label = "ASPIRIN"
	chembl.AddAlias("Acetylsalicylic acid")
	if err := w.WriteConcept(context.Background(), chembl); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestSearchLabelAcrossSources(t *testing.T) {
	sink := newMemSink()
	seedAspirin(t, sink)
	svc := NewService(sink)

	res, err := svc.Search(context.Background(), "ASPIRIN")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("matches = %d, want 2: %+v", len(res.Matches), res.Matches)
	}
	for _, m := range res.Matches {
		if m.MatchType != TypeLabel {
			t.Errorf("match type = %q, want label", m.MatchType)
		}
	}
	if len(res.Records) != 2 {
		t.Errorf("records = %d, want 2", len(res.Records))
	}
}

func TestSearchTradeName(t *testing.T) {
	sink := newMemSink()
	seedAspirin(t, sink)
	svc := NewService(sink)

	res, err := svc.Search(context.Background(), "bufferin")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 || res.Matches[0].ConceptID != "rxcui:1191" {
		t.Fatalf("unexpected matches: %+v", res.Matches)
	}
	if res.Matches[0].MatchType != TypeTradeName {
		t.Errorf("match type = %q", res.Matches[0].MatchType)
	}
}

func TestSearchBrandLinkResolvesIngredient(t *testing.T) {
	sink := newMemSink()
	seedAspirin(t, sink)
	svc := NewService(sink)

	res, err := svc.Search(context.Background(), "rxcui:3")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 || res.Matches[0].MatchType != TypeRxBrand {
		t.Fatalf("unexpected matches: %+v", res.Matches)
	}
	if len(res.Records) != 1 || res.Records[0].ConceptID != "rxcui:1191" {
		t.Fatalf("brand link must resolve to the ingredient record: %+v", res.Records)
	}
}

func TestSearchConceptID(t *testing.T) {
	sink := newMemSink()
	seedAspirin(t, sink)
	svc := NewService(sink)

	res, err := svc.Search(context.Background(), "chembl:CHEMBL25")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 || res.Matches[0].MatchType != TypeIdentity {
		t.Fatalf("unexpected matches: %+v", res.Matches)
	}
}

func TestSearchNoMatch(t *testing.T) {
	sink := newMemSink()
	seedAspirin(t, sink)
	svc := NewService(sink)

	res, err := svc.Search(context.Background(), "no such therapy")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 0 || len(res.Records) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	svc := NewService(newMemSink())
	if _, err := svc.Search(context.Background(), "   "); err == nil {
		t.Error("expected error for blank query")
	}
}

func TestGetConcept(t *testing.T) {
	sink := newMemSink()
	seedAspirin(t, sink)
	svc := NewService(sink)

	rec, err := svc.GetConcept(context.Background(), "RXCUI:1191")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Label != "Aspirin" {
		t.Errorf("label = %q", rec.Label)
	}

	_, err = svc.GetConcept(context.Background(), "rxcui:999999")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
