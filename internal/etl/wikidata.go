package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cancervariants/therapy-term-normalization/internal/domain/therapy"
)

// wikidataIdentifierFields maps the knowledge graph's identifier fields to
// registered namespace prefixes, in a fixed probe order.
var wikidataIdentifierFields = []struct {
	field  string
	prefix string
}{
	{"casRegistry", therapy.PrefixChemIDplus},
	{"pubchemCompound", therapy.PrefixPubChemCompound},
	{"pubchemSubstance", therapy.PrefixPubChemSubstance},
	{"chembl", therapy.PrefixChEMBL},
	{"rxnorm", therapy.PrefixRxNorm},
	{"drugbank", therapy.PrefixDrugBank},
}

// wikidataIDInfix is the per-source token prepended to a native local id.
// ChEMBL values already carry their token, so chembl is absent here.
var wikidataIDInfix = map[string]string{
	therapy.PrefixDrugBank:   "DB",
	therapy.PrefixRxNorm:     "",
	therapy.PrefixChemIDplus: "",
}

// Wikidata normalizes the knowledge-graph extract: a decoded list of flat
// records, multiple rows per entity (one alias per extra row).
type Wikidata struct {
	path     string
	rows     []map[string]string
	log      zerolog.Logger
	version  string
	registry therapy.Registry
}

// NewWikidata creates the Wikidata adapter for a JSON dump on disk.
func NewWikidata(path string, log zerolog.Logger, version string) *Wikidata {
	return &Wikidata{
		path:     path,
		log:      log.With().Str("source", "wikidata").Logger(),
		version:  version,
		registry: therapy.NativeRegistry(),
	}
}

// NewWikidataFromRows creates the adapter over already-decoded records.
func NewWikidataFromRows(rows []map[string]string, log zerolog.Logger, version string) *Wikidata {
	w := NewWikidata("", log, version)
	w.rows = rows
	return w
}

func (w *Wikidata) Name() therapy.SourceName {
	return therapy.SourceWikidata
}

// Extract decodes the JSON dump.
func (w *Wikidata) Extract(ctx context.Context) error {
	if w.rows != nil {
		return nil
	}
	if w.path == "" {
		return fmt.Errorf("no wikidata file configured: %w", ErrSourceUnavailable)
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("wikidata file %s: %w", w.path, ErrSourceUnavailable)
	}
	if err := json.Unmarshal(data, &w.rows); err != nil {
		return fmt.Errorf("parse wikidata file %s: %w", w.path, ErrSourceUnavailable)
	}
	return nil
}

// Transform groups rows by entity and emits one concept record each. The
// first row for an entity carries the identifier fields; every row may
// contribute at most one alias.
func (w *Wikidata) Transform(ctx context.Context, writer *therapy.IndexWriter) error {
	records := make(map[string]*therapy.Record)
	var order []string
	skipped := 0

	for _, row := range w.rows {
		item := row["item"]
		if item == "" {
			skipped++
			w.log.Warn().Msg("skipping row without item field")
			continue
		}
		entityID := item[strings.LastIndex(item, "/")+1:]
		conceptID := therapy.PrefixWikidata + ":" + entityID

		rec, ok := records[conceptID]
		if !ok {
			rec = therapy.NewRecord(conceptID, therapy.SourceWikidata)
			rec.Label = row["itemLabel"]
			w.addIdentifiers(row, rec)
			records[conceptID] = rec
			order = append(order, conceptID)
		}
		if alias := row["alias"]; alias != "" {
			rec.AddAlias(alias)
		}
	}

	for _, conceptID := range order {
		if err := writer.WriteConcept(ctx, records[conceptID]); err != nil {
			return err
		}
	}
	if skipped > 0 {
		w.log.Info().Int("skipped", skipped).Msg("skipped malformed rows")
	}
	return nil
}

// addIdentifiers classifies each identifier field present on the row. The
// CAS-registry field is remapped to the ChemIDplus source before
// classification; native identifiers other than chembl gain the per-source
// token infix.
func (w *Wikidata) addIdentifiers(row map[string]string, rec *therapy.Record) {
	for _, f := range wikidataIdentifierFields {
		value, ok := row[f.field]
		if !ok || value == "" {
			continue
		}
		kind := therapy.Classify(f.prefix, w.registry)
		id := f.prefix + ":" + value
		if kind == therapy.RefOtherIdentifier {
			if infix, ok := wikidataIDInfix[f.prefix]; ok {
				id = f.prefix + ":" + infix + value
			}
		}
		rec.AddRef(kind, id)
	}
}

func (w *Wikidata) Meta() therapy.SourceMeta {
	return therapy.SourceMeta{
		SrcName:        therapy.SourceWikidata,
		DataLicense:    "CC0 1.0",
		DataLicenseURL: "https://creativecommons.org/publicdomain/zero/1.0/",
		Version:        w.version,
		LicenseAttributes: therapy.LicenseAttributes{
			NonCommercial: false,
			ShareAlike:    false,
			Attribution:   false,
		},
	}
}
