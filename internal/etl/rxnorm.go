package etl

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/cancervariants/therapy-term-normalization/internal/domain/therapy"
)

// RXNCONSO.RRF column positions.
const (
	rxColRXCUI = 0
	rxColSAB   = 11
	rxColTTY   = 12
	rxColCODE  = 13
	rxColSTR   = 14
	rxColCVF   = 17
)

// rxMinFields is the smallest row the linker will accept.
const rxMinFields = 18

// Alias-class term types: designated alias/synonym, tall man synonym, machine
// permutation, generic drug name, preferred names, clinical drug, entry term.
var rxnormAliasTypes = map[string]bool{
	"SYN": true, "SY": true, "TMSY": true, "PM": true, "GN": true,
	"PT": true, "PEP": true, "CD": true, "ET": true, "RXN_PT": true,
}

// Trade-name-class term types: prescribable and non-prescribable brand
// names, semantic branded drug.
var rxnormTradeNameTypes = map[string]bool{"BD": true, "BN": true, "SBD": true}

// rxnormAllowedSABs is the allow-list of acceptable source vocabularies
// (source level restriction 0 or 1).
var rxnormAllowedSABs = map[string]bool{
	"ATC": true, "CVX": true, "DRUGBANK": true, "MMSL": true, "MSH": true,
	"MTHCMSFRF": true, "MTHSPL": true, "RXNORM": true, "USP": true, "VANDF": true,
}

// rxnormRefPrefixes maps an authority name to its registered namespace
// prefix. MTHSPL identifiers are remapped to UNII before this lookup.
var rxnormRefPrefixes = map[string]string{
	"ATC":       therapy.PrefixATC,
	"CVX":       therapy.PrefixCVX,
	"DRUGBANK":  therapy.PrefixDrugBank,
	"MMSL":      therapy.PrefixMMSL,
	"MSH":       therapy.PrefixMeSH,
	"MTHCMSFRF": therapy.PrefixMTHCMSFRF,
	"RXNORM":    therapy.PrefixRxNorm,
	"UNII":      therapy.PrefixUNII,
	"USP":       therapy.PrefixUSP,
	"VANDF":     therapy.PrefixVANDF,
}

// linkTables holds the relational state the multi-pass linker accumulates
// over one sweep of the flat row stream. It is owned by a single Transform
// invocation and discarded when the transform ends.
type linkTables struct {
	// records collects one in-progress concept per rxcui.
	records map[string]*therapy.Record
	// ingredientBrands maps a case-folded ingredient name to the brands it
	// was compounded into, from SBDC rows.
	ingredientBrands map[string][]string
	// sbdfBrands maps a case-folded ingredient name to brands recovered
	// from SBDF rows.
	sbdfBrands map[string][]string
	// brandConcepts maps exact brand text to the brand's own concept id,
	// from BN rows.
	brandConcepts map[string]string
	// synonymIDs maps a concept id to its MeSH preferred-term code.
	synonymIDs map[string]string
	// preciseIngredients maps a MeSH code to its entry-term synonym strings.
	preciseIngredients map[string][]string
}

func newLinkTables() *linkTables {
	return &linkTables{
		records:            make(map[string]*therapy.Record),
		ingredientBrands:   make(map[string][]string),
		sbdfBrands:         make(map[string][]string),
		brandConcepts:      make(map[string]string),
		synonymIDs:         make(map[string]string),
		preciseIngredients: make(map[string][]string),
	}
}

func addTableTerm(table map[string][]string, key, term string) {
	for _, v := range table[key] {
		if v == term {
			return
		}
	}
	table[key] = append(table[key], term)
}

// RxNorm normalizes the terminology-graph dump: a flat, unordered RRF row
// stream with no relational joins available. Two strictly sequential passes
// resolve ingredient identity and brand/trade-name associations.
type RxNorm struct {
	rrfPath       string
	drugFormsPath string
	drugForms     []string
	log           zerolog.Logger
	version       string
	registry      therapy.Registry
}

// NewRxNorm creates the RxNorm adapter for an RRF dump plus the drug-form
// list file derived from it.
func NewRxNorm(rrfPath, drugFormsPath string, log zerolog.Logger, version string) *RxNorm {
	return &RxNorm{
		rrfPath:       rrfPath,
		drugFormsPath: drugFormsPath,
		log:           log.With().Str("source", "rxnorm").Logger(),
		version:       version,
		registry:      therapy.NativeRegistry(),
	}
}

func (r *RxNorm) Name() therapy.SourceName {
	return therapy.SourceRxNorm
}

// Extract verifies the RRF dump and materializes the drug-form list,
// deriving and persisting it from the dump when the file does not exist yet.
func (r *RxNorm) Extract(ctx context.Context) error {
	if r.rrfPath == "" {
		return fmt.Errorf("no rxnorm file configured: %w", ErrSourceUnavailable)
	}
	if _, err := os.Stat(r.rrfPath); err != nil {
		return fmt.Errorf("rxnorm file %s: %w", r.rrfPath, ErrSourceUnavailable)
	}

	if data, err := os.ReadFile(r.drugFormsPath); err == nil {
		if err := yaml.Unmarshal(data, &r.drugForms); err != nil {
			return fmt.Errorf("parse drug forms %s: %w", r.drugFormsPath, ErrSourceUnavailable)
		}
		return nil
	}

	forms, err := r.deriveDrugForms()
	if err != nil {
		return err
	}
	r.drugForms = forms
	out, err := yaml.Marshal(forms)
	if err != nil {
		return fmt.Errorf("marshal drug forms: %w", err)
	}
	if err := os.WriteFile(r.drugFormsPath, out, 0o644); err != nil {
		return fmt.Errorf("write drug forms %s: %w", r.drugFormsPath, err)
	}
	return nil
}

// deriveDrugForms sweeps the dump for RXNORM dose-form rows (TTY=DF).
func (r *RxNorm) deriveDrugForms() ([]string, error) {
	f, err := os.Open(r.rrfPath)
	if err != nil {
		return nil, fmt.Errorf("rxnorm file %s: %w", r.rrfPath, ErrSourceUnavailable)
	}
	defer f.Close()

	var forms []string
	seen := make(map[string]struct{})
	reader := newRRFReader(f)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rxnorm file: %w", err)
		}
		if len(row) < rxMinFields {
			continue
		}
		if row[rxColTTY] == "DF" && row[rxColSAB] == "RXNORM" {
			if _, ok := seen[row[rxColSTR]]; !ok {
				seen[row[rxColSTR]] = struct{}{}
				forms = append(forms, row[rxColSTR])
			}
		}
	}
	return forms, nil
}

func newRRFReader(f io.Reader) *csv.Reader {
	reader := csv.NewReader(f)
	reader.Comma = '|'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return reader
}

// Transform runs the two linker passes. Pass 1 sweeps every row, building
// concepts and the brand/ingredient tables; pass 2 resolves trade names and
// brand links once the tables are complete. A concept that never acquired a
// label is dropped entirely.
func (r *RxNorm) Transform(ctx context.Context, w *therapy.IndexWriter) error {
	f, err := os.Open(r.rrfPath)
	if err != nil {
		return fmt.Errorf("rxnorm file %s: %w", r.rrfPath, ErrSourceUnavailable)
	}
	defer f.Close()

	tables := newLinkTables()
	reader := newRRFReader(f)
	skipped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			r.log.Warn().Err(err).Msg("skipping unreadable row")
			continue
		}
		if len(row) < rxMinFields {
			skipped++
			continue
		}
		r.sweepRow(row, tables)
	}

	dropped, err := r.resolveConcepts(ctx, w, tables)
	if err != nil {
		return err
	}
	r.log.Info().
		Int("concepts", len(tables.records)-dropped).
		Int("dropped_unlabeled", dropped).
		Int("skipped_rows", skipped).
		Msg("linker passes complete")
	return nil
}

// sweepRow is pass 1 for a single row.
func (r *RxNorm) sweepRow(row []string, tables *linkTables) {
	if !rxnormAllowedSABs[row[rxColSAB]] {
		return
	}
	conceptID := therapy.PrefixRxNorm + ":" + row[rxColRXCUI]

	if row[rxColTTY] == "BN" && row[rxColSAB] == "RXNORM" {
		tables.brandConcepts[row[rxColSTR]] = conceptID
	}
	if row[rxColTTY] == "SBDC" && row[rxColSAB] == "RXNORM" {
		// Composite strings associate ingredients with brands; they never
		// create or update a concept record.
		brand, ingredients := parseSBDC(row[rxColSTR])
		for _, ingredient := range ingredients {
			addTableTerm(tables.ingredientBrands, therapy.FoldKey(ingredient), brand)
		}
		return
	}

	rec, ok := tables.records[conceptID]
	if !ok {
		rec = therapy.NewRecord(conceptID, therapy.SourceRxNorm)
		tables.records[conceptID] = rec
	}
	r.addTermFields(rec, row, tables)
	r.addRef(rec, row)
}

// addTermFields routes a row's term into the concept by term type.
func (r *RxNorm) addTermFields(rec *therapy.Record, row []string, tables *linkTables) {
	term := row[rxColSTR]
	tty := row[rxColTTY]
	sab := row[rxColSAB]

	switch {
	case (tty == "IN" || tty == "PIN") && sab == "RXNORM":
		rec.Label = term
		if row[rxColCVF] == "4096" {
			rec.ApprovalRatings = []string{therapy.RatingRxNormPrescribable}
		}
	case rxnormAliasTypes[tty]:
		rec.AddAlias(term)
	case rxnormTradeNameTypes[tty]:
		rec.AddTradeName(term)
	}

	switch sab {
	case "RXNORM":
		if tty == "SBDF" {
			if ingredient, brand, ok := parseSBDF(term, r.drugForms); ok {
				addTableTerm(tables.sbdfBrands, strings.ToLower(ingredient), brand)
			}
		}
	case "MSH":
		switch tty {
		case "MH":
			// Preferred-term code keys the precise-ingredient side table.
			tables.synonymIDs[rec.ConceptID] = row[rxColCODE]
		case "PEP":
			addTableTerm(tables.preciseIngredients, row[rxColCODE], term)
		}
	}
}

// addRef classifies a non-native authority's identifier onto the concept.
func (r *RxNorm) addRef(rec *therapy.Record, row []string) {
	authority := row[rxColSAB]
	code := row[rxColCODE]
	if authority == "" || code == "NOCODE" || code == "" {
		return
	}
	if authority == "MTHSPL" {
		authority = "UNII"
	}
	prefix, ok := rxnormRefPrefixes[strings.ToUpper(authority)]
	if !ok {
		r.log.Info().Str("authority", authority).Msg("authority has no registered namespace")
		return
	}
	id := prefix + ":" + code
	if id == rec.ConceptID {
		// Some authorities repeat the concept's own id in the code field.
		return
	}
	rec.AddRef(therapy.Classify(prefix, r.registry), id)
}

// resolveConcepts is pass 2: for every labeled concept, union in brands
// registered under any candidate label (its own label plus precise-ingredient
// synonyms), then emit the concept and one rx_brand link per trade name with
// a known brand concept.
func (r *RxNorm) resolveConcepts(ctx context.Context, w *therapy.IndexWriter, tables *linkTables) (dropped int, err error) {
	conceptIDs := make([]string, 0, len(tables.records))
	for id := range tables.records {
		conceptIDs = append(conceptIDs, id)
	}
	sort.Strings(conceptIDs)

	for _, conceptID := range conceptIDs {
		rec := tables.records[conceptID]
		if rec.Label == "" {
			dropped++
			continue
		}

		labels := []string{therapy.FoldKey(rec.Label)}
		if synID, ok := tables.synonymIDs[conceptID]; ok {
			for _, pin := range tables.preciseIngredients[synID] {
				labels = append(labels, therapy.FoldKey(pin))
			}
		}
		for _, label := range labels {
			for _, brand := range tables.ingredientBrands[label] {
				rec.AddTradeName(brand)
			}
		}
		for _, brand := range tables.sbdfBrands[strings.ToLower(rec.Label)] {
			rec.AddTradeName(brand)
		}

		// Brand links derive from the full trade name set, before the
		// fan-out cap is applied to the stored attribute.
		tradeNames := append([]string(nil), rec.TradeNames...)
		if err := w.WriteConcept(ctx, rec); err != nil {
			return dropped, err
		}
		for _, tn := range tradeNames {
			if brandConceptID, ok := tables.brandConcepts[tn]; ok {
				if err := w.WriteBrandLink(ctx, brandConceptID, conceptID, therapy.SourceRxNorm); err != nil {
					return dropped, err
				}
			}
		}
	}
	return dropped, nil
}

func (r *RxNorm) Meta() therapy.SourceMeta {
	return therapy.SourceMeta{
		SrcName:        therapy.SourceRxNorm,
		DataLicense:    "UMLS Metathesaurus",
		DataLicenseURL: "https://www.nlm.nih.gov/research/umls/rxnorm/docs/termsofservice.html",
		Version:        r.version,
		DataURL:        "https://www.nlm.nih.gov/research/umls/rxnorm/",
		LicenseAttributes: therapy.LicenseAttributes{
			NonCommercial: false,
			ShareAlike:    false,
			Attribution:   true,
		},
	}
}
