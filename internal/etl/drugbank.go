package etl

import (
	"context"
	"fmt"
	"os"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/cancervariants/therapy-term-normalization/internal/domain/therapy"
)

// drugbankIdentifierPrefixes remaps the relationship registry's external
// resource names to registered namespace prefixes. Identifiers whose resource
// is not listed here are dropped silently.
var drugbankIdentifierPrefixes = map[string]string{
	"ChEBI":                        therapy.PrefixCHEBI,
	"ChEMBL":                       therapy.PrefixChEMBL,
	"PubChem Compound":             therapy.PrefixPubChemCompound,
	"PubChem Substance":            therapy.PrefixPubChemSubstance,
	"KEGG Compound":                therapy.PrefixKEGGCompound,
	"KEGG Drug":                    therapy.PrefixKEGGDrug,
	"ChemSpider":                   therapy.PrefixChemSpider,
	"BindingDB":                    therapy.PrefixBindingDB,
	"PharmGKB":                     therapy.PrefixPharmGKB,
	"ZINC":                         therapy.PrefixZINC,
	"RxCUI":                        therapy.PrefixRxNorm,
	"PDB":                          therapy.PrefixPDB,
	"Therapeutic Targets Database": therapy.PrefixTTD,
	"IUPHAR":                       therapy.PrefixIUPHAR,
	"Guide to Pharmacology":        therapy.PrefixGtoPdb,
}

// DrugBank normalizes the relationship-registry dump: one labeled subtree per
// drug entity.
type DrugBank struct {
	path     string
	doc      *etree.Document
	log      zerolog.Logger
	version  string
	registry therapy.Registry
}

// NewDrugBank creates the DrugBank adapter for an XML dump on disk.
func NewDrugBank(path string, log zerolog.Logger, version string) *DrugBank {
	return &DrugBank{
		path:     path,
		log:      log.With().Str("source", "drugbank").Logger(),
		version:  version,
		registry: therapy.NativeRegistry(),
	}
}

// NewDrugBankFromDocument creates the adapter over an already-parsed tree.
func NewDrugBankFromDocument(doc *etree.Document, log zerolog.Logger, version string) *DrugBank {
	d := NewDrugBank("", log, version)
	d.doc = doc
	return d
}

func (d *DrugBank) Name() therapy.SourceName {
	return therapy.SourceDrugBank
}

// Extract parses the XML dump into a labeled tree.
func (d *DrugBank) Extract(ctx context.Context) error {
	if d.doc != nil {
		return nil
	}
	if d.path == "" {
		return fmt.Errorf("no drugbank file configured: %w", ErrSourceUnavailable)
	}
	if _, err := os.Stat(d.path); err != nil {
		return fmt.Errorf("drugbank file %s: %w", d.path, ErrSourceUnavailable)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(d.path); err != nil {
		return fmt.Errorf("parse drugbank file %s: %w", d.path, ErrSourceUnavailable)
	}
	d.doc = doc
	return nil
}

// Transform walks each drug subtree and emits one concept record.
func (d *DrugBank) Transform(ctx context.Context, w *therapy.IndexWriter) error {
	root := d.doc.Root()
	if root == nil {
		return fmt.Errorf("drugbank document has no root element: %w", ErrSourceUnavailable)
	}

	skipped := 0
	for _, drug := range root.ChildElements() {
		rec, err := d.transformDrug(drug)
		if err != nil {
			skipped++
			d.log.Warn().Err(err).Msg("skipping malformed drug entry")
			continue
		}
		if err := w.WriteConcept(ctx, rec); err != nil {
			return err
		}
	}
	if skipped > 0 {
		d.log.Info().Int("skipped", skipped).Msg("skipped malformed drug entries")
	}
	return nil
}

func (d *DrugBank) transformDrug(drug *etree.Element) (*therapy.Record, error) {
	rec := therapy.NewRecord("", therapy.SourceDrugBank)
	for _, el := range drug.ChildElements() {
		switch el.Tag {
		case "drugbank-id":
			// First primary id is the concept id; the rest are aliases.
			if el.SelectAttr("primary") != nil && rec.ConceptID == "" {
				rec.ConceptID = therapy.PrefixDrugBank + ":" + el.Text()
			} else {
				rec.AddAlias(el.Text())
			}
		case "name":
			rec.Label = el.Text()
		case "synonyms":
			for _, syn := range el.ChildElements() {
				if syn.SelectAttrValue("language", "") == "english" {
					rec.AddAlias(syn.Text())
				}
			}
		case "international-brands":
			for _, brand := range el.ChildElements() {
				if name := brand.SelectElement("name"); name != nil {
					rec.AddAlias(name.Text())
				}
			}
		case "products":
			d.addProducts(el, rec)
		case "external-identifiers":
			d.addExternalIdentifiers(el, rec)
		case "cas-number":
			if el.Text() != "" {
				id := therapy.PrefixChemIDplus + ":" + el.Text()
				rec.AddRef(therapy.Classify(therapy.PrefixChemIDplus, d.registry), id)
			}
		case "groups":
			rec.ApprovalStatus = drugbankApprovalStatus(el)
		}
	}
	if rec.ConceptID == "" {
		return nil, fmt.Errorf("drug entry missing primary drugbank-id")
	}
	return rec, nil
}

// addProducts folds products into trade names, but only those flagged
// generic, approved, or over-the-counter.
func (d *DrugBank) addProducts(el *etree.Element, rec *therapy.Record) {
	for _, product := range el.ChildElements() {
		name := product.SelectElement("name")
		if name == nil || name.Text() == "" {
			continue
		}
		if childText(product, "generic") == "true" ||
			childText(product, "approved") == "true" ||
			childText(product, "over-the-counter") == "true" {
			rec.AddTradeName(name.Text())
		}
	}
}

func (d *DrugBank) addExternalIdentifiers(el *etree.Element, rec *therapy.Record) {
	for _, ext := range el.ChildElements() {
		resource := childText(ext, "resource")
		identifier := childText(ext, "identifier")
		if identifier == "" {
			continue
		}
		prefix, ok := drugbankIdentifierPrefixes[resource]
		if !ok {
			continue
		}
		rec.AddRef(therapy.Classify(prefix, d.registry), prefix+":"+identifier)
	}
}

// drugbankApprovalStatus takes the first match in the group-membership list,
// in order withdrawn > approved > investigational.
func drugbankApprovalStatus(el *etree.Element) therapy.ApprovalStatus {
	groups := make(map[string]bool)
	for _, group := range el.ChildElements() {
		groups[group.Text()] = true
	}
	switch {
	case groups["withdrawn"]:
		return therapy.ApprovalWithdrawn
	case groups["approved"]:
		return therapy.ApprovalApproved
	case groups["investigational"]:
		return therapy.ApprovalInvestigational
	}
	return ""
}

func childText(el *etree.Element, tag string) string {
	if child := el.SelectElement(tag); child != nil {
		return child.Text()
	}
	return ""
}

func (d *DrugBank) Meta() therapy.SourceMeta {
	return therapy.SourceMeta{
		SrcName:        therapy.SourceDrugBank,
		DataLicense:    "CC BY-NC 4.0",
		DataLicenseURL: "https://creativecommons.org/licenses/by-nc/4.0/legalcode",
		Version:        d.version,
		DataURL:        "https://go.drugbank.com/releases",
		LicenseAttributes: therapy.LicenseAttributes{
			NonCommercial: true,
			ShareAlike:    false,
			Attribution:   true,
		},
	}
}
