// Package therapy defines the canonical concept record model shared by every
// source adapter, the classifier that partitions cross-references, and the
// batched index writer that persists identity and lookup records into one
// flat keyed namespace.
package therapy

import (
	"strings"

	"golang.org/x/text/cases"
)

// SourceName identifies an originating data source.
type SourceName string

// Sources this normalizer ingests. ChemIDplus carries no adapter in this
// repository but remains part of the enumeration: the Wikidata CAS-registry
// remap and the classifier registry both depend on it being native.
const (
	SourceChEMBL     SourceName = "ChEMBL"
	SourceDrugBank   SourceName = "DrugBank"
	SourceRxNorm     SourceName = "RxNorm"
	SourceWikidata   SourceName = "Wikidata"
	SourceChemIDplus SourceName = "ChemIDplus"
)

// SourceNames returns the enumerated source list. The classifier registry is
// derived from this slice, never hard-coded elsewhere.
func SourceNames() []SourceName {
	return []SourceName{
		SourceChEMBL,
		SourceDrugBank,
		SourceRxNorm,
		SourceWikidata,
		SourceChemIDplus,
	}
}

// Namespace prefixes used when formatting namespaced identifiers.
const (
	PrefixChEMBL     = "chembl"
	PrefixDrugBank   = "drugbank"
	PrefixRxNorm     = "rxcui"
	PrefixWikidata   = "wikidata"
	PrefixChemIDplus = "chemidplus"

	PrefixATC              = "atc"
	PrefixCVX              = "cvx"
	PrefixMMSL             = "mmsl"
	PrefixMeSH             = "mesh"
	PrefixMTHCMSFRF        = "mthcmsfrf"
	PrefixUNII             = "unii"
	PrefixUSP              = "usp"
	PrefixVANDF            = "vandf"
	PrefixCHEBI            = "chebi"
	PrefixPubChemCompound  = "pubchem.compound"
	PrefixPubChemSubstance = "pubchem.substance"
	PrefixKEGGCompound     = "kegg.compound"
	PrefixKEGGDrug         = "kegg.drug"
	PrefixChemSpider       = "chemspider"
	PrefixBindingDB        = "bindingdb"
	PrefixPharmGKB         = "pharmgkb.drug"
	PrefixZINC             = "zinc"
	PrefixPDB              = "pdb"
	PrefixTTD              = "ttd"
	PrefixIUPHAR           = "iuphar.ligand"
	PrefixGtoPdb           = "gtopdb"
)

// NamespacePrefixFor returns the concept-id namespace prefix for a native
// source.
func NamespacePrefixFor(src SourceName) string {
	switch src {
	case SourceChEMBL:
		return PrefixChEMBL
	case SourceDrugBank:
		return PrefixDrugBank
	case SourceRxNorm:
		return PrefixRxNorm
	case SourceWikidata:
		return PrefixWikidata
	case SourceChemIDplus:
		return PrefixChemIDplus
	}
	return ""
}

// ApprovalStatus is a regulatory approval state derived from source-specific
// precedence rules.
type ApprovalStatus string

const (
	ApprovalWithdrawn       ApprovalStatus = "withdrawn"
	ApprovalApproved        ApprovalStatus = "approved"
	ApprovalInvestigational ApprovalStatus = "investigational"
)

// RatingRxNormPrescribable marks an RxNorm concept as part of the current
// prescribable content subset.
const RatingRxNormPrescribable = "rxnorm_prescribable"

// Item type tags embedded in the label_and_type key.
const (
	TypeIdentity  = "identity"
	TypeLabel     = "label"
	TypeAlias     = "alias"
	TypeTradeName = "trade_name"
	TypeRxBrand   = "rx_brand"
)

// FanOutCap is the limit on distinct case-folded values for a list attribute.
// A list exceeding the cap is dropped entirely, never truncated.
const FanOutCap = 20

var folder = cases.Fold()

// FoldKey returns the locale-independent case-folded form of s, used for
// uniqueness comparisons. Stored lookup keys use strings.ToLower instead.
func FoldKey(s string) string {
	return folder.String(s)
}

// Record is the canonical identity record for one therapy concept. List
// attributes are nil when absent; an empty list is never persisted.
type Record struct {
	ConceptID        string         `json:"concept_id"`
	Label            string         `json:"label,omitempty"`
	Aliases          []string       `json:"aliases,omitempty"`
	TradeNames       []string       `json:"trade_names,omitempty"`
	OtherIdentifiers []string       `json:"other_identifiers,omitempty"`
	Xrefs            []string       `json:"xrefs,omitempty"`
	ApprovalStatus   ApprovalStatus `json:"approval_status,omitempty"`
	ApprovalRatings  []string       `json:"approval_ratings,omitempty"`
	SrcName          SourceName     `json:"src_name"`
}

// NewRecord creates an identity record for a namespaced concept id.
func NewRecord(conceptID string, src SourceName) *Record {
	return &Record{ConceptID: conceptID, SrcName: src}
}

func appendUnique(list []string, term string) []string {
	if term == "" {
		return list
	}
	for _, v := range list {
		if v == term {
			return list
		}
	}
	return append(list, term)
}

// AddAlias appends an alias, ignoring exact duplicates and empty strings.
func (r *Record) AddAlias(term string) {
	r.Aliases = appendUnique(r.Aliases, term)
}

// AddTradeName appends a trade name, ignoring exact duplicates.
func (r *Record) AddTradeName(term string) {
	r.TradeNames = appendUnique(r.TradeNames, term)
}

// AddRef files a namespaced identifier into other_identifiers or xrefs
// according to the classifier's verdict. The two sets stay disjoint because
// membership is decided here and nowhere else.
func (r *Record) AddRef(kind RefKind, id string) {
	if kind == RefOtherIdentifier {
		r.OtherIdentifiers = appendUnique(r.OtherIdentifiers, id)
	} else {
		r.Xrefs = appendUnique(r.Xrefs, id)
	}
}

// dedupeFolded keeps the first-seen value for each case-folded key.
func dedupeFolded(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, v := range list {
		k := FoldKey(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Finalize enforces the record invariants before persistence: case-folded
// de-duplication of aliases and trade names, the fan-out cap (the whole
// attribute is dropped when more than FanOutCap distinct values remain), and
// nil-ing of empty lists so absence beats emptiness.
func (r *Record) Finalize() {
	r.Aliases = dedupeFolded(r.Aliases)
	if n := len(r.Aliases); n == 0 || n > FanOutCap {
		r.Aliases = nil
	}
	r.TradeNames = dedupeFolded(r.TradeNames)
	if n := len(r.TradeNames); n == 0 || n > FanOutCap {
		r.TradeNames = nil
	}
	if len(r.OtherIdentifiers) == 0 {
		r.OtherIdentifiers = nil
	}
	if len(r.Xrefs) == 0 {
		r.Xrefs = nil
	}
	if len(r.ApprovalRatings) == 0 {
		r.ApprovalRatings = nil
	}
}

// Key returns the identity key for this record.
func (r *Record) Key() string {
	return strings.ToLower(r.ConceptID) + "##" + TypeIdentity
}

// Item is one keyed row in the flat namespace. Record is populated for
// identity items only.
type Item struct {
	LabelAndType string     `json:"label_and_type"`
	ConceptID    string     `json:"concept_id"`
	SrcName      SourceName `json:"src_name"`
	ItemType     string     `json:"item_type"`
	Record       *Record    `json:"record,omitempty"`
}

// IdentityItem builds the identity item for a finalized record.
func IdentityItem(r *Record) Item {
	return Item{
		LabelAndType: r.Key(),
		ConceptID:    r.ConceptID,
		SrcName:      r.SrcName,
		ItemType:     TypeIdentity,
		Record:       r,
	}
}

// LookupItem builds a derived lookup item. The stored key is the fully
// lowercased value plus the type tag; the concept id is lowercased too.
func LookupItem(value, itemType, conceptID string, src SourceName) Item {
	return Item{
		LabelAndType: strings.ToLower(value) + "##" + itemType,
		ConceptID:    strings.ToLower(conceptID),
		SrcName:      src,
		ItemType:     itemType,
	}
}

// BrandLinkItem builds an rx_brand association item linking a brand concept
// id to the ingredient concept it was compounded into. This is a distinct
// subtype from alias and label lookups.
func BrandLinkItem(brandConceptID, conceptID string, src SourceName) Item {
	return Item{
		LabelAndType: brandConceptID + "##" + TypeRxBrand,
		ConceptID:    conceptID,
		SrcName:      src,
		ItemType:     TypeRxBrand,
	}
}

// Lookups derives the full lookup item set for a finalized record. Values are
// de-duplicated after lowercasing so re-derivation always yields an exact set
// match with what is stored.
func (r *Record) Lookups() []Item {
	var items []Item
	if r.Label != "" {
		items = append(items, LookupItem(r.Label, TypeLabel, r.ConceptID, r.SrcName))
	}
	seen := make(map[string]struct{})
	for _, a := range r.Aliases {
		low := strings.ToLower(a)
		if _, ok := seen[low]; ok {
			continue
		}
		seen[low] = struct{}{}
		items = append(items, LookupItem(a, TypeAlias, r.ConceptID, r.SrcName))
	}
	seen = make(map[string]struct{})
	for _, t := range r.TradeNames {
		low := strings.ToLower(t)
		if _, ok := seen[low]; ok {
			continue
		}
		seen[low] = struct{}{}
		items = append(items, LookupItem(t, TypeTradeName, r.ConceptID, r.SrcName))
	}
	return items
}

// LicenseAttributes describes reuse conditions of a source's data license.
type LicenseAttributes struct {
	NonCommercial bool `json:"non_commercial"`
	ShareAlike    bool `json:"share_alike"`
	Attribution   bool `json:"attribution"`
}

// SourceMeta is the provenance record written once per source per load.
type SourceMeta struct {
	SrcName           SourceName        `json:"src_name"`
	DataLicense       string            `json:"data_license"`
	DataLicenseURL    string            `json:"data_license_url"`
	Version           string            `json:"version"`
	DataURL           string            `json:"data_url,omitempty"`
	RDPURL            string            `json:"rdp_url,omitempty"`
	LicenseAttributes LicenseAttributes `json:"data_license_attributes"`
}
