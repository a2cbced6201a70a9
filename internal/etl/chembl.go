package etl

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/cancervariants/therapy-term-normalization/internal/domain/therapy"
)

// chemblSynonymSep joins aggregated synonym and trade name columns in the
// relational extract queries.
const chemblSynonymSep = "||"

// ChEMBLMolecule is one aggregated row of the compound registry extract:
// a molecule with its concatenated synonyms and trade names.
type ChEMBLMolecule struct {
	ChemblID   string         `db:"chembl_id"`
	PrefName   sql.NullString `db:"pref_name"`
	MaxPhase   sql.NullInt64  `db:"max_phase"`
	Withdrawn  sql.NullInt64  `db:"withdrawn_flag"`
	Synonyms   sql.NullString `db:"synonyms"`
	TradeNames string         `db:"-"`
}

// ChEMBL normalizes the compound-registry extract. It expects a
// connection-like handle over the relational ChEMBL dump; synonym and trade
// name fan-out is aggregated per molecule key.
type ChEMBL struct {
	db      *sqlx.DB
	log     zerolog.Logger
	version string
	mols    []ChEMBLMolecule
}

// NewChEMBL creates the ChEMBL adapter over an open extract handle.
func NewChEMBL(db *sqlx.DB, log zerolog.Logger, version string) *ChEMBL {
	return &ChEMBL{db: db, log: log.With().Str("source", "chembl").Logger(), version: version}
}

func (c *ChEMBL) Name() therapy.SourceName {
	return therapy.SourceChEMBL
}

// Extract aggregates molecules, synonyms, and trade names out of the
// relational dump into memory.
func (c *ChEMBL) Extract(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("no chembl extract handle: %w", ErrSourceUnavailable)
	}

	var mols []ChEMBLMolecule
	err := c.db.SelectContext(ctx, &mols, `
		SELECT md.chembl_id,
		       md.pref_name,
		       md.max_phase,
		       md.withdrawn_flag,
		       group_concat(ms.synonyms, '`+chemblSynonymSep+`') AS synonyms
		FROM molecule_dictionary md
		LEFT JOIN molecule_synonyms ms USING (molregno)
		GROUP BY md.molregno`)
	if err != nil {
		return fmt.Errorf("query molecule dictionary: %w", err)
	}

	type tradeRow struct {
		ChemblID   string         `db:"chembl_id"`
		TradeNames sql.NullString `db:"trade_names"`
	}
	var trades []tradeRow
	err = c.db.SelectContext(ctx, &trades, `
		SELECT md.chembl_id,
		       group_concat(p.trade_name, '`+chemblSynonymSep+`') AS trade_names
		FROM formulations f
		JOIN molecule_dictionary md USING (molregno)
		LEFT JOIN products p ON f.product_id = p.product_id
		GROUP BY f.molregno`)
	if err != nil {
		return fmt.Errorf("query trade names: %w", err)
	}

	tradesByID := make(map[string]string, len(trades))
	for _, t := range trades {
		if t.TradeNames.Valid {
			tradesByID[t.ChemblID] = t.TradeNames.String
		}
	}
	for i := range mols {
		mols[i].TradeNames = tradesByID[mols[i].ChemblID]
	}
	c.mols = mols
	return nil
}

// Transform emits one concept record per molecule.
func (c *ChEMBL) Transform(ctx context.Context, w *therapy.IndexWriter) error {
	skipped := 0
	for _, mol := range c.mols {
		if mol.ChemblID == "" {
			skipped++
			c.log.Warn().Msg("skipping molecule without chembl_id")
			continue
		}
		rec := therapy.NewRecord(therapy.PrefixChEMBL+":"+mol.ChemblID, therapy.SourceChEMBL)
		if mol.PrefName.Valid {
			rec.Label = mol.PrefName.String
		}
		rec.ApprovalStatus = chemblApprovalStatus(mol)
		for _, syn := range splitConcat(mol.Synonyms.String) {
			rec.AddAlias(syn)
		}
		for _, tn := range splitConcat(mol.TradeNames) {
			rec.AddTradeName(tn)
		}
		if err := w.WriteConcept(ctx, rec); err != nil {
			return err
		}
	}
	if skipped > 0 {
		c.log.Info().Int("skipped", skipped).Msg("skipped malformed molecules")
	}
	return nil
}

// chemblApprovalStatus applies the registry's precedence rules: the withdrawn
// flag wins, then max development phase 4 means approved, phase 0 means no
// status, anything else is investigational.
func chemblApprovalStatus(mol ChEMBLMolecule) therapy.ApprovalStatus {
	if mol.Withdrawn.Valid && mol.Withdrawn.Int64 != 0 {
		return therapy.ApprovalWithdrawn
	}
	if mol.MaxPhase.Valid {
		switch mol.MaxPhase.Int64 {
		case 4:
			return therapy.ApprovalApproved
		case 0:
			return ""
		}
	}
	return therapy.ApprovalInvestigational
}

func splitConcat(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, chemblSynonymSep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *ChEMBL) Meta() therapy.SourceMeta {
	return therapy.SourceMeta{
		SrcName:        therapy.SourceChEMBL,
		DataLicense:    "CC BY-SA 3.0",
		DataLicenseURL: "https://creativecommons.org/licenses/by-sa/3.0/",
		Version:        c.version,
		DataURL:        "https://www.ebi.ac.uk/chembl/",
		RDPURL:         "http://reusabledata.org/chembl.html",
		LicenseAttributes: therapy.LicenseAttributes{
			NonCommercial: false,
			ShareAlike:    true,
			Attribution:   true,
		},
	}
}
