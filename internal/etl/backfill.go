package etl

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cancervariants/therapy-term-normalization/internal/domain/therapy"
)

// BackfillStats summarizes one backfill run.
type BackfillStats struct {
	Pages     int
	Scanned   int
	Updated   int
	Unchanged int
}

// XrefBackfill re-derives other_identifiers and xrefs on already-stored
// identity records using the same classifier the load path uses. ChEMBL
// records are skipped: that source already stores final classification. The
// job is resumable from its continuation token and re-runnable: a second run
// against migrated data issues zero writes.
type XrefBackfill struct {
	sink     therapy.Sink
	log      zerolog.Logger
	registry therapy.Registry
	pageSize int
}

// NewXrefBackfill creates the backfill job.
func NewXrefBackfill(sink therapy.Sink, log zerolog.Logger, pageSize int) *XrefBackfill {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &XrefBackfill{
		sink:     sink,
		log:      log.With().Str("job", "xref_backfill").Logger(),
		registry: therapy.NativeRegistry(),
		pageSize: pageSize,
	}
}

// Run executes the scan/classify/update loop from the given continuation
// token ("" starts from the beginning). It returns the stats plus the token
// to resume from if the run was interrupted by an error.
func (j *XrefBackfill) Run(ctx context.Context, token string) (*BackfillStats, string, error) {
	stats := &BackfillStats{}
	filter := therapy.ScanFilter{
		ExcludeSrc: therapy.SourceChEMBL,
		ItemType:   therapy.TypeIdentity,
	}

	for {
		page, err := j.sink.Scan(ctx, filter, token, j.pageSize)
		if err != nil {
			return stats, token, fmt.Errorf("scan page: %w", err)
		}
		stats.Pages++

		for _, item := range page.Items {
			if item.Record == nil {
				continue
			}
			stats.Scanned++
			if err := j.migrateRecord(ctx, item, stats); err != nil {
				return stats, token, err
			}
		}

		token = page.NextToken
		if token == "" {
			break
		}
	}

	j.log.Info().
		Int("pages", stats.Pages).
		Int("scanned", stats.Scanned).
		Int("updated", stats.Updated).
		Int("unchanged", stats.Unchanged).
		Msg("backfill complete")
	return stats, "", nil
}

func (j *XrefBackfill) migrateRecord(ctx context.Context, item therapy.Item, stats *BackfillStats) error {
	rec := item.Record
	others, xrefs := j.reclassify(rec)

	if equalStringSets(others, rec.OtherIdentifiers) && equalStringSets(xrefs, rec.Xrefs) {
		stats.Unchanged++
		return nil
	}

	key := therapy.ItemKey{LabelAndType: item.LabelAndType, ConceptID: item.ConceptID}
	set := make(map[string][]string)
	var removals []string
	if len(others) > 0 {
		set["other_identifiers"] = others
	} else {
		removals = append(removals, "other_identifiers")
	}
	if len(xrefs) > 0 {
		set["xrefs"] = xrefs
	} else {
		removals = append(removals, "xrefs")
	}

	if len(set) > 0 {
		if err := j.sink.Update(ctx, key, therapy.AttrUpdate{Set: set}); err != nil {
			return fmt.Errorf("update %s: %w", item.LabelAndType, err)
		}
	}
	// An empty list is removed in its own update so the attribute is absent,
	// never stored empty.
	for _, attr := range removals {
		if err := j.sink.Update(ctx, key, therapy.AttrUpdate{Remove: []string{attr}}); err != nil {
			return fmt.Errorf("remove %s from %s: %w", attr, item.LabelAndType, err)
		}
	}
	stats.Updated++
	return nil
}

// reclassify partitions the union of the record's legacy identifier lists by
// namespace prefix, preserving first-seen order.
func (j *XrefBackfill) reclassify(rec *therapy.Record) (others, xrefs []string) {
	seen := make(map[string]struct{})
	for _, list := range [][]string{rec.OtherIdentifiers, rec.Xrefs} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			namespace, _ := therapy.SplitNamespace(id)
			if therapy.Classify(namespace, j.registry) == therapy.RefOtherIdentifier {
				others = append(others, id)
			} else {
				xrefs = append(xrefs, id)
			}
		}
	}
	return others, xrefs
}

func equalStringSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
