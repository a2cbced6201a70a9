package etl

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/cancervariants/therapy-term-normalization/internal/domain/therapy"
)

// fakeSink is an in-memory therapy.Sink for adapter and backfill tests.
type fakeSink struct {
	items   map[therapy.ItemKey]therapy.Item
	meta    map[therapy.SourceName]therapy.SourceMeta
	updates []therapy.AttrUpdate
	scans   int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		items: make(map[therapy.ItemKey]therapy.Item),
		meta:  make(map[therapy.SourceName]therapy.SourceMeta),
	}
}

func (s *fakeSink) Put(ctx context.Context, item therapy.Item) error {
	s.items[therapy.ItemKey{LabelAndType: item.LabelAndType, ConceptID: item.ConceptID}] = item
	return nil
}

func (s *fakeSink) BatchPut(ctx context.Context, items []therapy.Item) ([]therapy.WriteFailure, error) {
	for _, item := range items {
		if err := s.Put(ctx, item); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *fakeSink) GetByKey(ctx context.Context, labelAndType string) ([]therapy.Item, error) {
	var out []therapy.Item
	for k, item := range s.items {
		if k.LabelAndType == labelAndType {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConceptID < out[j].ConceptID })
	return out, nil
}

func (s *fakeSink) Scan(ctx context.Context, filter therapy.ScanFilter, token string, limit int) (*therapy.Page, error) {
	s.scans++
	keys := make([]therapy.ItemKey, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].LabelAndType != keys[j].LabelAndType {
			return keys[i].LabelAndType < keys[j].LabelAndType
		}
		return keys[i].ConceptID < keys[j].ConceptID
	})

	start := 0
	if token != "" {
		start, _ = strconv.Atoi(token)
	}
	page := &therapy.Page{}
	i := start
	for ; i < len(keys) && len(page.Items) < limit; i++ {
		item := s.items[keys[i]]
		if filter.ExcludeSrc != "" && item.SrcName == filter.ExcludeSrc {
			continue
		}
		if filter.ItemType != "" && item.ItemType != filter.ItemType {
			continue
		}
		page.Items = append(page.Items, item)
	}
	if i < len(keys) {
		page.NextToken = strconv.Itoa(i)
	}
	return page, nil
}

func (s *fakeSink) Update(ctx context.Context, key therapy.ItemKey, upd therapy.AttrUpdate) error {
	s.updates = append(s.updates, upd)
	item, ok := s.items[key]
	if !ok || item.Record == nil {
		return therapy.ErrNotFound
	}
	rec := *item.Record
	for attr, vals := range upd.Set {
		applyAttr(&rec, attr, vals)
	}
	for _, attr := range upd.Remove {
		applyAttr(&rec, attr, nil)
	}
	item.Record = &rec
	s.items[key] = item
	return nil
}

func applyAttr(rec *therapy.Record, attr string, vals []string) {
	switch strings.ToLower(attr) {
	case "other_identifiers":
		rec.OtherIdentifiers = vals
	case "xrefs":
		rec.Xrefs = vals
	case "aliases":
		rec.Aliases = vals
	case "trade_names":
		rec.TradeNames = vals
	}
}

func (s *fakeSink) PutSourceMeta(ctx context.Context, meta therapy.SourceMeta) error {
	s.meta[meta.SrcName] = meta
	return nil
}

func (s *fakeSink) GetSourceMeta(ctx context.Context, src therapy.SourceName) (*therapy.SourceMeta, error) {
	meta, ok := s.meta[src]
	if !ok {
		return nil, therapy.ErrNotFound
	}
	return &meta, nil
}

// identityRecord fetches the stored identity record for a concept id.
func (s *fakeSink) identityRecord(conceptID string) *therapy.Record {
	key := strings.ToLower(conceptID) + "##" + therapy.TypeIdentity
	for k, item := range s.items {
		if k.LabelAndType == key && item.Record != nil {
			return item.Record
		}
	}
	return nil
}
