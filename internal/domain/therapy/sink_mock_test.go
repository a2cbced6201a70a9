package therapy

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

// memSink is an in-memory Sink for tests. Items live in a map keyed the same
// way the real store keys rows; scans iterate in sorted key order so paging
// is deterministic.
type memSink struct {
	items map[ItemKey]Item
	meta  map[SourceName]SourceMeta

	puts     int
	updates  int
	failKeys map[string]error
}

func newMemSink() *memSink {
	return &memSink{
		items:    make(map[ItemKey]Item),
		meta:     make(map[SourceName]SourceMeta),
		failKeys: make(map[string]error),
	}
}

func (m *memSink) Put(ctx context.Context, item Item) error {
	if err := m.failKeys[item.LabelAndType]; err != nil {
		return err
	}
	m.items[ItemKey{item.LabelAndType, item.ConceptID}] = item
	m.puts++
	return nil
}

func (m *memSink) BatchPut(ctx context.Context, items []Item) ([]WriteFailure, error) {
	var failures []WriteFailure
	for _, item := range items {
		if err := m.Put(ctx, item); err != nil {
			failures = append(failures, WriteFailure{
				Key: ItemKey{item.LabelAndType, item.ConceptID},
				Err: err,
			})
		}
	}
	return failures, nil
}

func (m *memSink) GetByKey(ctx context.Context, labelAndType string) ([]Item, error) {
	var out []Item
	for k, item := range m.items {
		if k.LabelAndType == labelAndType {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConceptID < out[j].ConceptID })
	return out, nil
}

func (m *memSink) sortedKeys() []ItemKey {
	keys := make([]ItemKey, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].LabelAndType != keys[j].LabelAndType {
			return keys[i].LabelAndType < keys[j].LabelAndType
		}
		return keys[i].ConceptID < keys[j].ConceptID
	})
	return keys
}

func (m *memSink) Scan(ctx context.Context, filter ScanFilter, token string, limit int) (*Page, error) {
	start := 0
	if token != "" {
		start, _ = strconv.Atoi(token)
	}
	keys := m.sortedKeys()
	page := &Page{}
	i := start
	for ; i < len(keys) && len(page.Items) < limit; i++ {
		item := m.items[keys[i]]
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

func (m *memSink) Update(ctx context.Context, key ItemKey, upd AttrUpdate) error {
	item, ok := m.items[key]
	if !ok || item.Record == nil {
		return ErrNotFound
	}
	rec := *item.Record
	for attr, vals := range upd.Set {
		setRecordAttr(&rec, attr, vals)
	}
	for _, attr := range upd.Remove {
		setRecordAttr(&rec, attr, nil)
	}
	item.Record = &rec
	m.items[key] = item
	m.updates++
	return nil
}

func setRecordAttr(rec *Record, attr string, vals []string) {
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

func (m *memSink) PutSourceMeta(ctx context.Context, meta SourceMeta) error {
	m.meta[meta.SrcName] = meta
	return nil
}

func (m *memSink) GetSourceMeta(ctx context.Context, src SourceName) (*SourceMeta, error) {
	meta, ok := m.meta[src]
	if !ok {
		return nil, ErrNotFound
	}
	return &meta, nil
}
