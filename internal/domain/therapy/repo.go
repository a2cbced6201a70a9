package therapy

import "context"

// ItemKey identifies one row in the flat namespace.
type ItemKey struct {
	LabelAndType string
	ConceptID    string
}

// WriteFailure reports one item that could not be persisted. A failed item
// never aborts the rest of its batch.
type WriteFailure struct {
	Key ItemKey
	Err error
}

// ScanFilter restricts a scan. Zero values mean no restriction.
type ScanFilter struct {
	// ExcludeSrc skips items from one source.
	ExcludeSrc SourceName
	// ItemType restricts to one item type tag.
	ItemType string
}

// Page is one scan page. NextToken is an opaque continuation token; empty
// means the scan is exhausted.
type Page struct {
	Items     []Item
	NextToken string
}

// AttrUpdate describes a targeted change to an identity record's attribute
// document. Remove deletes the attribute entirely, mirroring the invariant
// that absent beats empty.
type AttrUpdate struct {
	Set    map[string][]string
	Remove []string
}

// Sink is the durable keyed store consumed by the index writer, the query
// service, and the backfill job. Every write is independently idempotent:
// re-putting an identical item leaves the stored row byte-identical.
type Sink interface {
	// Put upserts a single item.
	Put(ctx context.Context, item Item) error
	// BatchPut upserts a batch, reporting per-item failures. The returned
	// error covers transport-level problems only.
	BatchPut(ctx context.Context, items []Item) ([]WriteFailure, error)
	// GetByKey returns all items stored under one label_and_type key.
	GetByKey(ctx context.Context, labelAndType string) ([]Item, error)
	// Scan pages through items matching the filter. Passing the returned
	// NextToken resumes exactly after the last item of the prior page.
	Scan(ctx context.Context, filter ScanFilter, token string, limit int) (*Page, error)
	// Update applies attribute changes to one stored identity record.
	Update(ctx context.Context, key ItemKey, upd AttrUpdate) error
	// PutSourceMeta upserts the provenance record for a source.
	PutSourceMeta(ctx context.Context, meta SourceMeta) error
	// GetSourceMeta fetches the provenance record for a source.
	GetSourceMeta(ctx context.Context, src SourceName) (*SourceMeta, error)
}
