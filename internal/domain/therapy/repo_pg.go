package therapy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested key or source has no stored row.
var ErrNotFound = errors.New("not found")

type sinkPG struct {
	pool *pgxpool.Pool
}

// NewSinkPG creates a Postgres-backed Sink over the therapy_concepts and
// source_metadata tables.
func NewSinkPG(pool *pgxpool.Pool) Sink {
	return &sinkPG{pool: pool}
}

const upsertItemSQL = `
	INSERT INTO therapy_concepts (label_and_type, concept_id, src_name, item_type, record)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (label_and_type, concept_id) DO UPDATE
	SET src_name = EXCLUDED.src_name,
	    item_type = EXCLUDED.item_type,
	    record = EXCLUDED.record`

func itemArgs(item Item) ([]any, error) {
	var recJSON []byte
	if item.Record != nil {
		b, err := json.Marshal(item.Record)
		if err != nil {
			return nil, fmt.Errorf("marshal record %s: %w", item.Record.ConceptID, err)
		}
		recJSON = b
	}
	return []any{item.LabelAndType, item.ConceptID, string(item.SrcName), item.ItemType, recJSON}, nil
}

func (s *sinkPG) Put(ctx context.Context, item Item) error {
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, upsertItemSQL, args...); err != nil {
		return fmt.Errorf("put %s: %w", item.LabelAndType, err)
	}
	return nil
}

func (s *sinkPG) BatchPut(ctx context.Context, items []Item) ([]WriteFailure, error) {
	var failures []WriteFailure
	batch := &pgx.Batch{}
	queued := make([]Item, 0, len(items))
	for _, item := range items {
		args, err := itemArgs(item)
		if err != nil {
			failures = append(failures, WriteFailure{
				Key: ItemKey{LabelAndType: item.LabelAndType, ConceptID: item.ConceptID},
				Err: err,
			})
			continue
		}
		batch.Queue(upsertItemSQL, args...)
		queued = append(queued, item)
	}
	if batch.Len() == 0 {
		return failures, nil
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for _, item := range queued {
		if _, err := results.Exec(); err != nil {
			failures = append(failures, WriteFailure{
				Key: ItemKey{LabelAndType: item.LabelAndType, ConceptID: item.ConceptID},
				Err: err,
			})
		}
	}
	return failures, nil
}

func scanItemRow(rows pgx.Rows) (Item, error) {
	var (
		item    Item
		src     string
		recJSON []byte
	)
	if err := rows.Scan(&item.LabelAndType, &item.ConceptID, &src, &item.ItemType, &recJSON); err != nil {
		return Item{}, err
	}
	item.SrcName = SourceName(src)
	if len(recJSON) > 0 {
		var rec Record
		if err := json.Unmarshal(recJSON, &rec); err != nil {
			return Item{}, fmt.Errorf("unmarshal record %s: %w", item.LabelAndType, err)
		}
		item.Record = &rec
	}
	return item, nil
}

func (s *sinkPG) GetByKey(ctx context.Context, labelAndType string) ([]Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT label_and_type, concept_id, src_name, item_type, record
		 FROM therapy_concepts
		 WHERE label_and_type = $1
		 ORDER BY concept_id`, labelAndType)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", labelAndType, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItemRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type scanCursor struct {
	LabelAndType string `json:"lt"`
	ConceptID    string `json:"cid"`
}

func encodeToken(c scanCursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeToken(token string) (scanCursor, error) {
	var c scanCursor
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, fmt.Errorf("decode continuation token: %w", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("decode continuation token: %w", err)
	}
	return c, nil
}

func (s *sinkPG) Scan(ctx context.Context, filter ScanFilter, token string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 100
	}

	conds := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if token != "" {
		cursor, err := decodeToken(token)
		if err != nil {
			return nil, err
		}
		conds = append(conds, fmt.Sprintf("(label_and_type, concept_id) > (%s, %s)",
			arg(cursor.LabelAndType), arg(cursor.ConceptID)))
	}
	if filter.ExcludeSrc != "" {
		conds = append(conds, "src_name <> "+arg(string(filter.ExcludeSrc)))
	}
	if filter.ItemType != "" {
		conds = append(conds, "item_type = "+arg(filter.ItemType))
	}

	query := `SELECT label_and_type, concept_id, src_name, item_type, record FROM therapy_concepts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY label_and_type, concept_id LIMIT " + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	page := &Page{}
	for rows.Next() {
		item, err := scanItemRow(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Items) == limit {
		last := page.Items[len(page.Items)-1]
		page.NextToken = encodeToken(scanCursor{
			LabelAndType: last.LabelAndType,
			ConceptID:    last.ConceptID,
		})
	}
	return page, nil
}

func (s *sinkPG) Update(ctx context.Context, key ItemKey, upd AttrUpdate) error {
	set := upd.Set
	if set == nil {
		set = map[string][]string{}
	}
	setJSON, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal attribute update: %w", err)
	}
	remove := upd.Remove
	if remove == nil {
		remove = []string{}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE therapy_concepts
		 SET record = (record || $3::jsonb) - $4::text[]
		 WHERE label_and_type = $1 AND concept_id = $2`,
		key.LabelAndType, key.ConceptID, string(setJSON), remove)
	if err != nil {
		return fmt.Errorf("update %s: %w", key.LabelAndType, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", key.LabelAndType, ErrNotFound)
	}
	return nil
}

func (s *sinkPG) PutSourceMeta(ctx context.Context, meta SourceMeta) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal source meta: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO source_metadata (src_name, meta)
		 VALUES ($1, $2)
		 ON CONFLICT (src_name) DO UPDATE SET meta = EXCLUDED.meta`,
		string(meta.SrcName), b)
	if err != nil {
		return fmt.Errorf("put source meta %s: %w", meta.SrcName, err)
	}
	return nil
}

func (s *sinkPG) GetSourceMeta(ctx context.Context, src SourceName) (*SourceMeta, error) {
	var b []byte
	err := s.pool.QueryRow(ctx,
		`SELECT meta FROM source_metadata WHERE src_name = $1`, string(src)).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("source meta %s: %w", src, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get source meta %s: %w", src, err)
	}
	var meta SourceMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal source meta %s: %w", src, err)
	}
	return &meta, nil
}
