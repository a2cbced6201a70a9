package therapy

import (
	"context"
	"fmt"
	"strings"
)

// SearchMatch is one exact-match hit for a query string.
type SearchMatch struct {
	ConceptID string     `json:"concept_id"`
	MatchType string     `json:"match_type"`
	SrcName   SourceName `json:"src_name"`
}

// SearchResult groups all hits for one query plus the identity records they
// resolve to.
type SearchResult struct {
	Query   string        `json:"query"`
	Matches []SearchMatch `json:"matches"`
	Records []*Record     `json:"records"`
}

// Service answers exact-match lookups over the stored namespace. Matching is
// exact on the lowercased query; no fuzzy matching and no ranking.
type Service struct {
	sink Sink
}

// NewService creates a query service over a sink.
func NewService(sink Sink) *Service {
	return &Service{sink: sink}
}

// searchTypes is the order lookup subtypes are probed; it determines match
// ordering in results, nothing more.
var searchTypes = []string{TypeIdentity, TypeLabel, TypeAlias, TypeTradeName, TypeRxBrand}

// Search probes every lookup subtype for an exact match on the query and
// resolves matched concept ids to their identity records.
func (s *Service) Search(ctx context.Context, query string) (*SearchResult, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	result := &SearchResult{Query: query}
	seen := make(map[string]struct{})
	for _, t := range searchTypes {
		items, err := s.sink.GetByKey(ctx, query+"##"+t)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			result.Matches = append(result.Matches, SearchMatch{
				ConceptID: item.ConceptID,
				MatchType: item.ItemType,
				SrcName:   item.SrcName,
			})
			cid := strings.ToLower(item.ConceptID)
			if _, ok := seen[cid]; ok {
				continue
			}
			seen[cid] = struct{}{}
			rec, err := s.getIdentity(ctx, cid)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				result.Records = append(result.Records, rec)
			}
		}
	}
	return result, nil
}

// GetConcept fetches the identity record for a namespaced concept id.
func (s *Service) GetConcept(ctx context.Context, conceptID string) (*Record, error) {
	if conceptID == "" {
		return nil, fmt.Errorf("concept id is required")
	}
	rec, err := s.getIdentity(ctx, strings.ToLower(conceptID))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("concept %s: %w", conceptID, ErrNotFound)
	}
	return rec, nil
}

func (s *Service) getIdentity(ctx context.Context, conceptIDLower string) (*Record, error) {
	items, err := s.sink.GetByKey(ctx, conceptIDLower+"##"+TypeIdentity)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Record != nil {
			return item.Record, nil
		}
	}
	return nil, nil
}

// SourceMeta fetches the provenance record for a source.
func (s *Service) SourceMeta(ctx context.Context, src SourceName) (*SourceMeta, error) {
	if src == "" {
		return nil, fmt.Errorf("source name is required")
	}
	return s.sink.GetSourceMeta(ctx, src)
}
