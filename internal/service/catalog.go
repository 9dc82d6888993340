package service

import (
	"context"
	"fmt"
	"sort"

	"fasttrack/internal/models"
)

//// Document catalog

// MandatoryFor resolves the documents every market of the given type must
// require: active, mandatory, and applicable to the type (or to all types).
func (s *Service) MandatoryFor(ctx context.Context, marketType models.MarketType) ([]models.Document, error) {
	docs, err := s.repo.DocumentsForType(ctx, marketType, true)
	if err != nil {
		return nil, fmt.Errorf("service.Service.MandatoryFor: %w", err)
	}
	return docs, nil
}

// OptionalFor resolves the documents a buyer may additionally select for a
// market of the given type.
func (s *Service) OptionalFor(ctx context.Context, marketType models.MarketType) ([]models.Document, error) {
	docs, err := s.repo.DocumentsForType(ctx, marketType, false)
	if err != nil {
		return nil, fmt.Errorf("service.Service.OptionalFor: %w", err)
	}
	return docs, nil
}

// ValidateOptionalDocuments checks that every requested optional id resolves to
// an active, non-mandatory document eligible for the market type, and returns
// the resolved documents. Offending ids are reported back to the caller.
func (s *Service) ValidateOptionalDocuments(ctx context.Context, ids []int64, marketType models.MarketType) ([]models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	docs, err := s.repo.DocumentsByIds(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service.Service.ValidateOptionalDocuments: %w", err)
	}

	byId := make(map[int64]models.Document, len(docs))
	for _, d := range docs {
		byId[d.Id] = d
	}

	var invalid []int64
	seen := make(map[int64]bool, len(ids))
	resolved := make([]models.Document, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		d, ok := byId[id]
		if !ok || !d.Active || d.Mandatory || !d.ApplicableFor(marketType) {
			invalid = append(invalid, id)
			continue
		}
		resolved = append(resolved, d)
	}

	if len(invalid) > 0 {
		sort.Slice(invalid, func(i, j int) bool { return invalid[i] < invalid[j] })
		return nil, &models.InvalidReferenceError{Ids: invalid}
	}

	return resolved, nil
}
