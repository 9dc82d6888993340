package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fasttrack/internal/models"
)

//// Market configuration

const minDeadlineLead = time.Hour

// ValidateDraft checks the market draft's field constraints. A nil return
// means the draft is well formed; document references are validated separately
// against the catalog.
func ValidateDraft(draft models.MarketDraft, now time.Time) *models.ValidationError {
	fields := make(map[string]string)

	if n := len(draft.Title); n < 3 || n > 255 {
		fields["title"] = "must be between 3 and 255 characters"
	}
	if n := len(draft.Description); n < 10 || n > 2000 {
		fields["description"] = "must be between 10 and 2000 characters"
	}
	if !models.ValidMarketType(draft.MarketType) {
		fields["market_type"] = fmt.Sprintf("must be one of: %s, %s, %s",
			models.MTSupplies, models.MTServices, models.MTWorks)
	}
	if draft.Deadline.IsZero() {
		fields["deadline"] = "is required"
	} else if draft.Deadline.Before(now.Add(minDeadlineLead)) {
		fields["deadline"] = "must be at least 1 hour in the future"
	}

	if len(fields) > 0 {
		return &models.ValidationError{Fields: fields}
	}
	return nil
}

// ConfigureMarket atomically creates a market and its resolved document
// requirements for an authorized editor. The requirement set is the union of
// the catalog's mandatory documents for the market type and the buyer's
// selected optional documents, snapshotted at configuration time.
func (s *Service) ConfigureMarket(ctx context.Context, editor models.Editor, draft models.MarketDraft) (models.Market, []models.Requirement, error) {
	if !editor.AuthorizedAndActive() {
		return models.Market{}, nil, models.ErrUnauthorized
	}

	if verr := ValidateDraft(draft, s.now()); verr != nil {
		return models.Market{}, nil, verr
	}

	optionalDocs, err := s.ValidateOptionalDocuments(ctx, draft.OptionalDocumentIds, draft.MarketType)
	if err != nil {
		var refErr *models.InvalidReferenceError
		if errors.As(err, &refErr) {
			return models.Market{}, nil, refErr
		}
		return models.Market{}, nil, fmt.Errorf("service.Service.ConfigureMarket: %w", err)
	}

	mandatoryDocs, err := s.MandatoryFor(ctx, draft.MarketType)
	if err != nil {
		return models.Market{}, nil, fmt.Errorf("service.Service.ConfigureMarket: %w", err)
	}

	requirements := make([]models.Requirement, 0, len(mandatoryDocs)+len(optionalDocs))
	for _, d := range mandatoryDocs {
		requirements = append(requirements, models.Requirement{DocumentId: d.Id, Required: true, Document: d})
	}
	for _, d := range optionalDocs {
		requirements = append(requirements, models.Requirement{DocumentId: d.Id, Required: false, Document: d})
	}

	market := models.Market{
		EditorId:    editor.Id,
		Title:       draft.Title,
		Description: draft.Description,
		Deadline:    draft.Deadline,
		MarketType:  draft.MarketType,
	}

	market, err = s.repo.AddMarket(ctx, market, requirements)
	if err != nil {
		slog.Error("market configuration failed", "editor", editor.Name, "error", err)
		return models.Market{}, nil, fmt.Errorf("service.Service.ConfigureMarket: could not persist market")
	}

	for i := range requirements {
		requirements[i].MarketId = market.Id
	}

	slog.Info("market configured", "editor", editor.Name,
		"fast_track_id", market.FastTrackId, "requirements", len(requirements))

	return market, requirements, nil
}

// MarketWithRequirements loads a market owned by the editor along with its
// requirement set.
func (s *Service) MarketWithRequirements(ctx context.Context, marketId string) (models.Market, []models.Requirement, error) {
	market, found, err := s.repo.MarketByUUID(ctx, marketId)
	if err != nil {
		return models.Market{}, nil, fmt.Errorf("service.Service.MarketWithRequirements: %w", err)
	}
	if !found {
		return models.Market{}, nil, models.ErrNoMarket
	}

	requirements, err := s.repo.RequirementsForMarket(ctx, market.Id)
	if err != nil {
		return models.Market{}, nil, fmt.Errorf("service.Service.MarketWithRequirements: %w", err)
	}

	return market, requirements, nil
}

func (s *Service) EditorMarkets(ctx context.Context, editorId string, limit, offset int) ([]models.Market, error) {
	markets, err := s.repo.MarketsByEditor(ctx, editorId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("service.Service.EditorMarkets: %w", err)
	}
	return markets, nil
}
