package service

import (
	"context"
	"fmt"
	"net/mail"

	"fasttrack/internal/models"
)

//// Application lifecycle

// CandidateMarket resolves a market by its public fast-track id and verifies
// it still accepts applications. Closed and inactive markets are reported with
// distinct errors so the caller can render an actionable message.
func (s *Service) CandidateMarket(ctx context.Context, fastTrackId string) (models.Market, []models.Requirement, error) {
	market, found, err := s.repo.MarketByFastTrackId(ctx, fastTrackId)
	if err != nil {
		return models.Market{}, nil, fmt.Errorf("service.Service.CandidateMarket: %w", err)
	}
	if !found {
		return models.Market{}, nil, models.ErrNoMarket
	}
	if !market.Active {
		return models.Market{}, nil, models.ErrMarketClosed
	}
	if !market.Open(s.now()) {
		return models.Market{}, nil, models.ErrDeadlinePassed
	}

	requirements, err := s.repo.RequirementsForMarket(ctx, market.Id)
	if err != nil {
		return models.Market{}, nil, fmt.Errorf("service.Service.CandidateMarket: %w", err)
	}

	return market, requirements, nil
}

// FindOrCreateApplication is the candidate's idempotent first touch: it
// returns the existing application for (market, siret) or creates one in
// progress. Concurrent calls for the same pair converge on a single row.
func (s *Service) FindOrCreateApplication(ctx context.Context, fastTrackId, siret, companyName string) (models.Application, error) {
	if !models.ValidSIRET(siret) {
		return models.Application{}, &models.ValidationError{
			Fields: map[string]string{"siret": "must contain exactly 14 digits"},
		}
	}

	market, _, err := s.CandidateMarket(ctx, fastTrackId)
	if err != nil {
		return models.Application{}, err
	}

	if companyName == "" {
		companyName = "Entreprise " + siret[0:9]
	}

	app, err := s.repo.FindOrCreateApplication(ctx, market.Id, siret, companyName)
	if err != nil {
		return models.Application{}, fmt.Errorf("service.Service.FindOrCreateApplication: %w", err)
	}

	return app, nil
}

// UpdateContactInfo merges a partial contact change into an in_progress
// application. Submitted applications reject any mutation.
func (s *Service) UpdateContactInfo(ctx context.Context, applicationId string, upd models.ContactUpdate) (models.Application, error) {
	if upd.Email != nil && *upd.Email != "" {
		if _, err := mail.ParseAddress(*upd.Email); err != nil {
			return models.Application{}, &models.ValidationError{
				Fields: map[string]string{"email": "is not a valid email address"},
			}
		}
	}

	app, err := s.repo.UpdateContactInfo(ctx, applicationId, upd)
	if err != nil {
		return models.Application{}, fmt.Errorf("service.Service.UpdateContactInfo: %w", err)
	}

	return app, nil
}

// AttachDocument stores an uploaded blob and records it against the
// requirement it fulfills. The document must belong to the market's
// requirement set; re-uploading replaces the prior attachment.
func (s *Service) AttachDocument(ctx context.Context, applicationId string, documentId int64, filename, contentType string, data []byte) (models.Attachment, error) {
	app, found, err := s.repo.ApplicationByUUID(ctx, applicationId)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("service.Service.AttachDocument: %w", err)
	}
	if !found {
		return models.Attachment{}, models.ErrNoApplication
	}
	if app.Submitted() {
		return models.Attachment{}, models.ErrAlreadySubmitted
	}

	requirements, err := s.repo.RequirementsForMarket(ctx, app.MarketId)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("service.Service.AttachDocument: %w", err)
	}
	known := false
	for _, r := range requirements {
		if r.DocumentId == documentId {
			known = true
			break
		}
	}
	if !known {
		return models.Attachment{}, &models.InvalidReferenceError{Ids: []int64{documentId}}
	}

	blobPath := fmt.Sprintf("uploads/%s/%d", app.Id, documentId)
	if err = s.store.Write(ctx, blobPath, data, contentType); err != nil {
		return models.Attachment{}, fmt.Errorf("service.Service.AttachDocument: %w", err)
	}

	att, err := s.repo.UpsertAttachment(ctx, models.Attachment{
		ApplicationId: app.Id,
		DocumentId:    documentId,
		Filename:      filename,
		BlobPath:      blobPath,
		ContentType:   contentType,
		SizeBytes:     int64(len(data)),
	})
	if err != nil {
		return models.Attachment{}, fmt.Errorf("service.Service.AttachDocument: %w", err)
	}

	return att, nil
}

// CompletenessGap reports what still blocks submission. Both slices empty
// means the application is complete.
func (s *Service) CompletenessGap(ctx context.Context, applicationId string) (missingFields []string, missingDocIds []int64, err error) {
	app, found, err := s.repo.ApplicationByUUID(ctx, applicationId)
	if err != nil {
		return nil, nil, fmt.Errorf("service.Service.CompletenessGap: %w", err)
	}
	if !found {
		return nil, nil, models.ErrNoApplication
	}

	missingFields, missingDocIds, err = s.repo.CompletenessGap(ctx, app, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("service.Service.CompletenessGap: %w", err)
	}
	return missingFields, missingDocIds, nil
}

// IsComplete is true iff contact email and contact person are present and
// every required document has a matching attachment. Optional attachments
// never compensate for a missing required document.
func (s *Service) IsComplete(ctx context.Context, applicationId string) (bool, error) {
	missingFields, missingDocIds, err := s.CompletenessGap(ctx, applicationId)
	if err != nil {
		return false, err
	}
	return len(missingFields) == 0 && len(missingDocIds) == 0, nil
}

// ReadyForSubmission is true iff the application is complete and still in progress.
func (s *Service) ReadyForSubmission(ctx context.Context, applicationId string) (bool, error) {
	app, found, err := s.repo.ApplicationByUUID(ctx, applicationId)
	if err != nil {
		return false, fmt.Errorf("service.Service.ReadyForSubmission: %w", err)
	}
	if !found {
		return false, models.ErrNoApplication
	}
	if !app.InProgress() {
		return false, nil
	}

	complete, err := s.IsComplete(ctx, applicationId)
	if err != nil {
		return false, err
	}
	return complete, nil
}

func (s *Service) Application(ctx context.Context, applicationId string) (models.Application, error) {
	app, found, err := s.repo.ApplicationByUUID(ctx, applicationId)
	if err != nil {
		return models.Application{}, fmt.Errorf("service.Service.Application: %w", err)
	}
	if !found {
		return models.Application{}, models.ErrNoApplication
	}
	return app, nil
}
