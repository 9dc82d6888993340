package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fasttrack/internal/models"
)

//// Access gate

// EditorFromToken resolves the editor behind a presented bearer token via
// authority introspection. Inactive tokens, unknown clients and editors that
// lost their authorization all come back as ErrForbidden.
func (s *Service) EditorFromToken(ctx context.Context, token string) (models.Editor, error) {
	intro, err := s.authority.Introspect(ctx, token)
	if err != nil {
		slog.Error("token introspection failed", "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Editor{}, &models.AuthFailedError{Reason: "timeout"}
		}
		return models.Editor{}, &models.AuthFailedError{Reason: "token authority unavailable"}
	}
	if !intro.Active {
		return models.Editor{}, models.ErrForbidden
	}

	editor, found, err := s.repo.EditorByClientId(ctx, intro.ClientId)
	if err != nil {
		return models.Editor{}, fmt.Errorf("service.Service.EditorFromToken: %w", err)
	}
	if !found || !editor.AuthorizedAndActive() {
		slog.Warn("token client has no usable editor", "client_id", intro.ClientId)
		return models.Editor{}, models.ErrForbidden
	}

	if err = s.repo.TouchTokenUsage(ctx, editor.Id, s.now()); err != nil {
		slog.Warn("could not touch token usage", "editor", editor.Name, "error", err)
	}

	return editor, nil
}

// AuthorizeMarketAccess allows an editor to reach a market and everything
// under it only when the editor owns it. The denial is logged with both
// parties for audit; the caller only ever learns that access was denied.
func (s *Service) AuthorizeMarketAccess(editor models.Editor, market models.Market) error {
	if market.EditorId == editor.Id {
		return nil
	}

	slog.Warn("market access denied", "editor", editor.Id, "owner", market.EditorId, "market", market.Id)
	return models.ErrForbidden
}

// AuthorizeApplicationAccess gates an application and its artifacts by the
// owning market's editor.
func (s *Service) AuthorizeApplicationAccess(ctx context.Context, editor models.Editor, app models.Application) (models.Market, error) {
	market, found, err := s.repo.MarketByUUID(ctx, app.MarketId)
	if err != nil {
		return models.Market{}, fmt.Errorf("service.Service.AuthorizeApplicationAccess: %w", err)
	}
	if !found {
		return models.Market{}, models.ErrNoMarket
	}

	if err = s.AuthorizeMarketAccess(editor, market); err != nil {
		return models.Market{}, err
	}
	return market, nil
}

// Artifact streams a generated artifact for a submitted application after the
// ownership check.
func (s *Service) Artifact(ctx context.Context, editor models.Editor, applicationId, kind string) ([]byte, string, error) {
	app, err := s.Application(ctx, applicationId)
	if err != nil {
		return nil, "", err
	}

	if _, err = s.AuthorizeApplicationAccess(ctx, editor, app); err != nil {
		return nil, "", err
	}
	if !app.Submitted() {
		return nil, "", models.ErrNotSubmitted
	}

	var path, contentType string
	switch kind {
	case "attestation":
		path, contentType = app.AttestationPath, "application/pdf"
	case "bundle":
		path, contentType = app.BundlePath, "application/zip"
	default:
		return nil, "", models.ErrNoArtifact
	}
	if path == "" {
		return nil, "", models.ErrNoArtifact
	}

	exists, err := s.store.Exists(ctx, path)
	if err != nil {
		return nil, "", fmt.Errorf("service.Service.Artifact: %w", err)
	}
	if !exists {
		return nil, "", models.ErrNoArtifact
	}

	data, err := s.store.Read(ctx, path)
	if err != nil {
		return nil, "", fmt.Errorf("service.Service.Artifact: %w", err)
	}

	return data, contentType, nil
}

// SubmittedApplications lists a market's submitted applications for its owner.
func (s *Service) SubmittedApplications(ctx context.Context, editor models.Editor, marketId string, limit, offset int) ([]models.Application, error) {
	market, found, err := s.repo.MarketByUUID(ctx, marketId)
	if err != nil {
		return nil, fmt.Errorf("service.Service.SubmittedApplications: %w", err)
	}
	if !found {
		return nil, models.ErrNoMarket
	}

	if err = s.AuthorizeMarketAccess(editor, market); err != nil {
		return nil, err
	}

	apps, err := s.repo.SubmittedApplicationsForMarket(ctx, market.Id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("service.Service.SubmittedApplications: %w", err)
	}
	return apps, nil
}
