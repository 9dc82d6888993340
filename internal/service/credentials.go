package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fasttrack/internal/models"
)

//// Machine credentials (client-credentials flow for editor platforms)

// EditorByCredentials resolves an editor by its machine client id and verifies
// the presented secret in constant time. Unknown clients and bad secrets are
// indistinguishable to the caller.
func (s *Service) EditorByCredentials(ctx context.Context, clientId, clientSecret string) (models.Editor, error) {
	editor, found, err := s.repo.EditorByClientId(ctx, clientId)
	if err != nil {
		return models.Editor{}, fmt.Errorf("service.Service.EditorByCredentials: %w", err)
	}
	if !found {
		return models.Editor{}, &models.AuthFailedError{Reason: "invalid client credentials"}
	}
	if subtle.ConstantTimeCompare([]byte(editor.ClientSecret), []byte(clientSecret)) != 1 {
		slog.Warn("client secret mismatch", "client_id", clientId)
		return models.Editor{}, &models.AuthFailedError{Reason: "invalid client credentials"}
	}
	return editor, nil
}

// Authenticate runs the client-credentials grant for an editor platform. An
// editor that is not authorized, active and machine-auth enabled gets
// ErrNotReady without the token authority ever being contacted. Authority
// failures come back as AuthFailedError; the client secret is never logged.
func (s *Service) Authenticate(ctx context.Context, editor models.Editor) (models.TokenResult, error) {
	if !editor.MachineAuthReady() {
		return models.TokenResult{}, models.ErrNotReady
	}

	tok, err := s.authority.Issue(ctx, editor.ClientId, editor.ClientSecret, models.MachineScopes)
	if err != nil {
		slog.Error("client credentials grant failed", "editor", editor.Name, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return models.TokenResult{}, &models.AuthFailedError{Reason: "timeout"}
		}
		return models.TokenResult{}, &models.AuthFailedError{Reason: "token authority rejected the request"}
	}

	if err = s.repo.RecordTokenExpiry(ctx, editor.Id, &tok.ExpiresAt); err != nil {
		// token is already issued and usable, the metadata write is advisory
		slog.Warn("could not record token expiry", "editor", editor.Name, "error", err)
	}

	expiresIn := int64(tok.ExpiresAt.Sub(s.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	return models.TokenResult{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   expiresIn,
		ExpiresAt:   tok.ExpiresAt,
		Scope:       tok.Scope,
	}, nil
}

// RefreshToken re-runs Authenticate. Client credentials has no refresh token;
// refreshing is idempotent re-issuance and does not invalidate prior tokens.
func (s *Service) RefreshToken(ctx context.Context, editor models.Editor) (models.TokenResult, error) {
	result, err := s.Authenticate(ctx, editor)
	if err != nil {
		return models.TokenResult{}, err
	}
	slog.Info("machine token refreshed", "editor", editor.Name)
	return result, nil
}

// TokenStatus projects the current state of a presented machine token. The
// editor's last-used timestamp is touched as a side effect of a valid check.
func (s *Service) TokenStatus(ctx context.Context, editor models.Editor, token string) (models.TokenStatus, error) {
	intro, err := s.authority.Introspect(ctx, token)
	if err != nil {
		slog.Error("token introspection failed", "editor", editor.Name, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return models.TokenStatus{}, &models.AuthFailedError{Reason: "timeout"}
		}
		return models.TokenStatus{}, &models.AuthFailedError{Reason: "token authority unavailable"}
	}

	if intro.Active && intro.ClientId != editor.ClientId {
		slog.Warn("token presented by wrong editor", "editor", editor.Name, "token_client", intro.ClientId)
		return models.TokenStatus{}, models.ErrForbidden
	}

	now := s.now()
	expiresIn := int64(intro.ExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	status := models.TokenStatus{
		ExpiresAt:  intro.ExpiresAt,
		ExpiresIn:  expiresIn,
		Scopes:     splitScopes(intro.Scope),
		LastUsedAt: editor.TokenLastUsedAt,
		Valid:      intro.Active && intro.ExpiresAt.After(now),
	}

	if status.Valid {
		if err = s.repo.TouchTokenUsage(ctx, editor.Id, now); err != nil {
			slog.Warn("could not touch token usage", "editor", editor.Name, "error", err)
		}
	}

	return status, nil
}

// RevokeToken is best-effort maintenance: failures are logged, never surfaced.
func (s *Service) RevokeToken(ctx context.Context, editor models.Editor, token string) {
	if err := s.authority.Revoke(ctx, editor.ClientId, editor.ClientSecret, token); err != nil {
		slog.Warn("token revocation failed", "editor", editor.Name, "error", err)
		return
	}
	if err := s.repo.RecordTokenExpiry(ctx, editor.Id, nil); err != nil {
		slog.Warn("could not clear token expiry", "editor", editor.Name, "error", err)
	}
	slog.Info("machine token revoked", "editor", editor.Name)
}

// CleanupExpired clears stale token metadata for an editor. Token storage
// itself belongs to the authority; only the recorded expiry is maintained
// here. Best-effort, failures are logged.
func (s *Service) CleanupExpired(ctx context.Context, editor models.Editor) {
	if editor.TokenExpiresAt == nil || editor.TokenExpiresAt.After(s.now()) {
		return
	}
	if err := s.repo.RecordTokenExpiry(ctx, editor.Id, nil); err != nil {
		slog.Warn("could not clean up expired token metadata", "editor", editor.Name, "error", err)
		return
	}
	slog.Info("expired token metadata cleaned", "editor", editor.Name)
}

// MachineStatus describes the editor's machine-auth posture based on the
// recorded expiry metadata.
func (s *Service) MachineStatus(editor models.Editor) models.MachineStatus {
	status := models.MachineStatus{
		EditorId:   editor.Id,
		EditorName: editor.Name,
	}

	switch {
	case !editor.MachineAuthReady():
		status.State = models.MachineNotReady
	case editor.TokenExpiresAt == nil:
		status.State = models.MachineNotAuthenticated
	case editor.TokenExpiresAt.Before(s.now()):
		status.State = models.MachineTokenExpired
	default:
		status.State = models.MachineAuthenticated
		expiresIn := int64(editor.TokenExpiresAt.Sub(s.now()).Seconds())
		status.Token = &models.TokenStatus{
			ExpiresAt:  *editor.TokenExpiresAt,
			ExpiresIn:  expiresIn,
			Scopes:     models.MachineScopes,
			LastUsedAt: editor.TokenLastUsedAt,
			Valid:      true,
		}
	}

	return status
}

// RefreshExpiringTokens is the scheduled sweep: every machine-ready editor
// whose recorded token expiry falls within the refresh threshold gets a
// proactive re-issuance. Individual failures are logged and do not stop the
// sweep.
func (s *Service) RefreshExpiringTokens(ctx context.Context) error {
	editors, err := s.repo.MachineReadyEditors(ctx)
	if err != nil {
		return fmt.Errorf("service.Service.RefreshExpiringTokens: %w", err)
	}

	now := s.now()
	for _, editor := range editors {
		if editor.TokenExpiresAt == nil {
			continue
		}
		if editor.TokenExpiresAt.After(now.Add(s.refreshThreshold)) {
			continue
		}

		if _, err := s.RefreshToken(ctx, editor); err != nil {
			slog.Warn("proactive token refresh failed", "editor", editor.Name, "error", err)
			s.CleanupExpired(ctx, editor)
		}
	}

	return nil
}

func splitScopes(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
