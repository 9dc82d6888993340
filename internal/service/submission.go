package service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fasttrack/internal/models"
	"fasttrack/internal/repository"
)

//// Submission

// NewSubmissionId mints a submission identifier: FT, the submission date, and
// 8 upper-case hex characters of fresh entropy. The date component aids
// operational triage; the random component carries the uniqueness.
func NewSubmissionId(now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("service.NewSubmissionId: %w", err)
	}
	return "FT" + now.Format("20060102") + strings.ToUpper(hex.EncodeToString(buf)), nil
}

// SubmitApplication performs the legal act of submitting: inside one
// transaction the preconditions are re-validated and the application is
// flipped to submitted with its identifier and timestamp. Artifact generation
// runs after the commit and is best effort; its failure never rolls back a
// submission, it leaves a degraded state repairable via RegenerateArtifacts.
func (s *Service) SubmitApplication(ctx context.Context, applicationId string) (models.Application, error) {
	const maxIdRetries = 3

	now := s.now()

	var app models.Application
	var err error
	for attempt := 0; attempt < maxIdRetries; attempt++ {
		var submissionId string
		submissionId, err = NewSubmissionId(now)
		if err != nil {
			return models.Application{}, fmt.Errorf("service.Service.SubmitApplication: %w", err)
		}

		var taken bool
		taken, err = s.repo.IsSubmissionIdTaken(ctx, submissionId)
		if err != nil {
			return models.Application{}, fmt.Errorf("service.Service.SubmitApplication: %w", err)
		}
		if taken {
			err = fmt.Errorf("service.Service.SubmitApplication: submission id %s already taken", submissionId)
			continue
		}

		app, err = s.repo.SubmitApplication(ctx, applicationId, submissionId, now)
		if err == nil {
			break
		}
		if repository.IsSubmissionIdConflict(err) {
			continue
		}
		return models.Application{}, fmt.Errorf("service.Service.SubmitApplication: %w", err)
	}
	if err != nil {
		return models.Application{}, fmt.Errorf("service.Service.SubmitApplication: %w", err)
	}

	slog.Info("application submitted", "submission_id", app.SubmissionId,
		"application", app.Id, "siret", app.SIRET)

	app, err = s.generateArtifacts(ctx, app)
	if err != nil {
		// the submission stands; artifacts are repairable
		slog.Warn("artifact generation failed after submit", "submission_id", app.SubmissionId,
			"application", app.Id, "error", err)
	}

	return app, nil
}

// RegenerateArtifacts rebuilds the attestation and documents bundle for a
// submitted application. Idempotent: artifacts are rewritten at the same paths.
func (s *Service) RegenerateArtifacts(ctx context.Context, applicationId string) (models.Application, error) {
	app, found, err := s.repo.ApplicationByUUID(ctx, applicationId)
	if err != nil {
		return models.Application{}, fmt.Errorf("service.Service.RegenerateArtifacts: %w", err)
	}
	if !found {
		return models.Application{}, models.ErrNoApplication
	}
	if !app.Submitted() {
		return models.Application{}, models.ErrNotSubmitted
	}

	app, err = s.generateArtifacts(ctx, app)
	if err != nil {
		return models.Application{}, fmt.Errorf("service.Service.RegenerateArtifacts: %w", err)
	}
	return app, nil
}

func (s *Service) generateArtifacts(ctx context.Context, app models.Application) (models.Application, error) {
	market, found, err := s.repo.MarketByUUID(ctx, app.MarketId)
	if err != nil {
		return app, fmt.Errorf("service.Service.generateArtifacts: %w", err)
	}
	if !found {
		return app, models.ErrNoMarket
	}

	requirements, err := s.repo.RequirementsForMarket(ctx, market.Id)
	if err != nil {
		return app, fmt.Errorf("service.Service.generateArtifacts: %w", err)
	}

	attachments, err := s.repo.AttachmentsForApplication(ctx, app.Id)
	if err != nil {
		return app, fmt.Errorf("service.Service.generateArtifacts: %w", err)
	}

	attestation := RenderAttestation(market, app, requirements, attachments)
	attestationPath := fmt.Sprintf("attestations/attestation_%s.pdf", app.SubmissionId)
	if err = s.store.Write(ctx, attestationPath, []byte(attestation), "application/pdf"); err != nil {
		return app, fmt.Errorf("service.Service.generateArtifacts: %w", err)
	}

	bundle, err := s.renderBundle(ctx, requirements, attachments)
	if err != nil {
		return app, fmt.Errorf("service.Service.generateArtifacts: %w", err)
	}
	bundlePath := fmt.Sprintf("applications/candidature_%s.zip", app.SubmissionId)
	if err = s.store.Write(ctx, bundlePath, bundle, "application/zip"); err != nil {
		return app, fmt.Errorf("service.Service.generateArtifacts: %w", err)
	}

	if err = s.repo.SetArtifactPaths(ctx, app.Id, attestationPath, bundlePath); err != nil {
		return app, fmt.Errorf("service.Service.generateArtifacts: %w", err)
	}

	app.AttestationPath = attestationPath
	app.BundlePath = bundlePath
	return app, nil
}

// renderBundle packages every attached blob into one zip, entries named after
// the fulfilled document.
func (s *Service) renderBundle(ctx context.Context, requirements []models.Requirement, attachments []models.Attachment) ([]byte, error) {
	names := make(map[int64]string, len(requirements))
	for _, r := range requirements {
		names[r.DocumentId] = r.Document.Name
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, att := range attachments {
		data, err := s.store.Read(ctx, att.BlobPath)
		if err != nil {
			return nil, fmt.Errorf("read attachment blob %s: %w", att.BlobPath, err)
		}

		entry := att.Filename
		if name, ok := names[att.DocumentId]; ok {
			entry = fmt.Sprintf("%d_%s_%s", att.DocumentId, sanitizeEntryName(name), att.Filename)
		}
		w, err := zw.Create(entry)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", entry, err)
		}
		if _, err = w.Write(data); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", entry, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}

	return buf.Bytes(), nil
}

func sanitizeEntryName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, name)
}

// RenderAttestation produces the deposit attestation: market identity,
// candidate identity, submission id and time, and a fulfilled/missing line per
// requirement. A document is only ever reported as provided when its
// attachment was verified present at generation time.
func RenderAttestation(market models.Market, app models.Application, requirements []models.Requirement, attachments []models.Attachment) string {
	attached := make(map[int64]bool, len(attachments))
	for _, att := range attachments {
		attached[att.DocumentId] = true
	}

	var b strings.Builder
	b.WriteString("ATTESTATION DE DEPOT FAST TRACK\n")
	b.WriteString("================================\n\n")

	fmt.Fprintf(&b, "Marche: %s\n", market.Title)
	fmt.Fprintf(&b, "Fast Track ID: %s\n\n", market.FastTrackId)

	b.WriteString("CANDIDAT\n--------\n")
	fmt.Fprintf(&b, "SIRET: %s\n", app.FormattedSIRET())
	fmt.Fprintf(&b, "Entreprise: %s\n", app.CompanyName)
	fmt.Fprintf(&b, "Email: %s\n", app.Email)
	fmt.Fprintf(&b, "Telephone: %s\n", app.Phone)
	fmt.Fprintf(&b, "Contact: %s\n\n", app.ContactPerson)

	b.WriteString("SOUMISSION\n----------\n")
	fmt.Fprintf(&b, "ID de soumission: %s\n", app.SubmissionId)
	if app.SubmittedAt != nil {
		fmt.Fprintf(&b, "Date de soumission: %s\n", app.SubmittedAt.Format("02/01/2006 a 15:04:05"))
	}
	fmt.Fprintf(&b, "Delai limite: %s\n\n", market.Deadline.Format("02/01/2006 a 15:04:05"))

	b.WriteString("DOCUMENTS FOURNIS\n-----------------\n")
	b.WriteString("Documents obligatoires:\n")
	for _, r := range requirements {
		if !r.Required {
			continue
		}
		status := "Manquant"
		if attached[r.DocumentId] {
			status = "Fourni"
		}
		fmt.Fprintf(&b, "  - %s: %s\n", r.Document.Name, status)
	}

	hasOptional := false
	for _, r := range requirements {
		if !r.Required {
			hasOptional = true
			break
		}
	}
	if hasOptional {
		b.WriteString("\nDocuments optionnels:\n")
		for _, r := range requirements {
			if r.Required {
				continue
			}
			status := "Non fourni"
			if attached[r.DocumentId] {
				status = "Fourni"
			}
			fmt.Fprintf(&b, "  - %s: %s\n", r.Document.Name, status)
		}
	}

	b.WriteString("\nCette attestation certifie que la candidature a ete deposee via la\n")
	b.WriteString("plateforme Fast Track dans les delais impartis.\n")

	return b.String()
}
