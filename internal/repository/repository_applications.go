package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fasttrack/internal/models"
)

const applicationColumns = `
	id,
	public_market_id,
	siret,
	company_name,
	email,
	phone,
	contact_person,
	status,
	COALESCE(submission_id, ''),
	submitted_at,
	attestation_path,
	bundle_path,
	created_at,
	updated_at
`

func scanApplication(scan func(...interface{}) error) (models.Application, error) {
	var a models.Application
	err := scan(&a.Id, &a.MarketId, &a.SIRET, &a.CompanyName, &a.Email, &a.Phone,
		&a.ContactPerson, &a.Status, &a.SubmissionId, &a.SubmittedAt,
		&a.AttestationPath, &a.BundlePath, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// FindOrCreateApplication returns the application for (market, siret), creating
// it in_progress when absent. Concurrent first-touch by the same SIRET
// converges on one row: the insert defers to the unique constraint and the
// loser re-reads the winner.
func (repo *Repository) FindOrCreateApplication(ctx context.Context, marketId, siret, companyName string) (models.Application, error) {
	insert := `
	INSERT INTO applications
		(public_market_id, siret, company_name, status)
	VALUES
		($1, $2, $3, 'in_progress')
	ON CONFLICT (public_market_id, siret) DO NOTHING
	RETURNING` + applicationColumns

	app, err := scanApplication(repo.db.QueryRowContext(ctx, insert, marketId, siret, companyName).Scan)
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return app, fmt.Errorf("repository.Repository.FindOrCreateApplication: %w", err)
	}

	// conflict: another caller won the insert, load their row
	app, found, err := repo.ApplicationByMarketAndSIRET(ctx, marketId, siret)
	if err != nil {
		return app, fmt.Errorf("repository.Repository.FindOrCreateApplication: %w", err)
	}
	if !found {
		return app, fmt.Errorf("repository.Repository.FindOrCreateApplication: %w", models.ErrNoApplication)
	}
	return app, nil
}

func (repo *Repository) ApplicationByUUID(ctx context.Context, UUID string) (models.Application, bool, error) {
	query := `SELECT` + applicationColumns + `FROM applications WHERE id = $1 LIMIT 1`

	app, err := scanApplication(repo.db.QueryRowContext(ctx, query, UUID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return app, false, nil
	} else if err != nil {
		return app, false, fmt.Errorf("repository.Repository.ApplicationByUUID: %w", err)
	}

	return app, true, nil
}

func (repo *Repository) ApplicationByMarketAndSIRET(ctx context.Context, marketId, siret string) (models.Application, bool, error) {
	query := `SELECT` + applicationColumns + `FROM applications WHERE public_market_id = $1 AND siret = $2 LIMIT 1`

	app, err := scanApplication(repo.db.QueryRowContext(ctx, query, marketId, siret).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return app, false, nil
	} else if err != nil {
		return app, false, fmt.Errorf("repository.Repository.ApplicationByMarketAndSIRET: %w", err)
	}

	return app, true, nil
}

func (repo *Repository) SubmittedApplicationsForMarket(ctx context.Context, marketId string, limit, offset int) ([]models.Application, error) {
	query := `
	SELECT` + applicationColumns + `
	FROM applications
	WHERE public_market_id = $1 AND status = 'submitted'
	ORDER BY submitted_at DESC
	LIMIT $2
	OFFSET $3
	`

	var limitParam interface{}
	if limit > 0 {
		limitParam = limit
	}

	rows, err := repo.db.QueryContext(ctx, query, marketId, limitParam, offset)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.SubmittedApplicationsForMarket: %w", err)
	}
	defer rows.Close()

	var result []models.Application
	for rows.Next() {
		app, err := scanApplication(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.SubmittedApplicationsForMarket: row scan failed: %w", err)
		}
		result = append(result, app)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.SubmittedApplicationsForMarket: %w", rows.Err())
	}

	return result, nil
}

// UpdateContactInfo merges a partial contact-info change into an in_progress
// application. Submitted applications are frozen.
func (repo *Repository) UpdateContactInfo(ctx context.Context, applicationId string, upd models.ContactUpdate) (models.Application, error) {
	query := `
	UPDATE applications
	SET
		company_name = COALESCE($2, company_name),
		email = COALESCE($3, email),
		phone = COALESCE($4, phone),
		contact_person = COALESCE($5, contact_person),
		updated_at = CURRENT_TIMESTAMP
	WHERE id = $1 AND status = 'in_progress'
	RETURNING` + applicationColumns

	app, err := scanApplication(repo.db.QueryRowContext(ctx, query, applicationId,
		upd.CompanyName, upd.Email, upd.Phone, upd.ContactPerson).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return app, repo.frozenOrMissing(ctx, applicationId)
	} else if err != nil {
		return app, fmt.Errorf("repository.Repository.UpdateContactInfo: %w", err)
	}

	return app, nil
}

// UpsertAttachment records an uploaded blob for one document requirement.
// Re-uploading the same document replaces the prior attachment, last write
// wins. The application row is locked so the status check cannot race a
// concurrent submit.
func (repo *Repository) UpsertAttachment(ctx context.Context, att models.Attachment) (models.Attachment, error) {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return att, fmt.Errorf("repository.Repository.UpsertAttachment: failed to start transaction: %w", err)
	}

	var status models.ApplicationStatus
	row := tx.QueryRowContext(ctx, `SELECT status FROM applications WHERE id = $1 FOR UPDATE`, att.ApplicationId)
	err = row.Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return att, wrapRollbackErr(tx, models.ErrNoApplication)
	} else if err != nil {
		return att, wrapRollbackErr(tx, fmt.Errorf("repository.Repository.UpsertAttachment: %w", err))
	}
	if status != models.AppInProgress {
		return att, wrapRollbackErr(tx, models.ErrAlreadySubmitted)
	}

	query := `
	INSERT INTO application_documents
		(application_id, document_id, filename, blob_path, content_type, size_bytes)
	VALUES
		($1, $2, $3, $4, $5, $6)
	ON CONFLICT (application_id, document_id) DO UPDATE SET
		filename = EXCLUDED.filename,
		blob_path = EXCLUDED.blob_path,
		content_type = EXCLUDED.content_type,
		size_bytes = EXCLUDED.size_bytes,
		uploaded_at = CURRENT_TIMESTAMP
	RETURNING id, uploaded_at
	`

	result := att
	row = tx.QueryRowContext(ctx, query, att.ApplicationId, att.DocumentId,
		att.Filename, att.BlobPath, att.ContentType, att.SizeBytes)
	err = row.Scan(&result.Id, &result.UploadedAt)
	if err != nil {
		return att, wrapRollbackErr(tx, fmt.Errorf("repository.Repository.UpsertAttachment: %w", err))
	}

	err = tx.Commit()
	if err != nil {
		return att, fmt.Errorf("repository.Repository.UpsertAttachment: failed to commit transaction: %w", err)
	}

	return result, nil
}

func (repo *Repository) AttachmentsForApplication(ctx context.Context, applicationId string) ([]models.Attachment, error) {
	query := `
	SELECT id, application_id, document_id, filename, blob_path, content_type, size_bytes, uploaded_at
	FROM application_documents
	WHERE application_id = $1
	ORDER BY uploaded_at
	`

	rows, err := repo.db.QueryContext(ctx, query, applicationId)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.AttachmentsForApplication: %w", err)
	}
	defer rows.Close()

	var result []models.Attachment
	for rows.Next() {
		var a models.Attachment
		err = rows.Scan(&a.Id, &a.ApplicationId, &a.DocumentId, &a.Filename,
			&a.BlobPath, &a.ContentType, &a.SizeBytes, &a.UploadedAt)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.AttachmentsForApplication: row scan failed: %w", err)
		}
		result = append(result, a)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.AttachmentsForApplication: %w", rows.Err())
	}

	return result, nil
}

func (repo *Repository) attachedDocumentIds(ctx context.Context, applicationId string, tx *sql.Tx) ([]int64, error) {
	query := `SELECT document_id FROM application_documents WHERE application_id = $1`

	var rows *sql.Rows
	var err error
	if tx == nil {
		rows, err = repo.db.QueryContext(ctx, query, applicationId)
	} else {
		rows, err = tx.QueryContext(ctx, query, applicationId)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// CompletenessGap reports what still blocks submission: contact fields without
// a value and required document ids with no matching attachment. Empty slices
// mean the application is complete.
func (repo *Repository) CompletenessGap(ctx context.Context, app models.Application, tx *sql.Tx) (missingFields []string, missingDocIds []int64, err error) {
	if app.Email == "" {
		missingFields = append(missingFields, "email")
	}
	if app.ContactPerson == "" {
		missingFields = append(missingFields, "contact_person")
	}

	requiredIds, err := repo.requiredDocumentIds(ctx, app.MarketId, tx)
	if err != nil {
		return nil, nil, fmt.Errorf("repository.Repository.CompletenessGap: %w", err)
	}

	attachedIds, err := repo.attachedDocumentIds(ctx, app.Id, tx)
	if err != nil {
		return nil, nil, fmt.Errorf("repository.Repository.CompletenessGap: %w", err)
	}

	attached := make(map[int64]bool, len(attachedIds))
	for _, id := range attachedIds {
		attached[id] = true
	}
	for _, id := range requiredIds {
		if !attached[id] {
			missingDocIds = append(missingDocIds, id)
		}
	}

	return missingFields, missingDocIds, nil
}

// SubmitApplication performs the atomic submit transaction. The application
// row is locked, every precondition is re-validated against current state, and
// the status flip plus submission id plus timestamp commit as one unit. Two
// concurrent calls yield exactly one success and one ErrAlreadySubmitted.
func (repo *Repository) SubmitApplication(ctx context.Context, applicationId, submissionId string, now time.Time) (models.Application, error) {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Application{}, fmt.Errorf("repository.Repository.SubmitApplication: failed to start transaction: %w", err)
	}

	lock := `SELECT` + applicationColumns + `FROM applications WHERE id = $1 FOR UPDATE`
	app, err := scanApplication(tx.QueryRowContext(ctx, lock, applicationId).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return app, wrapRollbackErr(tx, models.ErrNoApplication)
	} else if err != nil {
		return app, wrapRollbackErr(tx, fmt.Errorf("repository.Repository.SubmitApplication: %w", err))
	}

	if app.Status != models.AppInProgress {
		return app, wrapRollbackErr(tx, models.ErrAlreadySubmitted)
	}

	var deadline time.Time
	var active bool
	row := tx.QueryRowContext(ctx, `SELECT deadline, active FROM public_markets WHERE id = $1`, app.MarketId)
	if err = row.Scan(&deadline, &active); err != nil {
		return app, wrapRollbackErr(tx, fmt.Errorf("repository.Repository.SubmitApplication: %w", err))
	}
	if !active {
		return app, wrapRollbackErr(tx, models.ErrMarketClosed)
	}
	if !now.Before(deadline) {
		return app, wrapRollbackErr(tx, models.ErrDeadlinePassed)
	}

	missingFields, missingDocIds, err := repo.CompletenessGap(ctx, app, tx)
	if err != nil {
		return app, wrapRollbackErr(tx, err)
	}
	if len(missingFields) > 0 || len(missingDocIds) > 0 {
		return app, wrapRollbackErr(tx, &models.IncompleteError{
			MissingFields:      missingFields,
			MissingDocumentIds: missingDocIds,
		})
	}

	update := `
	UPDATE applications
	SET status = 'submitted', submission_id = $2, submitted_at = $3, updated_at = CURRENT_TIMESTAMP
	WHERE id = $1 AND status = 'in_progress'
	RETURNING` + applicationColumns

	result, err := scanApplication(tx.QueryRowContext(ctx, update, applicationId, submissionId, now).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return app, wrapRollbackErr(tx, models.ErrAlreadySubmitted)
	} else if err != nil {
		return app, wrapRollbackErr(tx, fmt.Errorf("repository.Repository.SubmitApplication: %w", err))
	}

	err = tx.Commit()
	if err != nil {
		return app, fmt.Errorf("repository.Repository.SubmitApplication: failed to commit transaction: %w", err)
	}

	return result, nil
}

// IsSubmissionIdTaken lets the caller retry submission id collisions before
// entering the transaction; the unique index remains the real guarantee.
func (repo *Repository) IsSubmissionIdTaken(ctx context.Context, submissionId string) (bool, error) {
	var dummy string
	row := repo.db.QueryRowContext(ctx, `SELECT id FROM applications WHERE submission_id = $1`, submissionId)
	err := row.Scan(&dummy)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	}
	return false, fmt.Errorf("repository.Repository.IsSubmissionIdTaken: %w", err)
}

// SetArtifactPaths stores artifact handles after generation. Safe to re-run:
// overwrites with the same deterministic paths on regeneration.
func (repo *Repository) SetArtifactPaths(ctx context.Context, applicationId, attestationPath, bundlePath string) error {
	query := `
	UPDATE applications
	SET attestation_path = $2, bundle_path = $3, updated_at = CURRENT_TIMESTAMP
	WHERE id = $1 AND status = 'submitted'
	`

	res, err := repo.db.ExecContext(ctx, query, applicationId, attestationPath, bundlePath)
	if err != nil {
		return fmt.Errorf("repository.Repository.SetArtifactPaths: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository.Repository.SetArtifactPaths: %w", err)
	}
	if n == 0 {
		return models.ErrNotSubmitted
	}
	return nil
}

func (repo *Repository) frozenOrMissing(ctx context.Context, applicationId string) error {
	var status models.ApplicationStatus
	row := repo.db.QueryRowContext(ctx, `SELECT status FROM applications WHERE id = $1`, applicationId)
	err := row.Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNoApplication
	} else if err != nil {
		return fmt.Errorf("repository.Repository.frozenOrMissing: %w", err)
	}
	if status != models.AppInProgress {
		return models.ErrAlreadySubmitted
	}
	return models.ErrNoApplication
}
