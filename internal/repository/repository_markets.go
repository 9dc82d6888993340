package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"fasttrack/internal/models"
)

const marketColumns = `
	id,
	editor_id,
	title,
	description,
	deadline,
	fast_track_id,
	market_type,
	active,
	created_at,
	updated_at
`

func scanMarket(scan func(...interface{}) error) (models.Market, error) {
	var m models.Market
	err := scan(&m.Id, &m.EditorId, &m.Title, &m.Description, &m.Deadline,
		&m.FastTrackId, &m.MarketType, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// NewFastTrackId mints the opaque public market identifier: 32 lowercase hex
// characters of fresh entropy.
func NewFastTrackId() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("repository.NewFastTrackId: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AddMarket persists a market together with all its document requirements in
// one transaction. Either everything lands or nothing does: no partially
// configured market is ever visible to readers. Fast-track id collisions are
// retried with a fresh identifier.
func (repo *Repository) AddMarket(ctx context.Context, m models.Market, requirements []models.Requirement) (models.Market, error) {
	const maxIdRetries = 5

	for attempt := 0; attempt < maxIdRetries; attempt++ {
		fastTrackId, err := NewFastTrackId()
		if err != nil {
			return m, fmt.Errorf("repository.Repository.AddMarket: %w", err)
		}

		result, err := repo.tryAddMarket(ctx, m, fastTrackId, requirements)
		if err == nil {
			return result, nil
		}
		if isUniqueViolation(err, "public_markets_fast_track_id_key") {
			continue
		}
		return m, fmt.Errorf("repository.Repository.AddMarket: %w", err)
	}

	return m, fmt.Errorf("repository.Repository.AddMarket: could not mint unique fast-track id after %d attempts", maxIdRetries)
}

func (repo *Repository) tryAddMarket(ctx context.Context, m models.Market, fastTrackId string, requirements []models.Requirement) (models.Market, error) {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return m, fmt.Errorf("failed to start transaction: %w", err)
	}

	query := `
	INSERT INTO public_markets
		(editor_id, title, description, deadline, fast_track_id, market_type, active)
	VALUES
		($1, $2, $3, $4, $5, $6, TRUE)
	RETURNING
		id, active, created_at, updated_at
	`

	result := m
	result.FastTrackId = fastTrackId
	row := tx.QueryRowContext(ctx, query, m.EditorId, m.Title, m.Description,
		m.Deadline, fastTrackId, m.MarketType)
	err = row.Scan(&result.Id, &result.Active, &result.CreatedAt, &result.UpdatedAt)
	if err != nil {
		return m, wrapRollbackErr(tx, err)
	}

	reqQuery := `
	INSERT INTO market_requirements
		(public_market_id, document_id, required)
	VALUES
		($1, $2, $3)
	`
	for _, req := range requirements {
		_, err = tx.ExecContext(ctx, reqQuery, result.Id, req.DocumentId, req.Required)
		if err != nil {
			return m, wrapRollbackErr(tx, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return m, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

func (repo *Repository) MarketByUUID(ctx context.Context, UUID string) (models.Market, bool, error) {
	query := `SELECT` + marketColumns + `FROM public_markets WHERE id = $1 LIMIT 1`

	market, err := scanMarket(repo.db.QueryRowContext(ctx, query, UUID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return market, false, nil
	} else if err != nil {
		return market, false, fmt.Errorf("repository.Repository.MarketByUUID: %w", err)
	}

	return market, true, nil
}

func (repo *Repository) MarketByFastTrackId(ctx context.Context, fastTrackId string) (models.Market, bool, error) {
	query := `SELECT` + marketColumns + `FROM public_markets WHERE fast_track_id = $1 LIMIT 1`

	market, err := scanMarket(repo.db.QueryRowContext(ctx, query, fastTrackId).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return market, false, nil
	} else if err != nil {
		return market, false, fmt.Errorf("repository.Repository.MarketByFastTrackId: %w", err)
	}

	return market, true, nil
}

func (repo *Repository) MarketsByEditor(ctx context.Context, editorId string, limit, offset int) ([]models.Market, error) {
	query := `
	SELECT` + marketColumns + `
	FROM public_markets
	WHERE editor_id = $1
	ORDER BY created_at DESC
	LIMIT $2
	OFFSET $3
	`

	var limitParam interface{}
	if limit > 0 {
		limitParam = limit
	}

	rows, err := repo.db.QueryContext(ctx, query, editorId, limitParam, offset)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.MarketsByEditor: %w", err)
	}
	defer rows.Close()

	var result []models.Market
	for rows.Next() {
		market, err := scanMarket(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.MarketsByEditor: row scan failed: %w", err)
		}
		result = append(result, market)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.MarketsByEditor: %w", rows.Err())
	}

	return result, nil
}

// RequirementsForMarket returns the market's requirement set with document
// details, mandatory entries first.
func (repo *Repository) RequirementsForMarket(ctx context.Context, marketId string) ([]models.Requirement, error) {
	query := `
	SELECT
		r.id, r.public_market_id, r.document_id, r.required,
		d.id, d.name, d.description, d.mandatory, d.category, d.market_type, d.active, d.created_at, d.updated_at
	FROM market_requirements r
	JOIN documents d ON d.id = r.document_id
	WHERE r.public_market_id = $1
	ORDER BY r.required DESC, d.name
	`

	rows, err := repo.db.QueryContext(ctx, query, marketId)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.RequirementsForMarket: %w", err)
	}
	defer rows.Close()

	var result []models.Requirement
	for rows.Next() {
		var r models.Requirement
		err = rows.Scan(&r.Id, &r.MarketId, &r.DocumentId, &r.Required,
			&r.Document.Id, &r.Document.Name, &r.Document.Description, &r.Document.Mandatory,
			&r.Document.Category, &r.Document.MarketType, &r.Document.Active,
			&r.Document.CreatedAt, &r.Document.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.RequirementsForMarket: row scan failed: %w", err)
		}
		result = append(result, r)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.RequirementsForMarket: %w", rows.Err())
	}

	return result, nil
}

// requiredDocumentIds loads ids of documents the market mandates, usable inside
// an open transaction when tx is not nil.
func (repo *Repository) requiredDocumentIds(ctx context.Context, marketId string, tx *sql.Tx) ([]int64, error) {
	query := `
	SELECT document_id
	FROM market_requirements
	WHERE public_market_id = $1 AND required
	`

	var rows *sql.Rows
	var err error
	if tx == nil {
		rows, err = repo.db.QueryContext(ctx, query, marketId)
	} else {
		rows, err = tx.QueryContext(ctx, query, marketId)
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
