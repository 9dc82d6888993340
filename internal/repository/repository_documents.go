package repository

import (
	"context"
	"database/sql"
	"fmt"

	"fasttrack/internal/models"

	"github.com/lib/pq"
)

const documentColumns = `
	id,
	name,
	description,
	mandatory,
	category,
	market_type,
	active,
	created_at,
	updated_at
`

func scanDocuments(rows *sql.Rows) ([]models.Document, error) {
	var result []models.Document
	for rows.Next() {
		var d models.Document
		err := rows.Scan(&d.Id, &d.Name, &d.Description, &d.Mandatory, &d.Category,
			&d.MarketType, &d.Active, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("row scan failed: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// DocumentsForType returns active documents applicable to the market type,
// filtered by the mandatory flag. A document with NULL market_type applies to
// every type.
func (repo *Repository) DocumentsForType(ctx context.Context, marketType models.MarketType, mandatory bool) ([]models.Document, error) {
	query := `
	SELECT` + documentColumns + `
	FROM documents
	WHERE active AND mandatory = $1 AND (market_type IS NULL OR market_type = $2)
	ORDER BY name
	`

	rows, err := repo.db.QueryContext(ctx, query, mandatory, marketType)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.DocumentsForType: %w", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.DocumentsForType: %w", err)
	}
	return docs, nil
}

func (repo *Repository) DocumentsByIds(ctx context.Context, ids []int64) ([]models.Document, error) {
	query := `
	SELECT` + documentColumns + `
	FROM documents
	WHERE id = ANY($1)
	ORDER BY name
	`

	rows, err := repo.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.DocumentsByIds: %w", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.DocumentsByIds: %w", err)
	}
	return docs, nil
}

func (repo *Repository) AddDocument(ctx context.Context, d models.Document) (models.Document, error) {
	query := `
	INSERT INTO documents
		(name, description, mandatory, category, market_type, active)
	VALUES
		($1, $2, $3, $4, $5, $6)
	RETURNING
		id, created_at, updated_at
	`

	row := repo.db.QueryRowContext(ctx, query, d.Name, d.Description, d.Mandatory,
		d.Category, d.MarketType, d.Active)
	err := row.Scan(&d.Id, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, fmt.Errorf("repository.Repository.AddDocument: %w", err)
	}
	return d, nil
}
