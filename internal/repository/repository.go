package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fasttrack/internal/config"
	"fasttrack/internal/models"

	postgres "fasttrack/internal/repository/db"

	"github.com/lib/pq"
)

type Repository struct {
	db  *sql.DB
	cfg *config.PostgresConfig
}

func NewRepository(db *sql.DB, cfg *config.PostgresConfig) (*Repository, error) {
	var err error

	repo := &Repository{
		db:  db,
		cfg: cfg,
	}

	if repo.cfg == nil {
		repo.cfg, err = config.NewPostgresConfig()
		if err != nil {
			return nil, fmt.Errorf("repository.NewRepository: could not load postgres config: %w", err)
		}
	}

	if repo.db == nil {
		repo.db, err = postgres.NewPostgresDB(repo.cfg)
		if err != nil {
			return nil, fmt.Errorf("repository.NewRepository: could not open postgres db: %w", err)
		}
	}

	if repo.cfg.AutoMigrateUp == "true" {
		err = repo.MigrateUp()
		if err != nil {
			return nil, err
		}
	}

	return repo, nil
}

func (repo *Repository) MigrateUp() error {
	err := postgres.MigrateUp(repo.db, repo.cfg.MigrationsURL)
	if err != nil {
		return fmt.Errorf("repository.Repository.Migrate: %w", err)
	}
	return nil
}

func (repo *Repository) MigrateDown() error {
	err := postgres.MigrateDown(repo.db, repo.cfg.MigrationsURL)
	if err != nil {
		return fmt.Errorf("repository.Repository.Migrate: %w", err)
	}
	return nil
}

func (repo *Repository) Close() error {
	var migErr error
	if repo.cfg.AutoMigrateDown == "true" {
		migErr = repo.MigrateDown()
	}

	err := repo.db.Close()
	return errors.Join(migErr, err)
}

//// Editors

const editorColumns = `
	id,
	name,
	client_id,
	client_secret,
	callback_url,
	authorized,
	active,
	machine_auth_enabled,
	machine_token_expires_at,
	machine_token_last_used_at,
	created_at,
	updated_at
`

func scanEditor(row *sql.Row) (models.Editor, error) {
	var e models.Editor
	err := row.Scan(&e.Id, &e.Name, &e.ClientId, &e.ClientSecret, &e.CallbackURL,
		&e.Authorized, &e.Active, &e.MachineAuthEnabled,
		&e.TokenExpiresAt, &e.TokenLastUsedAt, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (repo *Repository) EditorByUUID(ctx context.Context, UUID string) (models.Editor, bool, error) {
	query := `SELECT` + editorColumns + `FROM editors WHERE id = $1 LIMIT 1`

	editor, err := scanEditor(repo.db.QueryRowContext(ctx, query, UUID))
	if errors.Is(err, sql.ErrNoRows) {
		return editor, false, nil
	} else if err != nil {
		return editor, false, fmt.Errorf("repository.Repository.EditorByUUID: %w", err)
	}

	return editor, true, nil
}

func (repo *Repository) EditorByClientId(ctx context.Context, clientId string) (models.Editor, bool, error) {
	query := `SELECT` + editorColumns + `FROM editors WHERE client_id = $1 LIMIT 1`

	editor, err := scanEditor(repo.db.QueryRowContext(ctx, query, clientId))
	if errors.Is(err, sql.ErrNoRows) {
		return editor, false, nil
	} else if err != nil {
		return editor, false, fmt.Errorf("repository.Repository.EditorByClientId: %w", err)
	}

	return editor, true, nil
}

func (repo *Repository) AddEditor(ctx context.Context, e models.Editor) (models.Editor, error) {
	query := `
	INSERT INTO editors
		(name, client_id, client_secret, callback_url, authorized, active, machine_auth_enabled)
	VALUES
		($1, $2, $3, $4, $5, $6, $7)
	RETURNING
		id, created_at, updated_at
	`

	row := repo.db.QueryRowContext(ctx, query, e.Name, e.ClientId, e.ClientSecret,
		e.CallbackURL, e.Authorized, e.Active, e.MachineAuthEnabled)
	err := row.Scan(&e.Id, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, fmt.Errorf("repository.Repository.AddEditor: %w", err)
	}
	return e, nil
}

func (repo *Repository) MachineReadyEditors(ctx context.Context) ([]models.Editor, error) {
	query := `SELECT` + editorColumns + `
	FROM editors
	WHERE authorized AND active AND machine_auth_enabled
	ORDER BY name`

	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.MachineReadyEditors: %w", err)
	}
	defer rows.Close()

	var result []models.Editor
	for rows.Next() {
		var e models.Editor
		err = rows.Scan(&e.Id, &e.Name, &e.ClientId, &e.ClientSecret, &e.CallbackURL,
			&e.Authorized, &e.Active, &e.MachineAuthEnabled,
			&e.TokenExpiresAt, &e.TokenLastUsedAt, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.MachineReadyEditors: row scan failed: %w", err)
		}
		result = append(result, e)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.MachineReadyEditors: %w", rows.Err())
	}

	return result, nil
}

// RecordTokenExpiry stores the expiry of the latest machine token issued to the
// editor. Last write wins: machine tokens are not ordered artifacts.
func (repo *Repository) RecordTokenExpiry(ctx context.Context, editorId string, expiresAt *time.Time) error {
	query := `
	UPDATE editors
	SET machine_token_expires_at = $1, updated_at = CURRENT_TIMESTAMP
	WHERE id = $2
	`
	_, err := repo.db.ExecContext(ctx, query, expiresAt, editorId)
	if err != nil {
		return fmt.Errorf("repository.Repository.RecordTokenExpiry: %w", err)
	}
	return nil
}

func (repo *Repository) TouchTokenUsage(ctx context.Context, editorId string, usedAt time.Time) error {
	query := `
	UPDATE editors
	SET machine_token_last_used_at = $1, updated_at = CURRENT_TIMESTAMP
	WHERE id = $2
	`
	_, err := repo.db.ExecContext(ctx, query, usedAt, editorId)
	if err != nil {
		return fmt.Errorf("repository.Repository.TouchTokenUsage: %w", err)
	}
	return nil
}

//// Service

func wrapRollbackErr(tx *sql.Tx, err error) error {
	rollerr := tx.Rollback()
	if rollerr == nil {
		return err
	}
	return fmt.Errorf("failed to rollback transaction after previous error: %w, %w", rollerr, err)
}

// IsSubmissionIdConflict reports whether err is a unique violation on the
// submission identifier, so the caller can retry with fresh randomness.
func IsSubmissionIdConflict(err error) bool {
	return isUniqueViolation(err, "applications_submission_id_key")
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}
