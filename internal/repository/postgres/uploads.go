package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/repository"
)

// UploadRepository records upload metadata in the uploads table.
type UploadRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUploadRepository constructs an upload repository.
func NewUploadRepository(exec pgExecutor) *UploadRepository {
	return &UploadRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var uploadColumns = []string{"id", "identity_id", "filename", "size_bytes", "mime", "object_key", "created_at"}

// Create inserts an upload record.
func (r *UploadRepository) Create(ctx context.Context, upload domain.Upload) error {
	stmt, args, err := r.builder.Insert("uploads").
		Columns(uploadColumns...).
		Values(upload.ID, upload.IdentityID, upload.Filename, upload.SizeBytes, string(upload.Mime), upload.ObjectKey, upload.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert upload sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}

	return nil
}

// GetByID retrieves an upload record.
func (r *UploadRepository) GetByID(ctx context.Context, id string) (*domain.Upload, error) {
	stmt, args, err := r.builder.Select(uploadColumns...).
		From("uploads").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select upload sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		upload domain.Upload
		mime   string
	)
	if err := row.Scan(&upload.ID, &upload.IdentityID, &upload.Filename, &upload.SizeBytes, &mime, &upload.ObjectKey, &upload.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan upload: %w", err)
	}
	upload.Mime = domain.MimeType(mime)

	return &upload, nil
}

// ListByIdentity returns the identity's uploads, most recent first.
func (r *UploadRepository) ListByIdentity(ctx context.Context, identityID string, limit int) ([]domain.Upload, error) {
	if limit <= 0 {
		limit = 100
	}

	builder := r.builder.Select(uploadColumns...).
		From("uploads").
		Where(squirrel.Eq{"identity_id": identityID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit))

	return r.list(ctx, builder)
}

// ListSince returns uploads newer than the given instant, most recent first.
func (r *UploadRepository) ListSince(ctx context.Context, identityID string, since time.Time) ([]domain.Upload, error) {
	builder := r.builder.Select(uploadColumns...).
		From("uploads").
		Where(squirrel.Eq{"identity_id": identityID}).
		Where(squirrel.GtOrEq{"created_at": since}).
		OrderBy("created_at DESC")

	return r.list(ctx, builder)
}

func (r *UploadRepository) list(ctx context.Context, builder squirrel.SelectBuilder) ([]domain.Upload, error) {
	stmt, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list uploads sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []domain.Upload
	for rows.Next() {
		var (
			upload domain.Upload
			mime   string
		)
		if err := rows.Scan(&upload.ID, &upload.IdentityID, &upload.Filename, &upload.SizeBytes, &mime, &upload.ObjectKey, &upload.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		upload.Mime = domain.MimeType(mime)
		uploads = append(uploads, upload)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}

	return uploads, nil
}

// Delete removes an upload record.
func (r *UploadRepository) Delete(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete("uploads").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete upload sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

var _ port.UploadRepository = (*UploadRepository)(nil)
