package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
)

// FlagRepository persists content flags. Rows are append-only.
type FlagRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewFlagRepository constructs a flag repository.
func NewFlagRepository(exec pgExecutor) *FlagRepository {
	return &FlagRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a content flag record.
func (r *FlagRepository) Create(ctx context.Context, flag domain.ContentFlag) error {
	metadata, err := marshalMetadata(flag.Metadata)
	if err != nil {
		return fmt.Errorf("prepare flag metadata: %w", err)
	}

	stmt, args, err := r.builder.Insert("content_flags").
		Columns("id", "image_id", "flag_type", "confidence", "flagged_by", "metadata", "created_at").
		Values(flag.ID, flag.ImageID, flag.FlagType, flag.Confidence, flag.FlaggedBy, metadata, flag.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert flag sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert content flag: %w", err)
	}

	return nil
}

// ListByImage returns all flags recorded against an image.
func (r *FlagRepository) ListByImage(ctx context.Context, imageID string) ([]domain.ContentFlag, error) {
	stmt, args, err := r.builder.Select("id", "image_id", "flag_type", "confidence", "flagged_by", "metadata", "created_at").
		From("content_flags").
		Where(squirrel.Eq{"image_id": imageID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list flags sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list content flags: %w", err)
	}
	defer rows.Close()

	var flags []domain.ContentFlag
	for rows.Next() {
		var (
			flag     domain.ContentFlag
			metadata []byte
		)
		if err := rows.Scan(&flag.ID, &flag.ImageID, &flag.FlagType, &flag.Confidence, &flag.FlaggedBy, &metadata, &flag.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan content flag: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &flag.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal flag metadata: %w", err)
			}
		}
		flags = append(flags, flag)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content flags: %w", err)
	}

	return flags, nil
}

// CountSince counts flags of a type raised against an identity's uploads since
// the given instant. Used to de-duplicate pattern flags within a window.
func (r *FlagRepository) CountSince(ctx context.Context, identityID, flagType string, since time.Time) (int, error) {
	stmt, args, err := r.builder.Select("count(*)").
		From("content_flags cf").
		Join("uploads u ON u.id = cf.image_id").
		Where(squirrel.Eq{"u.identity_id": identityID, "cf.flag_type": flagType}).
		Where(squirrel.GtOrEq{"cf.created_at": since}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count flags sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count content flags: %w", err)
	}

	return count, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(metadata)
}

var _ port.FlagRepository = (*FlagRepository)(nil)
