package recordings

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepview/backend/internal/models"
)

// Repository handles recording metadata persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a metadata row for a stored recording.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	const q = `INSERT INTO recordings (conversation_id, user_name, s3_key, s3_url, mime_type, file_size, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q,
		rec.ConversationID, rec.UserName, rec.S3Key, rec.S3URL, rec.MimeType, rec.FileSize, rec.Status,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

// GetByConversationID returns the newest recording row for a conversation.
func (r *Repository) GetByConversationID(ctx context.Context, conversationID string) (*models.Recording, error) {
	const q = `SELECT id, conversation_id, user_name, s3_key, s3_url, mime_type, file_size, status, created_at, updated_at
		FROM recordings WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT 1`
	var rec models.Recording
	err := r.pool.QueryRow(ctx, q, conversationID).Scan(
		&rec.ID, &rec.ConversationID, &rec.UserName, &rec.S3Key, &rec.S3URL,
		&rec.MimeType, &rec.FileSize, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateStatus moves a recording row to a new lifecycle status, optionally
// setting its stored location.
func (r *Repository) UpdateStatus(ctx context.Context, conversationID, status, s3Key, s3URL string) error {
	const q = `UPDATE recordings
		SET status = $2,
		    s3_key = COALESCE(NULLIF($3, ''), s3_key),
		    s3_url = COALESCE(NULLIF($4, ''), s3_url),
		    updated_at = NOW()
		WHERE conversation_id = $1`
	_, err := r.pool.Exec(ctx, q, conversationID, status, s3Key, s3URL)
	return err
}

// DeleteByConversationID removes all metadata rows for a conversation.
func (r *Repository) DeleteByConversationID(ctx context.Context, conversationID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM recordings WHERE conversation_id = $1`, conversationID)
	return err
}
