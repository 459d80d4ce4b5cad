package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"

	"github.com/lib/pq"
)

var _ repository.IPost = (*PostRepository)(nil)

type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) *PostRepository { return &PostRepository{db: db} }

func (r *PostRepository) Create(ctx context.Context, p *model.Post) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = model.PostDraft
	}
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO posts (user_id, title, content, media_urls, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		p.UserID, p.Title, p.Content, pq.Array(p.MediaURLs), string(p.Status), p.CreatedAt, p.UpdatedAt)
	return row.Scan(&p.ID)
}

func (r *PostRepository) GetByID(ctx context.Context, id int64, userID string) (*model.Post, error) {
	q := `SELECT id, user_id, title, content, media_urls, status, created_at, updated_at FROM posts WHERE id=$1`
	args := []any{id}
	if userID != "" {
		q += ` AND user_id=$2`
		args = append(args, userID)
	}
	p := &model.Post{}
	var status string
	err := r.db.QueryRowContext(ctx, q, args...).Scan(&p.ID, &p.UserID, &p.Title, &p.Content, pq.Array(&p.MediaURLs), &status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPostNotFoundOrAccessDenied
	}
	if err != nil {
		return nil, err
	}
	p.Status = model.PostStatus(status)
	return p, nil
}

// UpdateStatus never touches archived posts.
func (r *PostRepository) UpdateStatus(ctx context.Context, id int64, status model.PostStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE posts SET status=$1, updated_at=$2 WHERE id=$3 AND status <> 'archived'`,
		string(status), time.Now().UTC(), id)
	return err
}
