package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gramport/internal/repository"
)

func NewTermRepository(db *sql.DB) *TermRepository {
	return &TermRepository{db: db}
}

// TermRepository 实现 repository.TermRepository。
type TermRepository struct {
	db *sql.DB
}

// Ensure 依赖 name 唯一约束，并发创建同名词条时以先写入者为准。
func (r *TermRepository) Ensure(ctx context.Context, name string) (*repository.Term, error) {
	if name == "" {
		return nil, fmt.Errorf("term name is empty")
	}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO terms (id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		uuid.NewString(), name,
	); err != nil {
		return nil, fmt.Errorf("insert term: %w", err)
	}

	var term repository.Term
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM terms WHERE name = $1`, name).Scan(&term.ID, &term.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &term, nil
}

// ListByPost 按词条在正文中首次出现的顺序返回。
func (r *TermRepository) ListByPost(ctx context.Context, postID string) ([]repository.Term, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT t.id, t.name FROM terms t
	JOIN post_terms pt ON pt.term_id = t.id
	WHERE pt.post_id = $1
	ORDER BY pt.position`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var terms []repository.Term
	for rows.Next() {
		var term repository.Term
		if err := rows.Scan(&term.ID, &term.Name); err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return terms, nil
}
