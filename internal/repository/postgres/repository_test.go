package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gramport/internal/repository"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPostRepositoryCreate(t *testing.T) {
	published := time.Date(2023, 1, 20, 16, 55, 0, 0, time.UTC)
	post := &repository.Post{
		ID:              "p1",
		Title:           "Sunset",
		Body:            "Sunset <a>#sun</a>",
		SourceTimestamp: published.Unix(),
		PublishedAt:     published,
		CreatedAt:       published,
	}

	tests := []struct {
		name     string
		termIDs  []string
		mockFunc func(mock sqlmock.Sqlmock)
		wantErr  error
	}{
		{
			name:    "insert post and link terms",
			termIDs: []string{"t1", "t2"},
			mockFunc: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(postColumns).
					AddRow("p1", "Sunset", "Sunset <a>#sun</a>", published.Unix(), published.Unix(), nil, published.Unix())
				mock.ExpectBegin()
				mock.ExpectQuery("INSERT INTO posts").
					WithArgs("p1", "Sunset", "Sunset <a>#sun</a>", published.Unix(), published.Unix(), sqlmock.AnyArg(), published.Unix()).
					WillReturnRows(rows)
				mock.ExpectExec("INSERT INTO post_terms").WithArgs("p1", "t1", 0).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO post_terms").WithArgs("p1", "t2", 1).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "timestamp conflict is a duplicate",
			mockFunc: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("INSERT INTO posts").WillReturnRows(sqlmock.NewRows(postColumns))
				mock.ExpectRollback()
			},
			wantErr: repository.ErrDuplicate,
		},
		{
			name:    "term link failure rolls back",
			termIDs: []string{"t1"},
			mockFunc: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(postColumns).
					AddRow("p1", "Sunset", "x", published.Unix(), published.Unix(), nil, published.Unix())
				mock.ExpectBegin()
				mock.ExpectQuery("INSERT INTO posts").WillReturnRows(rows)
				mock.ExpectExec("INSERT INTO post_terms").WillReturnError(errors.New("database error"))
				mock.ExpectRollback()
			},
			wantErr: errors.New("database error"),
		},
	}

	for i := range tests {
		tc := tests[i]
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMock(t)
			tc.mockFunc(mock)

			created, err := NewPostRepository(db).Create(context.Background(), post, tc.termIDs)
			switch {
			case tc.wantErr == nil:
				require.NoError(t, err)
				assert.Equal(t, "p1", created.ID)
				assert.Equal(t, published, created.PublishedAt)
				assert.Nil(t, created.ThumbnailID)
			case errors.Is(tc.wantErr, repository.ErrDuplicate):
				assert.ErrorIs(t, err, repository.ErrDuplicate)
			default:
				assert.Error(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostRepositoryExistsByTimestamp(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := NewPostRepository(db).ExistsByTimestamp(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryGetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT (.+) FROM posts WHERE id").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := NewPostRepository(db).GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPostRepositoryListAppliesPaging(t *testing.T) {
	db, mock := newMock(t)
	rows := sqlmock.NewRows(postColumns).
		AddRow("p2", "b", "b", 20, 20, "a1", 30).
		AddRow("p1", "a", "a", 10, 10, nil, 30)
	mock.ExpectQuery("SELECT (.+) FROM posts ORDER BY published_at DESC, id LIMIT \\$1 OFFSET \\$2").
		WithArgs(2, 5).WillReturnRows(rows)

	posts, err := NewPostRepository(db).List(context.Background(), repository.ListPostsParams{Limit: 2, Offset: 5})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.NotNil(t, posts[0].ThumbnailID)
	assert.Equal(t, "a1", *posts[0].ThumbnailID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositorySetThumbnail(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("UPDATE posts SET thumbnail_id").WithArgs("a1", "p1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE posts SET thumbnail_id").WithArgs("a1", "nope").WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPostRepository(db)
	require.NoError(t, repo.SetThumbnail(context.Background(), "p1", "a1"))
	assert.ErrorIs(t, repo.SetThumbnail(context.Background(), "nope", "a1"), repository.ErrNotFound)
}

func TestTermRepositoryEnsure(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("INSERT INTO terms").WithArgs(sqlmock.AnyArg(), "Moon_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, name FROM terms WHERE name").WithArgs("Moon_2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("t9", "Moon_2"))

	term, err := NewTermRepository(db).Ensure(context.Background(), "Moon_2")
	require.NoError(t, err)
	assert.Equal(t, "t9", term.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryListByPost(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT t.id, t.name FROM terms t").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("t1", "sun").AddRow("t2", "Moon_2"))

	terms, err := NewTermRepository(db).ListByPost(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []repository.Term{{ID: "t1", Name: "sun"}, {ID: "t2", Name: "Moon_2"}}, terms)
}

func TestAttachmentRepositoryCreateAndGet(t *testing.T) {
	db, mock := newMock(t)
	now := time.Unix(1700000000, 0).UTC()
	att := &repository.Attachment{
		ID:           "a1",
		PostID:       "p1",
		OriginalName: "one.jpg",
		MimeType:     "image/jpeg",
		SizeBytes:    12,
		StoragePath:  "posts/p1/a1-one.jpg",
		CreatedAt:    now,
	}
	row := []driver.Value{"a1", "p1", "one.jpg", "image/jpeg", int64(12), "posts/p1/a1-one.jpg", now.Unix()}

	mock.ExpectQuery("INSERT INTO attachments").
		WithArgs(row...).
		WillReturnRows(sqlmock.NewRows(attachmentColumns).AddRow(row...))
	mock.ExpectQuery("SELECT (.+) FROM attachments WHERE id").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	repo := NewAttachmentRepository(db)
	created, err := repo.Create(context.Background(), att)
	require.NoError(t, err)
	assert.Equal(t, *att, *created)

	_, err = repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
