package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink-health/carelink/internal/models"
)

const fileColumns = `id, owner_id, chat_id, pathname, filename, mime_type, size, created_at`

type FileStore struct {
	db Querier
}

func NewFileStore(db Querier) *FileStore {
	return &FileStore{db: db}
}

func scanFile(row pgx.Row) (*models.File, error) {
	var f models.File
	err := row.Scan(
		&f.ID,
		&f.OwnerID,
		&f.ChatID,
		&f.Pathname,
		&f.Filename,
		&f.MimeType,
		&f.Size,
		&f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *FileStore) Create(ctx context.Context, file models.File) (*models.File, error) {
	query := `
		INSERT INTO files (id, owner_id, chat_id, pathname, filename, mime_type, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING ` + fileColumns

	created, err := scanFile(s.db.QueryRow(ctx, query,
		uuid.New(),
		file.OwnerID,
		file.ChatID,
		file.Pathname,
		file.Filename,
		file.MimeType,
		file.Size,
	))
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	return created, nil
}

func (s *FileStore) GetByPathname(ctx context.Context, pathname string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE pathname = $1`

	file, err := scanFile(s.db.QueryRow(ctx, query, pathname))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return file, nil
}
