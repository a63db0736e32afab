package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink-health/carelink/internal/models"
	"github.com/carelink-health/carelink/internal/repository"
)

const chatColumns = `id, district_id, patient_id, assigned_worker_id, status, initial_description, created_at, closed_at`

type ChatStore struct {
	db Querier
}

func NewChatStore(db Querier) *ChatStore {
	return &ChatStore{db: db}
}

func (s *ChatStore) WithTx(tx pgx.Tx) repository.ChatRepository {
	return &ChatStore{db: tx}
}

func scanChat(row pgx.Row) (*models.Chat, error) {
	var c models.Chat
	err := row.Scan(
		&c.ID,
		&c.DistrictID,
		&c.PatientID,
		&c.AssignedWorkerID,
		&c.Status,
		&c.InitialDescription,
		&c.CreatedAt,
		&c.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *ChatStore) Create(ctx context.Context, districtID, patientID uuid.UUID, initialDescription string) (*models.Chat, error) {
	query := `
		INSERT INTO chats (id, district_id, patient_id, status, initial_description, created_at)
		VALUES ($1, $2, $3, 'queued', $4, now())
		RETURNING ` + chatColumns

	chat, err := scanChat(s.db.QueryRow(ctx, query, uuid.New(), districtID, patientID, initialDescription))
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	return chat, nil
}

func (s *ChatStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = $1`

	chat, err := scanChat(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return chat, nil
}

func (s *ChatStore) List(ctx context.Context, filter repository.ChatFilter) ([]models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats`
	var args []any
	var where []string

	addCond := func(column string, value any) {
		args = append(args, value)
		where = append(where, column+" = $"+strconv.Itoa(len(args)))
	}

	if filter.DistrictID != nil {
		addCond("district_id", *filter.DistrictID)
	}
	if filter.PatientID != nil {
		addCond("patient_id", *filter.PatientID)
	}
	if filter.AssignedWorkerID != nil {
		addCond("assigned_worker_id", *filter.AssignedWorkerID)
	}
	if filter.Status != nil {
		addCond("status", *filter.Status)
	}

	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, *chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}

	return chats, nil
}

// Claim is the single place assigned_worker_id is ever written. The WHERE
// clause makes it a conditional write: when two workers race for the same
// queued chat, exactly one UPDATE matches and the loser gets nil, nil.
func (s *ChatStore) Claim(ctx context.Context, id, workerID uuid.UUID) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET assigned_worker_id = $2, status = 'active'
		WHERE id = $1 AND assigned_worker_id IS NULL AND status = 'queued'
		RETURNING ` + chatColumns

	chat, err := scanChat(s.db.QueryRow(ctx, query, id, workerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim chat: %w", err)
	}
	return chat, nil
}

func (s *ChatStore) Activate(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET status = 'active'
		WHERE id = $1 AND status = 'queued'
		RETURNING ` + chatColumns

	chat, err := scanChat(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("activate chat: %w", err)
	}
	return chat, nil
}

func (s *ChatStore) Close(ctx context.Context, id uuid.UUID, at time.Time) (*models.Chat, error) {
	query := `
		UPDATE chats
		SET status = 'closed', closed_at = $2
		WHERE id = $1 AND status <> 'closed'
		RETURNING ` + chatColumns

	chat, err := scanChat(s.db.QueryRow(ctx, query, id, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("close chat: %w", err)
	}
	return chat, nil
}

func (s *ChatStore) DistrictHasChats(ctx context.Context, districtID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM chats WHERE district_id = $1)`

	var exists bool
	if err := s.db.QueryRow(ctx, query, districtID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check district chats: %w", err)
	}
	return exists, nil
}

func (s *ChatStore) WorkerHasAssignedChats(ctx context.Context, workerID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM chats WHERE assigned_worker_id = $1)`

	var exists bool
	if err := s.db.QueryRow(ctx, query, workerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check worker chats: %w", err)
	}
	return exists, nil
}
