package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink-health/carelink/internal/models"
	"github.com/carelink-health/carelink/internal/repository"
)

type MessageStore struct {
	db Querier
}

func NewMessageStore(db Querier) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) WithTx(tx pgx.Tx) repository.MessageRepository {
	return &MessageStore{db: tx}
}

func (s *MessageStore) Create(ctx context.Context, chatID, senderID uuid.UUID, body string, attachments []string) (*models.Message, error) {
	// The column is NOT NULL; a nil slice must become an empty array.
	if attachments == nil {
		attachments = []string{}
	}

	query := `
		INSERT INTO messages (id, chat_id, sender_id, body, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, chat_id, sender_id, body, attachments, created_at`

	var msg models.Message
	err := s.db.QueryRow(ctx, query, uuid.New(), chatID, senderID, body, attachments).Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.Body,
		&msg.Attachments,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) ListByChat(ctx context.Context, chatID uuid.UUID) ([]models.Message, error) {
	// Ties on created_at are broken by id so the thread order is stable.
	query := `
		SELECT id, chat_id, sender_id, body, attachments, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ChatID,
			&msg.SenderID,
			&msg.Body,
			&msg.Attachments,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}
