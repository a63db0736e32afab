package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink-health/carelink/internal/repository"
)

// AuditStore appends to the audit trail. Insert is the only write — rows
// are never updated or deleted through the application.
type AuditStore struct {
	db Querier
}

func NewAuditStore(db Querier) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) WithTx(tx pgx.Tx) repository.AuditRepository {
	return &AuditStore{db: tx}
}

func (s *AuditStore) Insert(ctx context.Context, userID *uuid.UUID, action string, detail map[string]any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}

	query := `
		INSERT INTO audit_logs (id, user_id, action, detail, timestamp)
		VALUES ($1, $2, $3, $4, now())`

	if _, err := s.db.Exec(ctx, query, uuid.New(), userID, action, payload); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
