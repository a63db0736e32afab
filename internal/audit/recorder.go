// Package audit appends the forensic trail of privileged mutations.
package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/repository"
)

// Audit actions. Kept as a closed list so the trail stays queryable.
const (
	ActionChatCreated     = "chat_created"
	ActionChatUpdated     = "chat_updated"
	ActionChatAssigned    = "chat_assigned"
	ActionUserCreated     = "user_created"
	ActionUserUpdated     = "user_updated"
	ActionUserPromoted    = "user_promoted"
	ActionUserDeleted     = "user_deleted"
	ActionDistrictCreated = "district_created"
	ActionDistrictUpdated = "district_updated"
	ActionDistrictDeleted = "district_deleted"
	ActionFileUploaded    = "file_uploaded"
)

// Recorder writes audit entries. For state-machine mutations the entry must
// commit in the same transaction as the change it describes — use WithTx
// and propagate Record's error so the whole operation aborts together. For
// peripheral writes (file uploads) Try logs a failure instead of surfacing
// it to the caller.
type Recorder struct {
	repo   repository.AuditRepository
	logger *zap.Logger
}

func NewRecorder(repo repository.AuditRepository, logger *zap.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

func (r *Recorder) WithTx(tx pgx.Tx) *Recorder {
	return &Recorder{repo: r.repo.WithTx(tx), logger: r.logger}
}

func (r *Recorder) Record(ctx context.Context, actorID uuid.UUID, action string, detail map[string]any) error {
	return r.repo.Insert(ctx, &actorID, action, detail)
}

// Try records best-effort: an audit failure outside a transactional unit is
// observed in the logs, not propagated as a user-facing error.
func (r *Recorder) Try(ctx context.Context, actorID uuid.UUID, action string, detail map[string]any) {
	if err := r.Record(ctx, actorID, action, detail); err != nil {
		r.logger.Error("audit write failed",
			zap.String("action", action),
			zap.String("actor_id", actorID.String()),
			zap.Error(err),
		)
	}
}
