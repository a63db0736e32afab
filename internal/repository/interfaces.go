package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink-health/carelink/internal/models"
)

// Mutating flows (chat transitions, message ingress) must write the state
// change and its audit entry as one unit, so every repository can be rebound
// to a transaction with WithTx. The returned value reads and writes through
// the transaction; the original keeps using the pool.

// ChatFilter narrows List. Nil fields are ignored.
type ChatFilter struct {
	DistrictID       *uuid.UUID
	PatientID        *uuid.UUID
	AssignedWorkerID *uuid.UUID
	Status           *models.ChatStatus
}

// ChatRepository owns chat rows. The state-transition methods are
// conditional writes: they return nil, nil when the precondition does not
// hold (row already claimed, already closed), which the service layer
// surfaces as a conflict. This is what serializes two workers racing for
// the same queued chat — exactly one UPDATE matches.
type ChatRepository interface {
	Create(ctx context.Context, districtID, patientID uuid.UUID, initialDescription string) (*models.Chat, error)

	// GetByID returns nil, nil if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error)

	// List returns chats matching the filter, oldest first.
	List(ctx context.Context, filter ChatFilter) ([]models.Chat, error)

	// Claim atomically assigns the chat to workerID and activates it,
	// only if it is still queued and unassigned.
	Claim(ctx context.Context, id, workerID uuid.UUID) (*models.Chat, error)

	// Activate moves a queued chat to active without assigning anyone
	// (the admin path — admins are not participants).
	Activate(ctx context.Context, id uuid.UUID) (*models.Chat, error)

	// Close moves any non-terminal chat to closed and stamps closedAt.
	Close(ctx context.Context, id uuid.UUID, at time.Time) (*models.Chat, error)

	// DistrictHasChats reports whether any chat references the district.
	DistrictHasChats(ctx context.Context, districtID uuid.UUID) (bool, error)

	// WorkerHasAssignedChats reports whether any chat is assigned to the worker.
	WorkerHasAssignedChats(ctx context.Context, workerID uuid.UUID) (bool, error)

	WithTx(tx pgx.Tx) ChatRepository
}

// MessageRepository handles chat message persistence.
type MessageRepository interface {
	Create(ctx context.Context, chatID, senderID uuid.UUID, body string, attachments []string) (*models.Message, error)

	// ListByChat returns the full thread ordered by creation time, with
	// insertion order breaking ties.
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]models.Message, error)

	WithTx(tx pgx.Tx) MessageRepository
}

// DistrictUpdate carries the mutable district fields; nil means unchanged.
type DistrictUpdate struct {
	Name        *string
	Address     *string
	ContactInfo *string
}

type DistrictRepository interface {
	Create(ctx context.Context, name, address, contactInfo string) (*models.District, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.District, error)

	// List returns all districts ordered by name. Patients browse this to
	// pick where to open a request.
	List(ctx context.Context) ([]models.District, error)

	Update(ctx context.Context, id uuid.UUID, upd DistrictUpdate) (*models.District, error)
	Delete(ctx context.Context, id uuid.UUID) error

	WithTx(tx pgx.Tx) DistrictRepository
}

// CreateUserParams is everything needed to insert a user row.
type CreateUserParams struct {
	Email      string
	Name       string
	Role       models.Role
	DistrictID *uuid.UUID
	Subject    string
	Avatar     string
	Verified   bool
}

// UserUpdate carries mutable user fields; nil means unchanged. SetDistrict
// distinguishes "leave the district alone" from "clear it".
type UserUpdate struct {
	Name        *string
	Role        *models.Role
	DistrictID  *uuid.UUID
	SetDistrict bool
	Verified    *bool
	Subject     *string
	Avatar      *string
}

// UserWithDistrict is the admin listing row: a user joined with the name of
// their district, when they have one.
type UserWithDistrict struct {
	models.User
	DistrictName *string `json:"districtName"`
}

type UserRepository interface {
	Create(ctx context.Context, params CreateUserParams) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetBySubject looks up a user by the identity provider's subject id.
	GetBySubject(ctx context.Context, subject string) (*models.User, error)

	// List returns users joined with district names, optionally filtered
	// by role.
	List(ctx context.Context, role *models.Role) ([]UserWithDistrict, error)

	Update(ctx context.Context, id uuid.UUID, upd UserUpdate) (*models.User, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// DistrictHasUsers reports whether any user references the district.
	DistrictHasUsers(ctx context.Context, districtID uuid.UUID) (bool, error)

	WithTx(tx pgx.Tx) UserRepository
}

// TaskFilter narrows a worker's task listing. Nil fields are ignored.
type TaskFilter struct {
	Status          *models.TaskStatus
	LinkedPatientID *uuid.UUID
	LinkedChatID    *uuid.UUID
}

// TaskUpdate carries mutable task fields; nil means unchanged.
type TaskUpdate struct {
	Title       *string
	Description *string
	DueAt       *time.Time
	SetDueAt    bool
	Priority    *models.TaskPriority
	Status      *models.TaskStatus
}

// TaskRepository is worker-scoped: every read and write carries the owning
// worker's id and matches nothing for anyone else.
type TaskRepository interface {
	Create(ctx context.Context, task models.Task) (*models.Task, error)
	GetByID(ctx context.Context, workerID, id uuid.UUID) (*models.Task, error)
	List(ctx context.Context, workerID uuid.UUID, filter TaskFilter) ([]models.Task, error)
	Update(ctx context.Context, workerID, id uuid.UUID, upd TaskUpdate) (*models.Task, error)
	Delete(ctx context.Context, workerID, id uuid.UUID) error
}

// AuditRepository is the append-only trail. There is no update or delete.
type AuditRepository interface {
	Insert(ctx context.Context, userID *uuid.UUID, action string, detail map[string]any) error
	WithTx(tx pgx.Tx) AuditRepository
}

// FileRepository stores attachment metadata; bytes live in the blob store.
type FileRepository interface {
	Create(ctx context.Context, file models.File) (*models.File, error)
	GetByPathname(ctx context.Context, pathname string) (*models.File, error)
}
