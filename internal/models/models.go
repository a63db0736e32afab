package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of user roles. Every authorization decision in the
// system goes through the policy package, which switches on this type —
// handlers never compare role strings themselves.
type Role string

const (
	RoleAdmin            Role = "admin"
	RoleHealthcareWorker Role = "healthcare_worker"
	RolePatient          Role = "patient"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHealthcareWorker, RolePatient:
		return true
	}
	return false
}

// ChatStatus is the chat lifecycle state: queued → active → closed.
// closed is terminal.
type ChatStatus string

const (
	ChatQueued ChatStatus = "queued"
	ChatActive ChatStatus = "active"
	ChatClosed ChatStatus = "closed"
)

func (s ChatStatus) Valid() bool {
	switch s {
	case ChatQueued, ChatActive, ChatClosed:
		return true
	}
	return false
}

// District is an administrative region. Healthcare workers belong to a
// district; patients open chats against one. A district cannot be deleted
// while any user or chat references it.
type District struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address,omitempty"`
	ContactInfo string    `json:"contactInfo,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// User is an identity established through the external OAuth provider (or
// pre-provisioned by an admin, unverified until first login). DistrictID is
// only meaningful for healthcare workers — a worker without a district
// cannot receive queue traffic.
type User struct {
	ID         uuid.UUID  `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Role       Role       `json:"role"`
	DistrictID *uuid.UUID `json:"districtId"`
	// Subject is the identity provider's stable subject id. Pre-provisioned
	// users carry a placeholder until their first OAuth login.
	Subject   string    `json:"-"`
	Avatar    string    `json:"avatar,omitempty"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}

// Chat is one triage conversation: one patient, one district, at most one
// assigned worker. DistrictID and PatientID are fixed at creation.
// AssignedWorkerID is set exactly once, by whichever worker claims the chat
// first, and never changes afterwards.
type Chat struct {
	ID                 uuid.UUID  `json:"id"`
	DistrictID         uuid.UUID  `json:"districtId"`
	PatientID          uuid.UUID  `json:"patientId"`
	AssignedWorkerID   *uuid.UUID `json:"assignedWorkerId"`
	Status             ChatStatus `json:"status"`
	InitialDescription string     `json:"initialDescription"`
	CreatedAt          time.Time  `json:"createdAt"`
	// ClosedAt is non-nil iff Status is closed.
	ClosedAt *time.Time `json:"closedAt"`
}

// Message is immutable once created. Attachments are blob-store pathnames;
// the binary lives in the blob store, only references travel with the chat.
type Message struct {
	ID          uuid.UUID `json:"id"`
	ChatID      uuid.UUID `json:"chatId"`
	SenderID    uuid.UUID `json:"senderId"`
	Body        string    `json:"body"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type TaskPriority string

const (
	TaskLow    TaskPriority = "low"
	TaskMedium TaskPriority = "medium"
	TaskHigh   TaskPriority = "high"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case TaskLow, TaskMedium, TaskHigh:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone:
		return true
	}
	return false
}

// Task is a worker-private to-do, optionally linked to a patient or chat.
// Only the creating worker can read or mutate it.
type Task struct {
	ID                uuid.UUID    `json:"id"`
	Title             string       `json:"title"`
	Description       string       `json:"description,omitempty"`
	DueAt             *time.Time   `json:"dueAt"`
	Priority          TaskPriority `json:"priority"`
	Status            TaskStatus   `json:"status"`
	LinkedPatientID   *uuid.UUID   `json:"linkedPatientId"`
	LinkedChatID      *uuid.UUID   `json:"linkedChatId"`
	CreatedByWorkerID uuid.UUID    `json:"createdByWorkerId"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// File is attachment metadata. The binary lives in the blob store under
// Pathname; ChatID is nil for files uploaded outside a chat (owner-private).
type File struct {
	ID        uuid.UUID  `json:"id"`
	OwnerID   uuid.UUID  `json:"ownerId"`
	ChatID    *uuid.UUID `json:"chatId"`
	Pathname  string     `json:"pathname"`
	Filename  string     `json:"filename"`
	MimeType  string     `json:"mimeType"`
	Size      int64      `json:"size"`
	CreatedAt time.Time  `json:"createdAt"`
}

// AuditLog is one append-only record of a privileged mutation. Detail is an
// opaque JSON payload describing what changed.
type AuditLog struct {
	ID        uuid.UUID      `json:"id"`
	UserID    *uuid.UUID     `json:"userId"`
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail"`
	Timestamp time.Time      `json:"timestamp"`
}
