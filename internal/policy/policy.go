// Package policy is the single access-control decision point. Every
// read/write on a chat and every realtime subscription is authorized here
// and nowhere else. All functions are pure: they operate on in-memory
// actor/chat snapshots and never touch storage, so they can be evaluated
// (and tested) without a database.
package policy

import (
	"github.com/google/uuid"

	"github.com/carelink-health/carelink/internal/models"
)

// Actor is the identity a decision is made for. It is a snapshot of the
// session user — handlers resolve it once per request and pass it down.
type Actor struct {
	ID         uuid.UUID
	Role       models.Role
	DistrictID *uuid.UUID
}

// Config carries the tunable policy knobs.
type Config struct {
	// ClosedChatSends permits sending messages on a closed chat. The
	// product intent here is ambiguous (a patient following up on a closed
	// request is arguably legitimate), so it is a switch rather than a
	// rule baked into CanSend.
	ClosedChatSends bool
}

// Evaluator answers allow/deny for (actor, resource, action) triples.
type Evaluator struct {
	cfg Config
}

func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// inDistrict reports whether the actor is a healthcare worker bound to the
// chat's district. Workers without a district match nothing.
func inDistrict(actor Actor, chat *models.Chat) bool {
	return actor.Role == models.RoleHealthcareWorker &&
		actor.DistrictID != nil &&
		*actor.DistrictID == chat.DistrictID
}

// CanAccess reports whether the actor may read the chat and its messages.
//
// Precedence: admin sees everything; a patient sees their own chats; a
// worker sees every chat in their district (the queue view requires
// district-wide visibility, not just assigned chats).
func (e *Evaluator) CanAccess(actor Actor, chat *models.Chat) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RolePatient:
		return actor.ID == chat.PatientID
	case models.RoleHealthcareWorker:
		return inDistrict(actor, chat)
	}
	return false
}

// CanUpdate reports whether the actor may change the chat's status.
// Patients never update; they only create and converse.
func (e *Evaluator) CanUpdate(actor Actor, chat *models.Chat) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleHealthcareWorker:
		return inDistrict(actor, chat)
	}
	return false
}

// CanSend reports whether the actor may post a message to the chat.
//
// Sending is participation, not administration: an admin is not a chat
// participant and is deliberately denied here unless they happen to be the
// patient or the assigned worker. A worker may send when assigned or when
// the chat is in their district — district match keeps the queue workable
// before assignment and allows colleagues to chip in afterwards.
func (e *Evaluator) CanSend(actor Actor, chat *models.Chat) bool {
	if chat.Status == models.ChatClosed && !e.cfg.ClosedChatSends {
		return false
	}
	if actor.ID == chat.PatientID {
		return true
	}
	if actor.Role == models.RoleHealthcareWorker {
		if chat.AssignedWorkerID != nil && *chat.AssignedWorkerID == actor.ID {
			return true
		}
		return inDistrict(actor, chat)
	}
	return false
}

// CanSubscribeQueue reports whether the actor may subscribe to a district's
// queue channel: only workers, and only their own district. The district id
// is compared against the session identity, never taken from the request.
func (e *Evaluator) CanSubscribeQueue(actor Actor, districtID uuid.UUID) bool {
	return actor.Role == models.RoleHealthcareWorker &&
		actor.DistrictID != nil &&
		*actor.DistrictID == districtID
}

// CanAccessFile reports whether the actor may download a stored file. Files
// attached to a chat follow the chat's access rule plus the uploader; files
// outside any chat are owner-or-admin only.
func (e *Evaluator) CanAccessFile(actor Actor, file *models.File, chat *models.Chat) bool {
	if file.ChatID == nil {
		return actor.ID == file.OwnerID || actor.Role == models.RoleAdmin
	}
	if chat == nil {
		return false
	}
	return actor.ID == file.OwnerID || e.CanAccess(actor, chat)
}
