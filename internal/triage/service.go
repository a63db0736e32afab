// Package triage owns the chat lifecycle: creation into the district queue,
// claim/assignment, closing, and message ingress. Every mutation follows
// the same shape — authorize against the policy evaluator, apply the state
// change and its audit entry in one transaction, and publish events only
// after the transaction commits.
package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/apperr"
	"github.com/carelink-health/carelink/internal/audit"
	"github.com/carelink-health/carelink/internal/events"
	"github.com/carelink-health/carelink/internal/models"
	"github.com/carelink-health/carelink/internal/policy"
	"github.com/carelink-health/carelink/internal/repository"
)

// TxBeginner is satisfied by *pgxpool.Pool. Tests substitute a stub.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	db        TxBeginner
	chats     repository.ChatRepository
	messages  repository.MessageRepository
	districts repository.DistrictRepository
	users     repository.UserRepository
	eval      *policy.Evaluator
	recorder  *audit.Recorder
	publisher events.Publisher
	logger    *zap.Logger
}

func NewService(
	db TxBeginner,
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	districts repository.DistrictRepository,
	users repository.UserRepository,
	eval *policy.Evaluator,
	recorder *audit.Recorder,
	publisher events.Publisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:        db,
		chats:     chats,
		messages:  messages,
		districts: districts,
		users:     users,
		eval:      eval,
		recorder:  recorder,
		publisher: publisher,
		logger:    logger,
	}
}

// inTx runs fn inside a transaction, committing on nil and rolling back on
// error. Events must not be published from inside fn — a rollback would
// leave peers told about state that never existed.
func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateChat opens a request against a district. The chat starts queued and
// unassigned; the district's workers learn about it on their queue channel.
func (s *Service) CreateChat(ctx context.Context, actor policy.Actor, districtID uuid.UUID, initialDescription string) (*models.Chat, error) {
	if initialDescription == "" {
		return nil, fmt.Errorf("%w: initial description is required", apperr.ErrInvalidRequest)
	}

	district, err := s.districts.GetByID(ctx, districtID)
	if err != nil {
		return nil, err
	}
	if district == nil {
		return nil, fmt.Errorf("%w: district", apperr.ErrNotFound)
	}

	var chat *models.Chat
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		chat, err = s.chats.WithTx(tx).Create(ctx, districtID, actor.ID, initialDescription)
		if err != nil {
			return err
		}
		return s.recorder.WithTx(tx).Record(ctx, actor.ID, audit.ActionChatCreated, map[string]any{
			"chatId":     chat.ID,
			"districtId": districtID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(events.DistrictQueueChannel(districtID), events.NewEvent(events.TypeNewChat, chat))
	return chat, nil
}

// ChatUpdate carries the PATCH surface. Only status changes exist in this
// core; an update with nothing set is rejected rather than silently
// accepted.
type ChatUpdate struct {
	Status *models.ChatStatus
}

// UpdateChat applies a status transition. The machine is strict:
// queued → active (a worker taking it claims it, an admin just activates),
// anything non-terminal → closed. closed is terminal, and "queued" is never
// a valid target. The conditional writes in the chat store arbitrate races:
// the loser of two concurrent claims gets a conflict, never a dual
// assignment.
func (s *Service) UpdateChat(ctx context.Context, actor policy.Actor, chatID uuid.UUID, upd ChatUpdate) (*models.Chat, error) {
	if upd.Status == nil {
		return nil, fmt.Errorf("%w: no fields to update", apperr.ErrInvalidRequest)
	}
	if !upd.Status.Valid() || *upd.Status == models.ChatQueued {
		return nil, fmt.Errorf("%w: unsupported status %q", apperr.ErrInvalidRequest, *upd.Status)
	}

	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, fmt.Errorf("%w: chat", apperr.ErrNotFound)
	}
	if !s.eval.CanUpdate(actor, chat) {
		return nil, apperr.ErrForbidden
	}

	var updated *models.Chat
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		chats := s.chats.WithTx(tx)
		changes := map[string]any{}

		switch *upd.Status {
		case models.ChatActive:
			if actor.Role == models.RoleHealthcareWorker {
				// Taking a queued chat assigns it to the taker. This is
				// the only explicit path that sets assignedWorkerId.
				updated, err = chats.Claim(ctx, chatID, actor.ID)
				if updated != nil {
					changes["assignedWorkerId"] = actor.ID
				}
			} else {
				updated, err = chats.Activate(ctx, chatID)
			}
			changes["status"] = models.ChatActive
		case models.ChatClosed:
			now := time.Now().UTC()
			updated, err = chats.Close(ctx, chatID, now)
			changes["status"] = models.ChatClosed
			changes["closedAt"] = now
		}
		if err != nil {
			return err
		}
		if updated == nil {
			// The conditional write matched nothing: the chat moved on
			// between our read and the update (claimed by someone else,
			// or already closed).
			return fmt.Errorf("%w: chat is not in a state that allows this transition", apperr.ErrConflict)
		}

		return s.recorder.WithTx(tx).Record(ctx, actor.ID, audit.ActionChatUpdated, map[string]any{
			"chatId":  chatID,
			"changes": changes,
		})
	})
	if err != nil {
		return nil, err
	}

	// Queue views watch for chats leaving queued, chat views for status
	// changes — both channels get the update.
	event := events.NewEvent(events.TypeChatUpdated, updated)
	s.publisher.Publish(events.ChatChannel(chatID), event)
	s.publisher.Publish(events.DistrictQueueChannel(updated.DistrictID), event)

	return updated, nil
}

// PostMessage appends a message to a chat. A healthcare worker messaging an
// unassigned queued chat claims it in the same transaction — first
// responder wins. Assignment and message are one unit: if the insert fails,
// the claim rolls back with it.
func (s *Service) PostMessage(ctx context.Context, actor policy.Actor, chatID uuid.UUID, body string, attachments []string) (*models.Message, error) {
	if body == "" {
		return nil, fmt.Errorf("%w: message body is required", apperr.ErrInvalidRequest)
	}

	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, fmt.Errorf("%w: chat", apperr.ErrNotFound)
	}
	if !s.eval.CanSend(actor, chat) {
		return nil, apperr.ErrForbidden
	}

	var (
		message *models.Message
		claimed *models.Chat
	)
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if actor.Role == models.RoleHealthcareWorker && chat.AssignedWorkerID == nil && chat.Status == models.ChatQueued {
			claimed, err = s.chats.WithTx(tx).Claim(ctx, chatID, actor.ID)
			if err != nil {
				return err
			}
			// A nil result means another worker got there between our
			// read and this write. That is fine: the chat is active and
			// district membership still lets this actor send.
			if claimed != nil {
				if err := s.recorder.WithTx(tx).Record(ctx, actor.ID, audit.ActionChatAssigned, map[string]any{
					"chatId":   chatID,
					"workerId": actor.ID,
				}); err != nil {
					return err
				}
			}
		}

		message, err = s.messages.WithTx(tx).Create(ctx, chatID, actor.ID, body, attachments)
		return err
	})
	if err != nil {
		return nil, err
	}

	if claimed != nil {
		event := events.NewEvent(events.TypeChatUpdated, claimed)
		s.publisher.Publish(events.ChatChannel(chatID), event)
		s.publisher.Publish(events.DistrictQueueChannel(claimed.DistrictID), event)
	}
	s.publisher.Publish(events.ChatChannel(chatID), events.NewEvent(events.TypeNewMessage, message))

	return message, nil
}

// ChatSummary is a listing row enriched with the people a queue or history
// view renders next to it.
type ChatSummary struct {
	models.Chat
	Patient  *models.User     `json:"patient"`
	District *models.District `json:"district"`
}

// MessageWithSender pairs a message with its sender's user record.
type MessageWithSender struct {
	models.Message
	Sender *models.User `json:"sender"`
}

// ChatDetail is the full conversation view.
type ChatDetail struct {
	models.Chat
	District       *models.District    `json:"district"`
	Patient        *models.User        `json:"patient"`
	AssignedWorker *models.User        `json:"assignedWorker"`
	Messages       []MessageWithSender `json:"messages"`
}

// ListChatsQuery narrows a listing; which filters apply depends on role.
type ListChatsQuery struct {
	Status     *models.ChatStatus
	DistrictID *uuid.UUID
}

// ListChats returns the chats the actor is allowed to see. Workers get
// their district's view — and for active/closed filters, only chats
// assigned to them, so "my conversations" and "the shared queue" stay
// distinct. Patients get their own chats; admins everything.
func (s *Service) ListChats(ctx context.Context, actor policy.Actor, q ListChatsQuery) ([]ChatSummary, error) {
	filter := repository.ChatFilter{Status: q.Status}

	switch actor.Role {
	case models.RoleHealthcareWorker:
		if actor.DistrictID == nil {
			return nil, fmt.Errorf("%w: healthcare worker must be assigned to a district", apperr.ErrInvalidRequest)
		}
		filter.DistrictID = actor.DistrictID
		if q.Status != nil && (*q.Status == models.ChatActive || *q.Status == models.ChatClosed) {
			workerID := actor.ID
			filter.AssignedWorkerID = &workerID
		}
	case models.RolePatient:
		patientID := actor.ID
		filter.PatientID = &patientID
		filter.DistrictID = q.DistrictID
	case models.RoleAdmin:
		// Admins may scope by district but see everything by default.
		filter.DistrictID = q.DistrictID
	default:
		return nil, apperr.ErrForbidden
	}

	chats, err := s.chats.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	summaries := make([]ChatSummary, 0, len(chats))
	for _, chat := range chats {
		summary := ChatSummary{Chat: chat}
		if summary.Patient, err = s.users.GetByID(ctx, chat.PatientID); err != nil {
			return nil, err
		}
		if summary.District, err = s.districts.GetByID(ctx, chat.DistrictID); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// GetChat returns the chat with its full message thread, each message
// carrying its sender. Sender authorization is evaluated against current
// state on every call, not cached from subscription time.
func (s *Service) GetChat(ctx context.Context, actor policy.Actor, chatID uuid.UUID) (*ChatDetail, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, fmt.Errorf("%w: chat", apperr.ErrNotFound)
	}
	if !s.eval.CanAccess(actor, chat) {
		return nil, apperr.ErrForbidden
	}

	detail := &ChatDetail{Chat: *chat}
	if detail.District, err = s.districts.GetByID(ctx, chat.DistrictID); err != nil {
		return nil, err
	}
	if detail.Patient, err = s.users.GetByID(ctx, chat.PatientID); err != nil {
		return nil, err
	}
	if chat.AssignedWorkerID != nil {
		if detail.AssignedWorker, err = s.users.GetByID(ctx, *chat.AssignedWorkerID); err != nil {
			return nil, err
		}
	}

	messages, err := s.messages.ListByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	detail.Messages = make([]MessageWithSender, 0, len(messages))
	senders := map[uuid.UUID]*models.User{}
	for _, msg := range messages {
		sender, ok := senders[msg.SenderID]
		if !ok {
			if sender, err = s.users.GetByID(ctx, msg.SenderID); err != nil {
				return nil, err
			}
			senders[msg.SenderID] = sender
		}
		detail.Messages = append(detail.Messages, MessageWithSender{Message: msg, Sender: sender})
	}

	return detail, nil
}

// AuthorizeChatRead backs websocket chat subscriptions: same rule as
// reading the chat over HTTP, re-checked against persisted state at
// subscribe time.
func (s *Service) AuthorizeChatRead(ctx context.Context, actor policy.Actor, chatID uuid.UUID) error {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return err
	}
	if chat == nil {
		return fmt.Errorf("%w: chat", apperr.ErrNotFound)
	}
	if !s.eval.CanAccess(actor, chat) {
		return apperr.ErrForbidden
	}
	return nil
}

// GetChatSnapshot fetches a raw chat row for collaborators that run their
// own policy checks (file downloads).
func (s *Service) GetChatSnapshot(ctx context.Context, chatID uuid.UUID) (*models.Chat, error) {
	return s.chats.GetByID(ctx, chatID)
}
