// Package directory manages districts and user accounts: the admin-facing
// side of the system. Mutations follow the same transaction-plus-audit
// shape as the chat lifecycle.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/apperr"
	"github.com/carelink-health/carelink/internal/audit"
	"github.com/carelink-health/carelink/internal/models"
	"github.com/carelink-health/carelink/internal/policy"
	"github.com/carelink-health/carelink/internal/repository"
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	db        TxBeginner
	districts repository.DistrictRepository
	users     repository.UserRepository
	chats     repository.ChatRepository
	recorder  *audit.Recorder
	logger    *zap.Logger
}

func NewService(
	db TxBeginner,
	districts repository.DistrictRepository,
	users repository.UserRepository,
	chats repository.ChatRepository,
	recorder *audit.Recorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:        db,
		districts: districts,
		users:     users,
		chats:     chats,
		recorder:  recorder,
		logger:    logger,
	}
}

func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListDistricts is open to every authenticated user — patients browse it to
// pick where to open a request.
func (s *Service) ListDistricts(ctx context.Context) ([]models.District, error) {
	return s.districts.List(ctx)
}

func (s *Service) CreateDistrict(ctx context.Context, actor policy.Actor, name, address, contactInfo string) (*models.District, error) {
	if actor.Role != models.RoleAdmin {
		return nil, apperr.ErrForbidden
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: district name is required", apperr.ErrInvalidRequest)
	}

	var district *models.District
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		district, err = s.districts.WithTx(tx).Create(ctx, name, address, contactInfo)
		if err != nil {
			return err
		}
		return s.recorder.WithTx(tx).Record(ctx, actor.ID, audit.ActionDistrictCreated, map[string]any{
			"districtId": district.ID,
			"name":       district.Name,
		})
	})
	if err != nil {
		return nil, err
	}
	return district, nil
}

type DistrictUpdate = repository.DistrictUpdate

func (s *Service) UpdateDistrict(ctx context.Context, actor policy.Actor, id uuid.UUID, upd DistrictUpdate) (*models.District, error) {
	if actor.Role != models.RoleAdmin {
		return nil, apperr.ErrForbidden
	}
	if upd.Name == nil && upd.Address == nil && upd.ContactInfo == nil {
		return nil, fmt.Errorf("%w: no fields to update", apperr.ErrInvalidRequest)
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: district name cannot be empty", apperr.ErrInvalidRequest)
	}

	var district *models.District
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		district, err = s.districts.WithTx(tx).Update(ctx, id, upd)
		if err != nil {
			return err
		}
		if district == nil {
			return fmt.Errorf("%w: district", apperr.ErrNotFound)
		}
		return s.recorder.WithTx(tx).Record(ctx, actor.ID, audit.ActionDistrictUpdated, map[string]any{
			"districtId": district.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return district, nil
}

// DeleteDistrict refuses while any user or chat still references the
// district; the reference checks run inside the delete's transaction.
func (s *Service) DeleteDistrict(ctx context.Context, actor policy.Actor, id uuid.UUID) error {
	if actor.Role != models.RoleAdmin {
		return apperr.ErrForbidden
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		district, err := s.districts.WithTx(tx).GetByID(ctx, id)
		if err != nil {
			return err
		}
		if district == nil {
			return fmt.Errorf("%w: district", apperr.ErrNotFound)
		}

		if inUse, err := s.users.WithTx(tx).DistrictHasUsers(ctx, id); err != nil {
			return err
		} else if inUse {
			return fmt.Errorf("%w: district still has users", apperr.ErrConflict)
		}
		if inUse, err := s.chats.WithTx(tx).DistrictHasChats(ctx, id); err != nil {
			return err
		} else if inUse {
			return fmt.Errorf("%w: district still has chats", apperr.ErrConflict)
		}

		if err := s.districts.WithTx(tx).Delete(ctx, id); err != nil {
			return err
		}
		return s.recorder.WithTx(tx).Record(ctx, actor.ID, audit.ActionDistrictDeleted, map[string]any{
			"districtId": id,
			"name":       district.Name,
		})
	})
}

// GetUser returns a single user row.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user", apperr.ErrNotFound)
	}
	return user, nil
}

// ListUsers is the admin console listing, joined with district names.
func (s *Service) ListUsers(ctx context.Context, actor policy.Actor, role *models.Role) ([]repository.UserWithDistrict, error) {
	if actor.Role != models.RoleAdmin {
		return nil, apperr.ErrForbidden
	}
	if role != nil && !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidRequest, *role)
	}
	return s.users.List(ctx, role)
}

// CreateUserParams is the admin provisioning input.
type CreateUserParams struct {
	Email      string
	Name       string
	Role       models.Role
	DistrictID *uuid.UUID
}

// CreateUser provisions an account ahead of the person's first login. The
// row stays unverified, with a placeholder subject, until the OAuth
// callback adopts it by email. If the email already belongs to a patient
// and the request provisions a healthcare worker, the existing account is
// promoted in place instead.
func (s *Service) CreateUser(ctx context.Context, actor policy.Actor, params CreateUserParams) (*models.User, error) {
	if actor.Role != models.RoleAdmin {
		return nil, apperr.ErrForbidden
	}
	params.Email = strings.TrimSpace(strings.ToLower(params.Email))
	if params.Email == "" {
		return nil, fmt.Errorf("%w: email is required", apperr.ErrInvalidRequest)
	}
	if !params.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidRequest, params.Role)
	}
	if params.Role == models.RoleHealthcareWorker && params.DistrictID == nil {
		return nil, fmt.Errorf("%w: healthcare worker needs a district", apperr.ErrInvalidRequest)
	}

	existing, err := s.users.GetByEmail(ctx, params.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Role == models.RolePatient && params.Role == models.RoleHealthcareWorker {
			return s.promote(ctx, actor, existing, params.DistrictID)
		}
		return nil, fmt.Errorf("%w: email already registered", apperr.ErrConflict)
	}

	var user *models.User
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		user, err = s.users.WithTx(tx).Create(ctx, repository.CreateUserParams{
			Email:      params.Email,
			Name:       params.Name,
			Role:       params.Role,
			DistrictID: params.DistrictID,
			Subject:    "pending:" + uuid.NewString(),
		})
		if err != nil {
			// The email check above runs before this transaction, so a
			// concurrent provision of the same address lands on the unique
			// index instead.
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: email already registered", apperr.ErrConflict)
			}
			return err
		}
		return s.recorder.WithTx(tx).Record(ctx, actor.ID, audit.ActionUserCreated, map[string]any{
			"userId": user.ID,
			"email":  user.Email,
			"role":   user.Role,
		})
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) promote(ctx context.Context, actor policy.Actor, user *models.User, districtID *uuid.UUID) (*models.User, error) {
	role := models.RoleHealthcareWorker
	var promoted *models.User
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		promoted, err = s.users.WithTx(tx).Update(ctx, user.ID, repository.UserUpdate{
			Role:        &role,
			DistrictID:  districtID,
			SetDistrict: true,
		})
		if err != nil {
			return err
		}
		return s.recorder.WithTx(tx).Record(ctx, actor.ID, audit.ActionUserPromoted, map[string]any{
			"userId": user.ID,
			"from":   user.Role,
			"to":     role,
		})
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// UserUpdate is the admin mutation surface for a user row.
type UserUpdate struct {
	Name        *string
	Role        *models.Role
	DistrictID  *uuid.UUID
	SetDistrict bool
}

func (s *Service) UpdateUser(ctx context.Context, actor policy.Actor, id uuid.UUID, upd UserUpdate) (*models.User, error) {
	if actor.Role != models.RoleAdmin {
		return nil, apperr.ErrForbidden
	}
	if upd.Name == nil && upd.Role == nil && !upd.SetDistrict {
		return nil, fmt.Errorf("%w: no fields to update", apperr.ErrInvalidRequest)
	}
	if upd.Role != nil && !upd.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidRequest, *upd.Role)
	}

	var user *models.User
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		user, err = s.users.WithTx(tx).Update(ctx, id, repository.UserUpdate{
			Name:        upd.Name,
			Role:        upd.Role,
			DistrictID:  upd.DistrictID,
			SetDistrict: upd.SetDistrict,
		})
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("%w: user", apperr.ErrNotFound)
		}
		return s.recorder.WithTx(tx).Record(ctx, actor.ID, audit.ActionUserUpdated, map[string]any{
			"userId": user.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateSelf lets a user change their own profile. Workers may move
// themselves between districts; role changes are admin-only. A district
// move re-routes which queue the worker serves, so it is audited like the
// admin mutations.
func (s *Service) UpdateSelf(ctx context.Context, actor policy.Actor, name *string, districtID *uuid.UUID) (*models.User, error) {
	upd := repository.UserUpdate{Name: name}
	if districtID != nil {
		if actor.Role != models.RoleHealthcareWorker {
			return nil, fmt.Errorf("%w: only healthcare workers carry a district", apperr.ErrInvalidRequest)
		}
		district, err := s.districts.GetByID(ctx, *districtID)
		if err != nil {
			return nil, err
		}
		if district == nil {
			return nil, fmt.Errorf("%w: district", apperr.ErrNotFound)
		}
		upd.DistrictID = districtID
		upd.SetDistrict = true
	}
	if upd.Name == nil && !upd.SetDistrict {
		return nil, fmt.Errorf("%w: no fields to update", apperr.ErrInvalidRequest)
	}

	var user *models.User
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		user, err = s.users.WithTx(tx).Update(ctx, actor.ID, upd)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("%w: user", apperr.ErrNotFound)
		}
		detail := map[string]any{"userId": user.ID, "self": true}
		if upd.SetDistrict {
			detail["districtId"] = *districtID
		}
		return s.recorder.WithTx(tx).Record(ctx, actor.ID, audit.ActionUserUpdated, detail)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// isUniqueViolation reports whether err is Postgres error 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// DeleteUser removes an account. Admin accounts are never deletable through
// the API, and a worker with assigned chats must be unassigned first — the
// chat history's worker reference has to stay resolvable.
func (s *Service) DeleteUser(ctx context.Context, actor policy.Actor, id uuid.UUID) error {
	if actor.Role != models.RoleAdmin {
		return apperr.ErrForbidden
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		user, err := s.users.WithTx(tx).GetByID(ctx, id)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("%w: user", apperr.ErrNotFound)
		}
		if user.Role == models.RoleAdmin {
			return fmt.Errorf("%w: admin accounts cannot be deleted", apperr.ErrConflict)
		}
		if user.Role == models.RoleHealthcareWorker {
			if assigned, err := s.chats.WithTx(tx).WorkerHasAssignedChats(ctx, id); err != nil {
				return err
			} else if assigned {
				return fmt.Errorf("%w: worker still has assigned chats", apperr.ErrConflict)
			}
		}

		if err := s.users.WithTx(tx).Delete(ctx, id); err != nil {
			return err
		}
		return s.recorder.WithTx(tx).Record(ctx, actor.ID, audit.ActionUserDeleted, map[string]any{
			"userId": id,
			"email":  user.Email,
			"role":   user.Role,
		})
	})
}
