package directory

import (
	"context"
	"errors"
	"testing"

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

type store struct {
	districts map[uuid.UUID]*models.District
	users     map[uuid.UUID]*models.User
	audits    []string

	workerChats   map[uuid.UUID]bool
	districtChats map[uuid.UUID]bool

	// createUserErr makes the next user insert fail, standing in for
	// database-level constraint violations.
	createUserErr error
}

func newStore() *store {
	return &store{
		districts:     map[uuid.UUID]*models.District{},
		users:         map[uuid.UUID]*models.User{},
		workerChats:   map[uuid.UUID]bool{},
		districtChats: map[uuid.UUID]bool{},
	}
}

type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeDB struct{}

func (fakeDB) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

type districtRepo struct{ s *store }

func (r *districtRepo) WithTx(pgx.Tx) repository.DistrictRepository { return r }

func (r *districtRepo) Create(_ context.Context, name, address, contactInfo string) (*models.District, error) {
	d := &models.District{ID: uuid.New(), Name: name, Address: address, ContactInfo: contactInfo}
	r.s.districts[d.ID] = d
	return d, nil
}

func (r *districtRepo) GetByID(_ context.Context, id uuid.UUID) (*models.District, error) {
	return r.s.districts[id], nil
}

func (r *districtRepo) List(context.Context) ([]models.District, error) {
	var out []models.District
	for _, d := range r.s.districts {
		out = append(out, *d)
	}
	return out, nil
}

func (r *districtRepo) Update(_ context.Context, id uuid.UUID, upd repository.DistrictUpdate) (*models.District, error) {
	d := r.s.districts[id]
	if d == nil {
		return nil, nil
	}
	if upd.Name != nil {
		d.Name = *upd.Name
	}
	return d, nil
}

func (r *districtRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.s.districts, id)
	return nil
}

type userRepo struct{ s *store }

func (r *userRepo) WithTx(pgx.Tx) repository.UserRepository { return r }

func (r *userRepo) Create(_ context.Context, params repository.CreateUserParams) (*models.User, error) {
	if r.s.createUserErr != nil {
		return nil, r.s.createUserErr
	}
	u := &models.User{
		ID:         uuid.New(),
		Email:      params.Email,
		Name:       params.Name,
		Role:       params.Role,
		DistrictID: params.DistrictID,
		Subject:    params.Subject,
		Verified:   params.Verified,
	}
	r.s.users[u.ID] = u
	return u, nil
}

func (r *userRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return r.s.users[id], nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range r.s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (r *userRepo) GetBySubject(context.Context, string) (*models.User, error) { return nil, nil }

func (r *userRepo) List(_ context.Context, role *models.Role) ([]repository.UserWithDistrict, error) {
	var out []repository.UserWithDistrict
	for _, u := range r.s.users {
		if role != nil && u.Role != *role {
			continue
		}
		out = append(out, repository.UserWithDistrict{User: *u})
	}
	return out, nil
}

func (r *userRepo) Update(_ context.Context, id uuid.UUID, upd repository.UserUpdate) (*models.User, error) {
	u := r.s.users[id]
	if u == nil {
		return nil, nil
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.SetDistrict {
		u.DistrictID = upd.DistrictID
	}
	if upd.Verified != nil {
		u.Verified = *upd.Verified
	}
	if upd.Subject != nil {
		u.Subject = *upd.Subject
	}
	return u, nil
}

func (r *userRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.s.users, id)
	return nil
}

func (r *userRepo) DistrictHasUsers(_ context.Context, districtID uuid.UUID) (bool, error) {
	for _, u := range r.s.users {
		if u.DistrictID != nil && *u.DistrictID == districtID {
			return true, nil
		}
	}
	return false, nil
}

// chatRepo only implements the reference guards the directory service uses.
type chatRepo struct {
	s *store
	repository.ChatRepository
}

func (r *chatRepo) WithTx(pgx.Tx) repository.ChatRepository { return r }

func (r *chatRepo) DistrictHasChats(_ context.Context, id uuid.UUID) (bool, error) {
	return r.s.districtChats[id], nil
}

func (r *chatRepo) WorkerHasAssignedChats(_ context.Context, id uuid.UUID) (bool, error) {
	return r.s.workerChats[id], nil
}

type auditRepo struct{ s *store }

func (r *auditRepo) WithTx(pgx.Tx) repository.AuditRepository { return r }

func (r *auditRepo) Insert(_ context.Context, _ *uuid.UUID, action string, _ map[string]any) error {
	r.s.audits = append(r.s.audits, action)
	return nil
}

func newService(s *store) *Service {
	return NewService(
		fakeDB{},
		&districtRepo{s},
		&userRepo{s},
		&chatRepo{s: s},
		audit.NewRecorder(&auditRepo{s}, zap.NewNop()),
		zap.NewNop(),
	)
}

var admin = policy.Actor{ID: uuid.New(), Role: models.RoleAdmin}

func TestCreateDistrict(t *testing.T) {
	s := newStore()
	svc := newService(s)
	ctx := context.Background()

	d, err := svc.CreateDistrict(ctx, admin, "North", "1 Main St", "north@example.com")
	if err != nil {
		t.Fatalf("CreateDistrict: %v", err)
	}
	if s.districts[d.ID] == nil {
		t.Error("district not persisted")
	}
	if len(s.audits) != 1 || s.audits[0] != audit.ActionDistrictCreated {
		t.Errorf("audits = %v, want [district_created]", s.audits)
	}

	if _, err := svc.CreateDistrict(ctx, admin, "  ", "", ""); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Errorf("blank name: err = %v, want ErrInvalidRequest", err)
	}
	worker := policy.Actor{ID: uuid.New(), Role: models.RoleHealthcareWorker}
	if _, err := svc.CreateDistrict(ctx, worker, "South", "", ""); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("non-admin create: err = %v, want ErrForbidden", err)
	}
}

func TestDeleteDistrictGuards(t *testing.T) {
	s := newStore()
	svc := newService(s)
	ctx := context.Background()

	d, _ := svc.CreateDistrict(ctx, admin, "North", "", "")

	// Blocked while a user references it.
	worker, _ := (&userRepo{s}).Create(ctx, repository.CreateUserParams{Email: "w@example.com", Role: models.RoleHealthcareWorker, DistrictID: &d.ID})
	if err := svc.DeleteDistrict(ctx, admin, d.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("delete with users: err = %v, want ErrConflict", err)
	}

	// Blocked while a chat references it.
	(&userRepo{s}).Delete(ctx, worker.ID)
	s.districtChats[d.ID] = true
	if err := svc.DeleteDistrict(ctx, admin, d.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("delete with chats: err = %v, want ErrConflict", err)
	}

	s.districtChats[d.ID] = false
	if err := svc.DeleteDistrict(ctx, admin, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.districts[d.ID] != nil {
		t.Error("district still present after delete")
	}
	if err := svc.DeleteDistrict(ctx, admin, d.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("delete missing: err = %v, want ErrNotFound", err)
	}
}

func TestCreateUserProvisioning(t *testing.T) {
	s := newStore()
	svc := newService(s)
	ctx := context.Background()

	d, _ := svc.CreateDistrict(ctx, admin, "North", "", "")

	u, err := svc.CreateUser(ctx, admin, CreateUserParams{
		Email:      "Nurse@Example.com",
		Name:       "Nurse",
		Role:       models.RoleHealthcareWorker,
		DistrictID: &d.ID,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Email != "nurse@example.com" {
		t.Errorf("email not normalized: %q", u.Email)
	}
	if u.Verified {
		t.Error("pre-provisioned user must start unverified")
	}
	if u.Subject == "" {
		t.Error("pre-provisioned user needs a placeholder subject")
	}

	// Same email again is a conflict.
	if _, err := svc.CreateUser(ctx, admin, CreateUserParams{Email: "nurse@example.com", Role: models.RoleHealthcareWorker, DistrictID: &d.ID}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("duplicate email: err = %v, want ErrConflict", err)
	}

	// Worker without district is invalid.
	if _, err := svc.CreateUser(ctx, admin, CreateUserParams{Email: "x@example.com", Role: models.RoleHealthcareWorker}); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Errorf("worker without district: err = %v, want ErrInvalidRequest", err)
	}
}

func TestCreateUserConcurrentDuplicateEmail(t *testing.T) {
	s := newStore()
	svc := newService(s)
	ctx := context.Background()

	d, _ := svc.CreateDistrict(ctx, admin, "North", "", "")

	// A racing provision can pass the email lookup and still lose on the
	// unique index; that must surface as a conflict, not an internal error.
	s.createUserErr = &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	if _, err := svc.CreateUser(ctx, admin, CreateUserParams{
		Email:      "nurse@example.com",
		Role:       models.RoleHealthcareWorker,
		DistrictID: &d.ID,
	}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("unique violation on insert: err = %v, want ErrConflict", err)
	}

	// Other insert failures pass through unmapped.
	s.createUserErr = &pgconn.PgError{Code: "23503"}
	if _, err := svc.CreateUser(ctx, admin, CreateUserParams{
		Email:      "nurse@example.com",
		Role:       models.RoleHealthcareWorker,
		DistrictID: &d.ID,
	}); errors.Is(err, apperr.ErrConflict) {
		t.Errorf("foreign key violation mapped to ErrConflict: %v", err)
	}
}

func TestCreateUserPromotesExistingPatient(t *testing.T) {
	s := newStore()
	svc := newService(s)
	ctx := context.Background()

	d, _ := svc.CreateDistrict(ctx, admin, "North", "", "")
	patient, _ := (&userRepo{s}).Create(ctx, repository.CreateUserParams{Email: "pat@example.com", Role: models.RolePatient, Verified: true})

	promoted, err := svc.CreateUser(ctx, admin, CreateUserParams{
		Email:      "pat@example.com",
		Role:       models.RoleHealthcareWorker,
		DistrictID: &d.ID,
	})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promoted.ID != patient.ID {
		t.Error("promotion must reuse the existing account")
	}
	if promoted.Role != models.RoleHealthcareWorker || promoted.DistrictID == nil || *promoted.DistrictID != d.ID {
		t.Errorf("promotion result: %+v", promoted)
	}

	found := false
	for _, a := range s.audits {
		if a == audit.ActionUserPromoted {
			found = true
		}
	}
	if !found {
		t.Errorf("audits = %v, want user_promoted present", s.audits)
	}
}

func TestDeleteUserGuards(t *testing.T) {
	s := newStore()
	svc := newService(s)
	ctx := context.Background()

	users := &userRepo{s}
	adminUser, _ := users.Create(ctx, repository.CreateUserParams{Email: "a@example.com", Role: models.RoleAdmin})
	worker, _ := users.Create(ctx, repository.CreateUserParams{Email: "w@example.com", Role: models.RoleHealthcareWorker})
	patient, _ := users.Create(ctx, repository.CreateUserParams{Email: "p@example.com", Role: models.RolePatient})

	if err := svc.DeleteUser(ctx, admin, adminUser.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("delete admin: err = %v, want ErrConflict", err)
	}

	s.workerChats[worker.ID] = true
	if err := svc.DeleteUser(ctx, admin, worker.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("delete assigned worker: err = %v, want ErrConflict", err)
	}
	s.workerChats[worker.ID] = false
	if err := svc.DeleteUser(ctx, admin, worker.ID); err != nil {
		t.Errorf("delete unassigned worker: %v", err)
	}

	if err := svc.DeleteUser(ctx, policy.Actor{ID: patient.ID, Role: patient.Role}, patient.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("self-delete by patient: err = %v, want ErrForbidden", err)
	}
	if err := svc.DeleteUser(ctx, admin, patient.ID); err != nil {
		t.Errorf("delete patient: %v", err)
	}
}

func TestUpdateSelf(t *testing.T) {
	s := newStore()
	svc := newService(s)
	ctx := context.Background()

	users := &userRepo{s}
	d, _ := svc.CreateDistrict(ctx, admin, "North", "", "")
	worker, _ := users.Create(ctx, repository.CreateUserParams{Email: "w@example.com", Role: models.RoleHealthcareWorker})
	patient, _ := users.Create(ctx, repository.CreateUserParams{Email: "p@example.com", Role: models.RolePatient})

	got, err := svc.UpdateSelf(ctx, policy.Actor{ID: worker.ID, Role: worker.Role}, nil, &d.ID)
	if err != nil {
		t.Fatalf("worker district move: %v", err)
	}
	if got.DistrictID == nil || *got.DistrictID != d.ID {
		t.Errorf("district not updated: %+v", got)
	}
	// A district move re-routes the worker's queue; it must leave a trail.
	found := false
	for _, a := range s.audits {
		if a == audit.ActionUserUpdated {
			found = true
		}
	}
	if !found {
		t.Errorf("audits = %v, want user_updated present", s.audits)
	}

	bogus := uuid.New()
	if _, err := svc.UpdateSelf(ctx, policy.Actor{ID: worker.ID, Role: worker.Role}, nil, &bogus); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("move to unknown district: err = %v, want ErrNotFound", err)
	}

	if _, err := svc.UpdateSelf(ctx, policy.Actor{ID: patient.ID, Role: patient.Role}, nil, &d.ID); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Errorf("patient district move: err = %v, want ErrInvalidRequest", err)
	}

	name := "New Name"
	if got, err := svc.UpdateSelf(ctx, policy.Actor{ID: patient.ID, Role: patient.Role}, &name, nil); err != nil || got.Name != "New Name" {
		t.Errorf("rename: got %+v, err %v", got, err)
	}

	if _, err := svc.UpdateSelf(ctx, policy.Actor{ID: patient.ID, Role: patient.Role}, nil, nil); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Errorf("empty self-update: err = %v, want ErrInvalidRequest", err)
	}
}
