package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink-health/carelink/internal/models"
	"github.com/carelink-health/carelink/internal/repository"
)

const userColumns = `id, email, name, role, district_id, subject, avatar, verified, created_at`

type UserStore struct {
	db Querier
}

func NewUserStore(db Querier) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) WithTx(tx pgx.Tx) repository.UserRepository {
	return &UserStore{db: tx}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.Role,
		&u.DistrictID,
		&u.Subject,
		&u.Avatar,
		&u.Verified,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserStore) Create(ctx context.Context, params repository.CreateUserParams) (*models.User, error) {
	query := `
		INSERT INTO users (id, email, name, role, district_id, subject, avatar, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRow(ctx, query,
		uuid.New(),
		params.Email,
		params.Name,
		params.Role,
		params.DistrictID,
		params.Subject,
		params.Avatar,
		params.Verified,
	))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *UserStore) GetBySubject(ctx context.Context, subject string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE subject = $1`, subject))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by subject: %w", err)
	}
	return user, nil
}

func (s *UserStore) List(ctx context.Context, role *models.Role) ([]repository.UserWithDistrict, error) {
	query := `
		SELECT u.id, u.email, u.name, u.role, u.district_id, u.subject, u.avatar, u.verified, u.created_at, d.name
		FROM users u
		LEFT JOIN districts d ON u.district_id = d.id`
	var args []any

	if role != nil {
		query += ` WHERE u.role = $1`
		args = append(args, *role)
	}
	query += ` ORDER BY u.created_at, u.id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]repository.UserWithDistrict, 0)
	for rows.Next() {
		var u repository.UserWithDistrict
		if err := rows.Scan(
			&u.ID,
			&u.Email,
			&u.Name,
			&u.Role,
			&u.DistrictID,
			&u.Subject,
			&u.Avatar,
			&u.Verified,
			&u.CreatedAt,
			&u.DistrictName,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func (s *UserStore) Update(ctx context.Context, id uuid.UUID, upd repository.UserUpdate) (*models.User, error) {
	var sets []string
	var args []any

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if upd.Name != nil {
		addSet("name", *upd.Name)
	}
	if upd.Role != nil {
		addSet("role", *upd.Role)
	}
	if upd.SetDistrict {
		addSet("district_id", upd.DistrictID)
	}
	if upd.Verified != nil {
		addSet("verified", *upd.Verified)
	}
	if upd.Subject != nil {
		addSet("subject", *upd.Subject)
	}
	if upd.Avatar != nil {
		addSet("avatar", *upd.Avatar)
	}
	if len(sets) == 0 {
		return s.GetByID(ctx, id)
	}

	args = append(args, id)
	query := "UPDATE users SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = $" + strconv.Itoa(len(args)) + " RETURNING " + userColumns

	user, err := scanUser(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (s *UserStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *UserStore) DistrictHasUsers(ctx context.Context, districtID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE district_id = $1)`

	var exists bool
	if err := s.db.QueryRow(ctx, query, districtID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check district users: %w", err)
	}
	return exists, nil
}
