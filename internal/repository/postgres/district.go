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

const districtColumns = `id, name, address, contact_info, created_at`

type DistrictStore struct {
	db Querier
}

func NewDistrictStore(db Querier) *DistrictStore {
	return &DistrictStore{db: db}
}

func (s *DistrictStore) WithTx(tx pgx.Tx) repository.DistrictRepository {
	return &DistrictStore{db: tx}
}

func scanDistrict(row pgx.Row) (*models.District, error) {
	var d models.District
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Address,
		&d.ContactInfo,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DistrictStore) Create(ctx context.Context, name, address, contactInfo string) (*models.District, error) {
	query := `
		INSERT INTO districts (id, name, address, contact_info, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING ` + districtColumns

	district, err := scanDistrict(s.db.QueryRow(ctx, query, uuid.New(), name, address, contactInfo))
	if err != nil {
		return nil, fmt.Errorf("insert district: %w", err)
	}
	return district, nil
}

func (s *DistrictStore) GetByID(ctx context.Context, id uuid.UUID) (*models.District, error) {
	district, err := scanDistrict(s.db.QueryRow(ctx, `SELECT `+districtColumns+` FROM districts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get district: %w", err)
	}
	return district, nil
}

func (s *DistrictStore) List(ctx context.Context) ([]models.District, error) {
	query := `SELECT ` + districtColumns + ` FROM districts ORDER BY name`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list districts: %w", err)
	}
	defer rows.Close()

	districts := make([]models.District, 0)
	for rows.Next() {
		district, err := scanDistrict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan district: %w", err)
		}
		districts = append(districts, *district)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate districts: %w", err)
	}

	return districts, nil
}

func (s *DistrictStore) Update(ctx context.Context, id uuid.UUID, upd repository.DistrictUpdate) (*models.District, error) {
	var sets []string
	var args []any

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if upd.Name != nil {
		addSet("name", *upd.Name)
	}
	if upd.Address != nil {
		addSet("address", *upd.Address)
	}
	if upd.ContactInfo != nil {
		addSet("contact_info", *upd.ContactInfo)
	}
	if len(sets) == 0 {
		return s.GetByID(ctx, id)
	}

	args = append(args, id)
	query := "UPDATE districts SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = $" + strconv.Itoa(len(args)) + " RETURNING " + districtColumns

	district, err := scanDistrict(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update district: %w", err)
	}
	return district, nil
}

func (s *DistrictStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM districts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete district: %w", err)
	}
	return nil
}
